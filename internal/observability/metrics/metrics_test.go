package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserversUpdateCounters(t *testing.T) {
	c := New()

	c.ObserveLookup("exact")
	c.ObserveLookup("exact")
	c.ObserveLookup("fallback")
	c.ObserveStage("market", 2*time.Second, nil)
	c.ObserveStage("market", time.Second, errors.New("llm down"))
	c.ObserveTool("Knowledge Base Query Tool", time.Millisecond, nil)
	c.ObserveTool("Research Tool", time.Millisecond, errors.New("timeout"))
	c.ObserveRunOutcome("succeeded", time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.lookups.WithLabelValues("exact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("market")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCalls.WithLabelValues("Research Tool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolErrors.WithLabelValues("Research Tool")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.toolErrors.WithLabelValues("Knowledge Base Query Tool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runOutcomes.WithLabelValues("succeeded")))
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	c := New()
	handler := c.Middleware("runs", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("runs", http.MethodPost, "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpErrors.WithLabelValues("runs", http.MethodPost)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ObserveLookup("industry")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `salesintel_knowledge_lookups_total{tier="industry"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveLookup("exact")
	c.ObserveRunOutcome("failed", time.Second)
	next := http.NotFoundHandler()
	assert.NotNil(t, c.Middleware("x", next))
}
