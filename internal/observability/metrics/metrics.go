// Package metrics exposes Prometheus collectors for the HTTP surface, the
// knowledge engine, pipeline stages, tool calls and queued run outcomes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "salesintel"

// Collector owns a private registry so tests and multiple servers never share state.
type Collector struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpErrors    *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	lookups       *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolErrors    *prometheus.CounterVec
	runOutcomes   *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_lookups_total",
			Help:      "Knowledge base lookups grouped by the tier that answered them.",
		}, []string{"tier"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline stages that returned an error.",
		}, []string{"stage"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations made by crew members.",
		}, []string{"tool"}),
		toolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_errors_total",
			Help:      "Tool invocations that failed.",
		}, []string{"tool"}),
		runOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Queued analysis runs grouped by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of queued analysis runs in seconds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpErrors,
		c.httpLatency,
		c.lookups,
		c.stageDuration,
		c.stageFailures,
		c.toolCalls,
		c.toolErrors,
		c.runOutcomes,
		c.runDuration,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveLookup counts a knowledge lookup answered by tier.
func (c *Collector) ObserveLookup(tier string) {
	if c == nil {
		return
	}
	c.lookups.WithLabelValues(tier).Inc()
}

// ObserveStage matches pipeline.StageObserver.
func (c *Collector) ObserveStage(stage string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		c.stageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveTool matches tools.Observer.
func (c *Collector) ObserveTool(name string, _ time.Duration, err error) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(name).Inc()
	if err != nil {
		c.toolErrors.WithLabelValues(name).Inc()
	}
}

// ObserveRunOutcome matches task.OutcomeObserver.
func (c *Collector) ObserveRunOutcome(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.runOutcomes.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(elapsed.Seconds())
}

// Middleware wraps next and records request count, errors and latency under handler.
func (c *Collector) Middleware(handler string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.ObserveHTTPRequest(handler, r.Method, rec.status, time.Since(start))
	})
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer launches a standalone HTTP server exposing the metrics endpoint.
func (c *Collector) StartServer(ctx context.Context, addr, path string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
