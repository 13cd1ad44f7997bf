package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/llm"
)

func newTestClient(t *testing.T, cfg Config, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/"
	cfg.Timeout = time.Second
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{APIKey: "  "})
	assert.Equal(t, xerrors.CodeConfigInvalid, xerrors.CodeOf(err))
}

func TestGenerateSendsPromptsAndParsesReply(t *testing.T) {
	var body chatRequest
	var auth, path string
	client := newTestClient(t, Config{MaxTokens: 512, JSONMode: true}, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"thought\":\"summarised search results\",\"reply\":\"Company Overview:\\n- FMCG leader\"}"},"finish_reason":"stop"}]}`))
	})

	resp, err := client.Generate(context.Background(), llm.Request{Role: "Research Coordinator", Task: "Research HUL."})
	require.NoError(t, err)
	assert.Equal(t, "Company Overview:\n- FMCG leader", resp.Reply)
	assert.Equal(t, "summarised search results", resp.Thought)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "/chat/completions", path)
	assert.Equal(t, defaultModel, body.Model)
	assert.Equal(t, 512, body.MaxTokens)
	require.NotNil(t, body.ResponseFormat)
	assert.Equal(t, "json_object", body.ResponseFormat.Type)
	require.Len(t, body.Messages, 2)
	assert.True(t, strings.HasSuffix(body.Messages[0].Content, llm.ReplyFormat))
	assert.Contains(t, body.Messages[1].Content, "Research HUL.")
}

func TestGenerateAcceptsPlainTextReply(t *testing.T) {
	client := newTestClient(t, Config{}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Plain answer"}}]}`))
	})
	resp, err := client.Generate(context.Background(), llm.Request{Role: "r", Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, "Plain answer", resp.Reply)
	assert.Empty(t, resp.Thought)
}

func TestGenerateClassifiesHTTPErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		client := newTestClient(t, Config{}, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"invalid_request_error"}}`))
		})
		_, err := client.Generate(context.Background(), llm.Request{Role: "r", Task: "t"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upstream said no")
		assert.Equal(t, tc.retryable, xerrors.RetryableError(err), "status %d", tc.status)
	}
}

func TestGenerateRejectsEmptyChoices(t *testing.T) {
	client := newTestClient(t, Config{}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := client.Generate(context.Background(), llm.Request{Role: "r", Task: "t"})
	assert.Equal(t, xerrors.CodeExecutorFailure, xerrors.CodeOf(err))
}
