package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SalesIntel/internal/llm"
)

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestGenerateJoinsTextBlocks(t *testing.T) {
	var body map[string]any
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		apiKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "Market Overview:\n"}, {"type": "text", "text": "- steady growth"}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), llm.Request{
		Role: "Market Research Specialist",
		Task: "Analyze the FMCG market.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Market Overview:\n- steady growth", resp.Reply)
	assert.Equal(t, "end_turn", resp.Thought)
	assert.Equal(t, "test-key", apiKey)
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.EqualValues(t, 2048, body["max_tokens"])
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), llm.Request{Role: "x", Task: "y"})
	require.Error(t, err)
}
