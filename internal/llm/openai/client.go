package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 2048
)

// Config 描述 Chat Completions 兼容接口的连接参数。BaseURL 可指向任意兼容网关。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// JSONMode 为 true 时请求 response_format=json_object，部分兼容网关不支持。
	JSONMode bool
}

// Client 通过 HTTP 调用 Chat Completions 接口。
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
}

// NewClient 校验配置并填充默认值。
func NewClient(cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "openai api key is required")
	}
	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		cfg:        cfg,
		endpoint:   base + "/chat/completions",
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Generate 发送一次对话请求，并把回复解析为 thought 与 reply。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: llm.SystemPrompt(req) + "\n" + llm.ReplyFormat},
			{Role: "user", Content: llm.UserPrompt(req)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if c.cfg.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var decoded chatResponse
	if err := c.post(ctx, body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "openai response has no choices")
	}

	resp := llm.ParseReply(decoded.Choices[0].Message.Content)
	if resp.Reply == "" {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "openai reply is empty",
			xerrors.WithMetadata("finish_reason", decoded.Choices[0].FinishReason))
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, payload chatRequest, out *chatResponse) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "encode openai request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "build openai request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "openai request failed", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "decode openai response")
	}
	return nil
}

// statusError 把非 2xx 响应转换为错误，限流与服务端错误标记为可重试。
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(raw))
	var wrapped chatResponse
	if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		message = wrapped.Error.Message
	}
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
	return xerrors.New(xerrors.CodeExecutorFailure,
		fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, message),
		xerrors.WithRetryable(retryable),
		xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)),
	)
}
