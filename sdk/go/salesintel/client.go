// Package salesintel is a Go client for the SalesIntel REST API.
package salesintel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Run statuses reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the SalesIntel REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// Target identifies the company a run analyses.
type Target struct {
	Name             string `json:"target_name"`
	Industry         string `json:"industry"`
	KeyDecisionMaker string `json:"key_decision_maker,omitempty"`
	Position         string `json:"position,omitempty"`
	Milestone        string `json:"milestone,omitempty"`
}

// RunSubmission is the payload required to queue a new analysis run. A
// non-empty ID makes resubmission idempotent.
type RunSubmission struct {
	ID               string   `json:"id,omitempty"`
	TargetName       string   `json:"target_name"`
	Industry         string   `json:"industry"`
	KeyDecisionMaker string   `json:"key_decision_maker,omitempty"`
	Position         string   `json:"position,omitempty"`
	Milestone        string   `json:"milestone,omitempty"`
	Recipients       []string `json:"recipients,omitempty"`
	SendEmail        bool     `json:"send_email"`
}

// RunResult is the outcome recorded for a finished run.
type RunResult struct {
	ReportPath string   `json:"report_path"`
	Summary    string   `json:"summary"`
	Emailed    bool     `json:"emailed"`
	Stages     int      `json:"stages"`
	Notes      []string `json:"notes,omitempty"`
}

// Run is the server-side view of a queued analysis run.
type Run struct {
	ID         string     `json:"id"`
	Target     Target     `json:"target"`
	Recipients []string   `json:"recipients,omitempty"`
	SendEmail  bool       `json:"send_email"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Result     *RunResult `json:"result,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// Finished reports whether the run reached a terminal status.
func (r Run) Finished() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// RunStats aggregates run counts by status.
type RunStats struct {
	Total           int            `json:"total"`
	Pending         int            `json:"pending"`
	Running         int            `json:"running"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	Emailed         int            `json:"emailed"`
	ByIndustry      map[string]int `json:"by_industry,omitempty"`
	OldestUpdatedAt int64          `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64          `json:"newest_updated_at,omitempty"`
}

// ListRunsOptions filters ListRuns and RunStats. Zero values are omitted.
type ListRunsOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Industry  string
	Query     string
	Ascending bool
}

// Report is a report history record.
type Report struct {
	RunID      string `json:"run_id"`
	Target     string `json:"target"`
	Industry   string `json:"industry"`
	ReportPath string `json:"report_path"`
	Summary    string `json:"summary"`
	Emailed    bool   `json:"emailed"`
	CreatedAt  int64  `json:"created_at"`
}

// LookupResult is the answer of a knowledge base query.
type LookupResult struct {
	Answer   string `json:"answer"`
	Tier     string `json:"tier"`
	Category string `json:"category,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("salesintel api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("salesintel api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the SalesIntel API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the key sent with every request. An empty key disables the header.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently configured key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SubmitRun queues a new analysis run.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	var run Run
	if err := c.post(ctx, "/api/v1/runs", submission, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches a run by identifier.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns lists runs matching opts.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) ([]Run, error) {
	var payload struct {
		Runs []Run `json:"runs"`
	}
	if err := c.get(ctx, "/api/v1/runs", opts.values(), &payload); err != nil {
		return nil, err
	}
	return payload.Runs, nil
}

// RunStats returns aggregate counts for runs matching opts.
func (c *Client) RunStats(ctx context.Context, opts ListRunsOptions) (RunStats, error) {
	var stats RunStats
	if err := c.get(ctx, "/api/v1/runs/stats", opts.values(), &stats); err != nil {
		return RunStats{}, err
	}
	return stats, nil
}

// WaitForRun polls GetRun until the run finishes or ctx is done.
func (c *Client) WaitForRun(ctx context.Context, id string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return Run{}, err
		}
		if run.Finished() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListReports returns the most recent report records.
func (c *Client) ListReports(ctx context.Context, limit int) ([]Report, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var payload struct {
		Reports []Report `json:"reports"`
	}
	if err := c.get(ctx, "/api/v1/reports", query, &payload); err != nil {
		return nil, err
	}
	return payload.Reports, nil
}

// GetReport fetches the report record of a run.
func (c *Client) GetReport(ctx context.Context, runID string) (Report, error) {
	var report Report
	if err := c.get(ctx, "/api/v1/reports/"+url.PathEscape(runID), nil, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}

// Lookup queries the knowledge base.
func (c *Client) Lookup(ctx context.Context, query string) (LookupResult, error) {
	var result LookupResult
	if err := c.post(ctx, "/api/v1/knowledge/lookup", map[string]string{"query": query}, &result); err != nil {
		return LookupResult{}, err
	}
	return result, nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

func (o ListRunsOptions) values() url.Values {
	query := url.Values{}
	if o.Limit > 0 {
		query.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		query.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(o.Statuses) > 0 {
		query.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Industry != "" {
		query.Set("industry", o.Industry)
	}
	if o.Query != "" {
		query.Set("q", o.Query)
	}
	if o.Ascending {
		query.Set("order", "asc")
	}
	return query
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := c.APIKey(); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr}); err != nil {
				apiErr.Message = ""
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
