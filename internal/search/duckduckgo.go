package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"SalesIntel/pkg/logger"
)

const (
	// DefaultEndpoint 是 DuckDuckGo 无脚本版本的检索地址。
	DefaultEndpoint  = "https://html.duckduckgo.com/html/"
	defaultUserAgent = "Mozilla/5.0 (compatible; SalesIntel/1.0)"
	redirectPrefix   = "//duckduckgo.com/l/"
)

// DuckDuckGoConfig 描述 DuckDuckGo 客户端的参数。
type DuckDuckGoConfig struct {
	Endpoint   string
	UserAgent  string
	MaxResults int
	Timeout    time.Duration
}

// DuckDuckGo 通过解析 HTML 结果页实现检索，不需要 API Key。
type DuckDuckGo struct {
	endpoint   string
	userAgent  string
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDuckDuckGo 创建检索客户端。
func NewDuckDuckGo(cfg DuckDuckGoConfig) *DuckDuckGo {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &DuckDuckGo{
		endpoint:   cfg.Endpoint,
		userAgent:  cfg.UserAgent,
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("search"),
	}
}

// Search 执行一次检索。
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", query)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	results, err := parseResults(string(body), d.maxResults)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("search completed", slog.String("query", query), slog.Int("results", len(results)))
	return results, nil
}

// parseResults 从结果页中提取 class 同时包含 result 与 results_links 的条目。
func parseResults(content string, limit int) ([]Result, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse search html: %w", err)
	}

	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := extractResult(n); r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractResult(n *html.Node) Result {
	var r Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attr(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				r.URL = cleanURL(attr(n, "href"))
				r.Title = text(n)
			case strings.Contains(class, "result__snippet"):
				r.Snippet = text(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r
}

// cleanURL 还原 DuckDuckGo 跳转链接中的真实地址。
func cleanURL(raw string) string {
	if !strings.HasPrefix(raw, redirectPrefix) {
		return raw
	}
	parsed, err := url.Parse("https:" + raw)
	if err != nil {
		return raw
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
