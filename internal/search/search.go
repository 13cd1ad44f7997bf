package search

import (
	"context"
	"fmt"
	"strings"
)

// Result 是一条网页检索结果。
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher 定义网页检索后端。
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// SearcherFunc 允许用函数充当 Searcher。
type SearcherFunc func(ctx context.Context, query string) ([]Result, error)

// Search 调用函数本身。
func (f SearcherFunc) Search(ctx context.Context, query string) ([]Result, error) {
	return f(ctx, query)
}

// Format 把检索结果渲染成可直接交给模型的纯文本。
func Format(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(r.Title))
		if r.URL != "" {
			fmt.Fprintf(&b, "\n   %s", r.URL)
		}
		if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
			fmt.Fprintf(&b, "\n   %s", snippet)
		}
	}
	return b.String()
}
