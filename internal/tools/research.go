package tools

import (
	"context"
	"fmt"
	"strings"

	"SalesIntel/internal/search"
)

// Research 使用网页检索收集目标公司的公开信息。
type Research struct {
	Searcher search.Searcher
}

func (Research) Name() string { return NameResearch }

func (Research) Description() string {
	return "Performs comprehensive research on organizations, individuals, and industry trends using multiple online sources."
}

func (r Research) Call(ctx context.Context, query string) (string, error) {
	if r.Searcher == nil {
		return fmt.Sprintf("Could not retrieve reliable search results for '%s'.", query), nil
	}
	results, err := r.Searcher.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("web search for '%s': %w", query, err)
	}
	text := search.Format(results)
	if strings.TrimSpace(text) == "" || strings.Contains(strings.ToLower(text), "error") {
		return fmt.Sprintf("Could not retrieve reliable search results for '%s'.", query), nil
	}
	return fmt.Sprintf("Research Findings for '%s':\n\n%s\n\n--- End of Search Results ---\n"+
		"Key insights might include: recent news, financial performance indicators, "+
		"strategic announcements, and key personnel changes (extracted from above).", query, text), nil
}
