package tools

import (
	"context"
	"fmt"
	"strings"
)

// Market 为指定行业生成通用的五点市场分析框架。
type Market struct{}

func (Market) Name() string { return NameMarket }

func (Market) Description() string {
	return "Analyzes market trends, competitor landscapes, and industry developments for a given industry sector."
}

func (Market) Call(_ context.Context, industry string) (string, error) {
	industry = strings.TrimSpace(industry)
	return fmt.Sprintf("Market Analysis for '%[1]s' industry:\n\n"+
		"1. Growth & Transformation: The '%[1]s' sector shows signs of [significant transformation/stable growth/emerging disruption].\n"+
		"2. Key Trends: Dominant trends include [AI adoption/sustainability focus/digital customer engagement/supply chain optimization].\n"+
		"3. Competitive Dynamics: Landscape features [established leaders facing new challengers/high fragmentation/consolidation activity].\n"+
		"4. Consumer/Client Behavior: Trends indicate shifts towards [digital channels/personalized experiences/value-consciousness/sustainability demands].\n"+
		"5. Regulatory Factors: Note increasing focus on [data privacy/environmental regulations/compliance standards] impacting operations.\n\n"+
		"(Note: This is a generalized analysis. Deeper research required for specifics).", industry), nil
}
