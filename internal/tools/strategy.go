package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

var strategyTemplates = map[string]string{
	"growth":               "Expand market presence for %[1]s through targeted digital campaigns and strategic partnerships, considering %[2]s.",
	"efficiency":           "Implement process automation and data-driven decision-making within %[1]s to improve operational effectiveness.",
	"innovation":           "Establish cross-functional innovation teams and rapid prototyping processes focusing on future market needs relevant to %[1]s.",
	"customer_retention":   "Develop personalized engagement programs and enhance customer success frameworks tailored to %[1]s's client base.",
	"risk_assessment":      "Conduct a thorough risk assessment focusing on market volatility, competitive threats, and operational vulnerabilities for %[1]s.",
	"improvement":          "Identify key areas for operational or strategic improvement based on performance data and feedback loops within %[1]s.",
	"contingency_planning": "Develop contingency plans for key identified risks, outlining mitigation steps and alternative actions for %[1]s.",
}

// StrategyInput 是战略规划工具的结构化输入。
type StrategyInput struct {
	OrganizationType string   `json:"organization_type"`
	Objectives       []string `json:"objectives"`
	TargetInfo       string   `json:"target_info"`
	MarketContext    string   `json:"market_context"`
}

// withDefaults 为缺失字段补默认值。
func (in StrategyInput) withDefaults() StrategyInput {
	if strings.TrimSpace(in.OrganizationType) == "" {
		in.OrganizationType = "general"
	}
	if in.Objectives == nil {
		in.Objectives = []string{"growth", "efficiency"}
	}
	if strings.TrimSpace(in.TargetInfo) == "" {
		in.TargetInfo = "the organization"
	}
	if strings.TrimSpace(in.MarketContext) == "" {
		in.MarketContext = "current market conditions"
	}
	return in
}

// ParseStrategyInput 解析 JSON 文本，无法解析时退回全部默认值。
func ParseStrategyInput(raw string) StrategyInput {
	var in StrategyInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return StrategyInput{}.withDefaults()
	}
	return in.withDefaults()
}

// Strategy 根据目标生成战略建议。
type Strategy struct{}

func (Strategy) Name() string { return NameStrategy }

func (Strategy) Description() string {
	return "Develops strategic recommendations based on input context like market research, organizational type, and objectives."
}

func (s Strategy) Call(_ context.Context, input string) (string, error) {
	return s.Plan(ParseStrategyInput(input)), nil
}

func (s Strategy) CallTyped(_ context.Context, input any) (string, error) {
	switch in := input.(type) {
	case StrategyInput:
		return s.Plan(in), nil
	case *StrategyInput:
		if in == nil {
			return s.Plan(StrategyInput{}), nil
		}
		return s.Plan(*in), nil
	default:
		return "", fmt.Errorf("unsupported input type %T", input)
	}
}

// Plan 按目标顺序输出已知目标对应的建议，未识别任何目标时给出平衡策略。
func (Strategy) Plan(in StrategyInput) string {
	in = in.withDefaults()

	var recommendations []string
	for _, objective := range in.Objectives {
		if tmpl, ok := strategyTemplates[objective]; ok {
			recommendations = append(recommendations, fmt.Sprintf(tmpl, in.TargetInfo, in.MarketContext))
		}
	}
	if len(recommendations) == 0 {
		recommendations = []string{fmt.Sprintf("Develop a balanced strategy for %s focusing on sustainable growth and operational excellence.", in.TargetInfo)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Strategic Recommendations for %s organization (%s), considering %s:\n\n",
		in.OrganizationType, in.TargetInfo, in.MarketContext)
	for i, r := range recommendations {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(r)
	}
	return b.String()
}
