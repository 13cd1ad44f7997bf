package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const messagePreviewRunes = 150

// CommunicationInput 是沟通优化工具的结构化输入。
type CommunicationInput struct {
	Audience  string `json:"audience"`
	Message   string `json:"message"`
	Objective string `json:"objective"`
}

func (in CommunicationInput) withDefaults() CommunicationInput {
	if strings.TrimSpace(in.Audience) == "" {
		in.Audience = "general audience"
	}
	if strings.TrimSpace(in.Message) == "" {
		in.Message = "the core message"
	}
	if strings.TrimSpace(in.Objective) == "" {
		in.Objective = "inform"
	}
	return in
}

// ParseCommunicationInput 解析 JSON 文本；非 JSON 输入整体视为待优化的消息。
func ParseCommunicationInput(raw string) CommunicationInput {
	var in CommunicationInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return CommunicationInput{Message: raw}.withDefaults()
	}
	return in.withDefaults()
}

// Communication 为特定受众给出沟通改进建议。
type Communication struct{}

func (Communication) Name() string { return NameCommunication }

func (Communication) Description() string {
	return "Analyzes and refines communication content for specific audiences and objectives, provided as a JSON string."
}

func (c Communication) Call(_ context.Context, input string) (string, error) {
	return c.Optimize(ParseCommunicationInput(input)), nil
}

func (c Communication) CallTyped(_ context.Context, input any) (string, error) {
	switch in := input.(type) {
	case CommunicationInput:
		return c.Optimize(in), nil
	case *CommunicationInput:
		if in == nil {
			return c.Optimize(CommunicationInput{}), nil
		}
		return c.Optimize(*in), nil
	default:
		return "", fmt.Errorf("unsupported input type %T", input)
	}
}

// Optimize 生成六条固定维度的建议。
func (Communication) Optimize(in CommunicationInput) string {
	in = in.withDefaults()
	a := in.Audience
	enhancements := []string{
		fmt.Sprintf("Tailor technical language for %s.", a),
		fmt.Sprintf("Include specific examples relevant to %s's context.", a),
		fmt.Sprintf("Ensure a clear call-to-action aligned with the objective: '%s'.", in.Objective),
		fmt.Sprintf("Highlight value propositions most pertinent to %s.", a),
		"Structure for clarity and impact, potentially using bullet points or summaries.",
		fmt.Sprintf("Refine tone to be appropriate for %s (e.g., formal, informal, technical).", a),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Communication Optimization Suggestions for '%s' (Objective: %s):\n\n", a, in.Objective)
	fmt.Fprintf(&b, "Based on core message: '%s...'\n\n", preview(in.Message, messagePreviewRunes))
	b.WriteString("Recommended Enhancements:\n")
	for i, e := range enhancements {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(e)
	}
	return b.String()
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
