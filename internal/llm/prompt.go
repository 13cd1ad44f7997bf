package llm

import (
	"fmt"
	"strings"
)

const maxContextRunes = 4000

// SystemPrompt 根据角色设定生成系统提示词。
func SystemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s.\n", strings.TrimSpace(req.Role))
	if goal := strings.TrimSpace(req.Goal); goal != "" {
		fmt.Fprintf(&b, "Your goal: %s\n", goal)
	}
	if backstory := strings.TrimSpace(req.Backstory); backstory != "" {
		fmt.Fprintf(&b, "Background: %s\n", backstory)
	}
	b.WriteString("Work only from the task, the prior findings and the tool observations you are given. ")
	b.WriteString("Answer in plain text using short headings ending with ':' and '- ' bullet points.")
	return b.String()
}

// UserPrompt 把任务描述、前序阶段输出与工具观察组合成用户提示词。
func UserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(strings.TrimSpace(req.Task))
	b.WriteString("\n")
	if expected := strings.TrimSpace(req.ExpectedOutput); expected != "" {
		b.WriteString("\n## Expected Output\n")
		b.WriteString(expected)
		b.WriteString("\n")
	}

	if len(req.Context) > 0 {
		b.WriteString("\n## Prior Findings\n")
		for _, entry := range req.Context {
			fmt.Fprintf(&b, "### %s (%s)\n%s\n", entry.Stage, entry.Role, Truncate(entry.Output, maxContextRunes))
		}
	}

	if len(req.Observations) > 0 {
		b.WriteString("\n## Tool Observations\n")
		for idx, obs := range req.Observations {
			fmt.Fprintf(&b, "[%d] %s\nInput: %s\nResult:\n%s\n", idx+1, obs.Tool, Truncate(obs.Input, 300), Truncate(obs.Output, maxContextRunes))
		}
	}
	return b.String()
}

// Truncate 按 rune 截断文本，超长时追加省略号。
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
