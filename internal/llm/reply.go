package llm

import (
	"encoding/json"
	"strings"
)

// ReplyFormat 要求模型以 JSON 对象返回，供需要结构化输出的提供方追加到系统提示词。
const ReplyFormat = "Respond with a compact JSON object: {\"thought\": string, \"reply\": string}. " +
	"Put the finished deliverable in \"reply\" and a one-line summary of your reasoning in \"thought\"."

// ParseReply 解析模型的原始输出。
// 输出是 {"thought","reply"} 对象时取对应字段，允许外层包裹 ``` 代码块；否则整段文本作为 Reply。
func ParseReply(raw string) Response {
	text := strings.TrimSpace(raw)
	body := stripFence(text)
	if strings.HasPrefix(body, "{") {
		var structured struct {
			Thought string `json:"thought"`
			Reply   string `json:"reply"`
		}
		if err := json.Unmarshal([]byte(body), &structured); err == nil {
			return Response{
				Thought: strings.TrimSpace(structured.Thought),
				Reply:   strings.TrimSpace(structured.Reply),
			}
		}
	}
	return Response{Reply: text}
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if newline := strings.IndexByte(inner, '\n'); newline >= 0 && !strings.HasPrefix(strings.TrimSpace(inner[:newline]), "{") {
		inner = inner[newline+1:]
	}
	return strings.TrimSpace(inner)
}
