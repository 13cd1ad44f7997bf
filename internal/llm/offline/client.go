package offline

import (
	"context"
	"fmt"
	"strings"

	"SalesIntel/internal/llm"
)

// Client 不访问任何模型服务，直接把工具观察整理为阶段输出，
// 便于在没有密钥的环境中演示与测试完整流水线。
type Client struct{}

// NewClient 创建离线客户端。
func NewClient() *Client {
	return &Client{}
}

// Generate 按固定格式汇总观察结果。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Summary:\n", strings.TrimSpace(req.Role))
	fmt.Fprintf(&b, "- %s\n", firstSentence(req.Task))
	if len(req.Context) > 0 {
		stages := make([]string, 0, len(req.Context))
		for _, entry := range req.Context {
			stages = append(stages, entry.Stage)
		}
		fmt.Fprintf(&b, "- Builds on: %s\n", strings.Join(stages, ", "))
	}

	for _, obs := range req.Observations {
		fmt.Fprintf(&b, "\n%s Findings:\n", obs.Tool)
		for _, line := range strings.Split(obs.Output, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return &llm.Response{
		Thought: fmt.Sprintf("composed from %d tool observations", len(req.Observations)),
		Reply:   strings.TrimRight(b.String(), "\n"),
	}, nil
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if idx := strings.Index(text, "."); idx >= 0 {
		return text[:idx+1]
	}
	return text
}
