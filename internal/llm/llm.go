package llm

import "context"

// Request 描述一次阶段推理所需的全部上下文。
type Request struct {
	Role           string
	Goal           string
	Backstory      string
	Task           string
	ExpectedOutput string
	Context        []ContextEntry
	Observations   []Observation
}

// ContextEntry 是前序阶段的输出，作为当前阶段的输入上下文。
type ContextEntry struct {
	Stage  string
	Role   string
	Output string
}

// Observation 记录一次工具调用及其结果。
type Observation struct {
	Tool   string
	Input  string
	Output string
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
