package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/llm"
	"SalesIntel/internal/tools"
	"SalesIntel/pkg/logger"
)

// ToolCall 是阶段执行前需要调用的一次工具。Input 可以是字符串或工具支持的结构化输入。
type ToolCall struct {
	Tool  string
	Input any
}

// Assignment 描述交给某个角色的一个阶段任务。
type Assignment struct {
	Stage          string
	Description    string
	ExpectedOutput string
	Context        []StageOutput
	Calls          []ToolCall
}

// StageOutput 是一个阶段的执行结果。
type StageOutput struct {
	Stage        string            `json:"stage"`
	Role         string            `json:"role"`
	Description  string            `json:"description"`
	Output       string            `json:"output"`
	Thought      string            `json:"thought,omitempty"`
	Observations []llm.Observation `json:"observations,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Agent 以某个角色的身份执行阶段任务：先调用工具收集观察，再交给大模型生成产出。
type Agent struct {
	persona    Persona
	llmClient  llm.Client
	registry   *tools.Registry
	llmTimeout time.Duration
	logger     *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.logger = log
		}
	}
}

// New 创建一个 Agent。
func New(persona Persona, llmClient llm.Client, registry *tools.Registry, opts ...Option) *Agent {
	ag := &Agent{
		persona:   persona,
		llmClient: llmClient,
		registry:  registry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.logger == nil {
		ag.logger = logger.Named("agent")
	}
	ag.logger = ag.logger.With(slog.String("role", persona.Role))
	return ag
}

// Persona 返回角色设定。
func (a *Agent) Persona() Persona {
	return a.persona
}

// Perform 执行阶段任务。工具失败不会中断阶段，大模型失败会映射为统一错误码。
func (a *Agent) Perform(ctx context.Context, as Assignment) (*StageOutput, error) {
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "llm client is not configured")
	}
	if strings.TrimSpace(as.Description) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "stage description is empty")
	}

	started := time.Now()
	observations := a.observe(ctx, as.Calls)

	contextEntries := make([]llm.ContextEntry, 0, len(as.Context))
	for _, prior := range as.Context {
		contextEntries = append(contextEntries, llm.ContextEntry{Stage: prior.Stage, Role: prior.Role, Output: prior.Output})
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.llmClient.Generate(llmCtx, llm.Request{
		Role:           a.persona.Role,
		Goal:           a.persona.Goal,
		Backstory:      a.persona.Backstory,
		Task:           as.Description,
		ExpectedOutput: as.ExpectedOutput,
		Context:        contextEntries,
		Observations:   observations,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "model call timed out", xerrors.WithMetadata("stage", as.Stage))
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "model call failed", xerrors.WithMetadata("stage", as.Stage))
	}
	if resp == nil || strings.TrimSpace(resp.Reply) == "" {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "model returned an empty reply", xerrors.WithMetadata("stage", as.Stage))
	}

	out := &StageOutput{
		Stage:        as.Stage,
		Role:         a.persona.Role,
		Description:  as.Description,
		Output:       strings.TrimSpace(resp.Reply),
		Thought:      resp.Thought,
		Observations: observations,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	a.logger.Info("stage completed",
		slog.String("stage", as.Stage),
		slog.Int("observations", len(observations)),
		slog.Duration("elapsed", out.FinishedAt.Sub(started)))
	return out, nil
}

func (a *Agent) observe(ctx context.Context, calls []ToolCall) []llm.Observation {
	if len(calls) == 0 {
		return nil
	}
	observations := make([]llm.Observation, 0, len(calls))
	for _, call := range calls {
		obs := llm.Observation{Tool: call.Tool, Input: displayInput(call.Input)}
		switch {
		case !a.persona.Allows(call.Tool):
			obs.Output = fmt.Sprintf("Tool Error: %s is not available to the %s.", call.Tool, a.persona.Role)
		case a.registry == nil:
			obs.Output = tools.ErrorText(call.Tool, stdErrors.New("no tool registry configured"))
		default:
			obs.Output = a.registry.Invoke(ctx, call.Tool, call.Input)
		}
		observations = append(observations, obs)
	}
	return observations
}

func displayInput(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
