package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"SalesIntel/pkg/logger"
)

// 工具名称与原有流水线中的展示名称保持一致。
const (
	NameResearch      = "Advanced Research Tool"
	NameMarket        = "Market Analysis Tool"
	NameSentiment     = "Sentiment Analysis Tool"
	NameStrategy      = "Strategic Planning Tool"
	NameCommunication = "Communication Optimization Tool"
	NameKnowledge     = "Knowledge Base Tool"
)

// Tool 是智能体可调用的能力，输入输出均为文本。
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
}

// TypedTool 允许调用方直接传入结构化输入，跳过字符串解析。
type TypedTool interface {
	Tool
	CallTyped(ctx context.Context, input any) (string, error)
}

// Observer 在每次工具调用结束后回调。
type Observer func(name string, elapsed time.Duration, err error)

// Registry 保存可用工具，并作为调用的错误边界：任何错误或 panic 都会被转换为文本。
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	observer Observer
	logger   *slog.Logger
}

// RegistryOption 定义 Registry 的可选配置。
type RegistryOption func(*Registry)

// WithObserver 设置调用观察者。
func WithObserver(fn Observer) RegistryOption {
	return func(r *Registry) { r.observer = fn }
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.logger = log
		}
	}
}

// NewRegistry 创建空的工具注册表。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("tools")
	}
	return r
}

// Register 注册工具，名称重复时返回错误。
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, exists := r.tools[t.Name()]; exists {
			return fmt.Errorf("tool %q already registered", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return nil
}

// Get 按名称查找工具。
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names 返回按字母排序的工具名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke 执行工具并始终返回文本结果。input 为字符串时走 Call，
// 其他类型交给实现了 TypedTool 的工具处理。
func (r *Registry) Invoke(ctx context.Context, name string, input any) (output string) {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Tool Error: Unknown tool '%s'. Available tools: %v", name, r.Names())
	}

	start := time.Now()
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			r.logger.Warn("tool execution failed",
				slog.String("tool", name),
				slog.Any("error", err))
			output = ErrorText(name, err)
		}
		if r.observer != nil {
			r.observer(name, time.Since(start), err)
		}
	}()

	switch in := input.(type) {
	case string:
		output, err = t.Call(ctx, in)
	default:
		typed, ok := t.(TypedTool)
		if !ok {
			output, err = t.Call(ctx, fmt.Sprint(in))
			break
		}
		output, err = typed.CallTyped(ctx, in)
	}
	return output
}

// ErrorText 生成工具失败时交给模型的说明文字。
func ErrorText(name string, err error) string {
	return fmt.Sprintf("Tool Error: Failed to execute %s. Details: %v", name, err)
}
