package pipeline

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"SalesIntel/internal/agent"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/llm"
	"SalesIntel/internal/tools"
	"SalesIntel/pkg/logger"
)

// StageObserver 在每个阶段结束后回调，err 为 nil 表示成功。
type StageObserver func(stage string, elapsed time.Duration, err error)

// Performer 执行单个阶段，agent.Agent 是默认实现。
type Performer interface {
	Persona() agent.Persona
	Perform(ctx context.Context, as agent.Assignment) (*agent.StageOutput, error)
}

// Crew 按顺序执行阶段，并把依赖阶段的产出作为上下文传给后续阶段。
type Crew struct {
	stages   []Stage
	members  map[string]Performer
	roles    []string
	observer StageObserver
	logger   *slog.Logger
}

// CrewOption 定义 Crew 的可选配置。
type CrewOption func(*Crew)

// WithStageObserver 设置阶段观察者。
func WithStageObserver(fn StageObserver) CrewOption {
	return func(c *Crew) { c.observer = fn }
}

// WithCrewLogger 指定日志输出。
func WithCrewLogger(log *slog.Logger) CrewOption {
	return func(c *Crew) {
		if log != nil {
			c.logger = log
		}
	}
}

// NewCrew 校验阶段定义并创建 Crew。每个阶段的角色都必须有对应成员，依赖只能指向更早的阶段。
func NewCrew(stages []Stage, members []Performer, opts ...CrewOption) (*Crew, error) {
	if len(stages) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no stages defined")
	}

	c := &Crew{
		stages:  append([]Stage(nil), stages...),
		members: make(map[string]Performer, len(members)),
	}
	for _, m := range members {
		if m == nil {
			continue
		}
		role := m.Persona().Role
		if _, exists := c.members[role]; exists {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("duplicate crew member %q", role))
		}
		c.members[role] = m
		c.roles = append(c.roles, role)
	}

	seen := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		if stage.Name == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "stage name is empty")
		}
		if _, dup := seen[stage.Name]; dup {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("duplicate stage %q", stage.Name))
		}
		if _, ok := c.members[stage.Persona.Role]; !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("stage %q requires crew member %q", stage.Name, stage.Persona.Role))
		}
		for _, dep := range stage.DependsOn {
			if _, ok := seen[dep]; !ok {
				return nil, xerrors.New(xerrors.CodeInitializationFailure,
					fmt.Sprintf("stage %q depends on %q which does not run before it", stage.Name, dep))
			}
		}
		seen[stage.Name] = struct{}{}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = logger.Named("pipeline")
	}
	return c, nil
}

// Stages 返回阶段定义的副本。
func (c *Crew) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// Roles 返回成员角色，顺序与注册顺序一致。
func (c *Crew) Roles() []string {
	return append([]string(nil), c.roles...)
}

// Run 依次执行全部阶段。任一阶段失败即停止，错误码为 STAGE_FAILED，并保留原始错误的可重试属性。
func (c *Crew) Run(ctx context.Context, target Target) ([]agent.StageOutput, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	target = target.Normalize()

	outputs := make([]agent.StageOutput, 0, len(c.stages))
	byName := make(map[string]agent.StageOutput, len(c.stages))
	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return outputs, xerrors.Wrap(xerrors.CodeTimeout, err, "run cancelled before stage "+stage.Name)
		}

		started := time.Now()
		out, err := c.runStage(ctx, stage, target, byName)
		c.observe(stage.Name, time.Since(started), err)
		if err != nil {
			c.logger.Error("stage failed",
				slog.String("stage", stage.Name),
				slog.String("target", target.Name),
				slog.Any("error", err))
			return outputs, stageError(stage.Name, err)
		}
		outputs = append(outputs, *out)
		byName[stage.Name] = *out
	}
	return outputs, nil
}

func (c *Crew) runStage(ctx context.Context, stage Stage, target Target, done map[string]agent.StageOutput) (*agent.StageOutput, error) {
	description, expected, err := stage.Render(target)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "render stage templates")
	}

	priors := make([]agent.StageOutput, 0, len(stage.DependsOn))
	for _, dep := range stage.DependsOn {
		priors = append(priors, done[dep])
	}

	return c.members[stage.Persona.Role].Perform(ctx, agent.Assignment{
		Stage:          stage.Name,
		Description:    description,
		ExpectedOutput: expected,
		Context:        priors,
		Calls:          stage.Calls(target),
	})
}

func (c *Crew) observe(stage string, elapsed time.Duration, err error) {
	if c.observer != nil {
		c.observer(stage, elapsed, err)
	}
}

func stageError(stage string, err error) error {
	retryable := true
	if coded, ok := xerrors.From(err); ok {
		retryable = coded.Retryable()
	} else if stdErrors.Is(err, context.Canceled) {
		retryable = false
	}
	return xerrors.Wrap(xerrors.CodeStageFailed, err, "stage "+stage+" failed",
		xerrors.WithMetadata("stage", stage),
		xerrors.WithRetryable(retryable))
}

// NewAgents 为全部角色创建共享同一模型与工具注册表的 Agent。
func NewAgents(client llm.Client, registry *tools.Registry, opts ...agent.Option) []Performer {
	personas := agent.Personas()
	members := make([]Performer, 0, len(personas))
	for _, persona := range personas {
		members = append(members, agent.New(persona, client, registry, opts...))
	}
	return members
}
