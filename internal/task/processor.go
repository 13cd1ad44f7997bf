package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/observability/alerting"
	"SalesIntel/internal/pipeline"
	"SalesIntel/pkg/logger"
)

// 单次处理的结局，作为指标标签使用。
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDegraded  = "degraded"
)

// Executor 执行一次完整的分析运行，pipeline.Runner 是默认实现。
type Executor interface {
	Execute(ctx context.Context, req pipeline.RunRequest) (*pipeline.RunResult, error)
}

// OutcomeObserver 在每次处理结束后收到结局与耗时。
type OutcomeObserver func(outcome string, elapsed time.Duration)

// Processor 从队列领取运行 ID，交给 Executor 执行并回写状态。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	observer    OutcomeObserver
}

// ProcessorOption 调整 Processor 的可选行为。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置并发消费的协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 为不可重试的失败配置降级策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) { p.recovery = handler }
}

// WithAlertDispatcher 配置失败告警的派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = dispatcher }
}

// WithOutcomeObserver 注册处理结局的回调。
func WithOutcomeObserver(fn OutcomeObserver) ProcessorOption {
	return func(p *Processor) { p.observer = fn }
}

// NewProcessor 构造 Processor，默认单协程消费。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 阻塞消费队列，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "run consumer is not configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "run processor is not initialised")
	}

	run, err := p.store.Claim(ctx, runID)
	switch {
	case err == nil:
	case stdErrors.Is(err, ErrTaskNotFound), stdErrors.Is(err, ErrTaskCompleted), stdErrors.Is(err, ErrTaskExhausted):
		logger.L().Debug("跳过运行", slog.String("run_id", runID), slog.String("reason", err.Error()))
		return nil
	default:
		logger.L().Error("领取运行失败", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Task{ID: runID}, CodeTaskProcessing, err, "claim")
		return err
	}

	started := time.Now()
	outcome, err := p.execute(ctx, run)
	if p.observer != nil {
		p.observer(outcome, time.Since(started))
	}
	return err
}

func (p *Processor) execute(ctx context.Context, run *Task) (string, error) {
	result, execErr := p.executor.Execute(ctx, pipeline.RunRequest{
		RunID:      run.ID,
		Target:     run.Target,
		Recipients: append([]string(nil), run.Recipients...),
		SendEmail:  run.SendEmail,
	})
	if execErr != nil {
		return p.fail(ctx, run, execErr)
	}

	record := resultOf(result)
	if err := p.store.MarkSucceeded(ctx, run.ID, record); err != nil {
		logger.L().Error("保存运行结果失败", slog.Any("error", err), slog.String("run_id", run.ID))
		return p.requeue(ctx, run, CodeTaskProcessing, err)
	}
	logger.Audit().Info("运行完成",
		slog.String("run_id", run.ID),
		slog.String("target", run.Target.Name),
		slog.String("report_path", record.ReportPath),
		slog.Bool("emailed", record.Emailed),
	)
	return OutcomeSucceeded, nil
}

func resultOf(result *pipeline.RunResult) ExecutionResult {
	if result == nil {
		return ExecutionResult{}
	}
	return ExecutionResult{
		ReportPath: result.ReportPath,
		Summary:    result.Summary(),
		Emailed:    result.Emailed,
		Stages:     len(result.Stages),
		Notes:      result.Notes,
	}
}

// fail 决定失败运行的去向：降级成功、重新排队或终止。
func (p *Processor) fail(ctx context.Context, run *Task, execErr error) (string, error) {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)

	if !retryable && p.recovery != nil {
		if outcome, handled, err := p.degrade(ctx, run, code, execErr); handled {
			return outcome, err
		}
	}

	terminal := !retryable || run.exhausted()
	if err := p.store.MarkFailed(ctx, run.ID, code, execErr.Error(), terminal); err != nil {
		logger.L().Error("记录运行失败状态出错", slog.Any("error", err), slog.String("run_id", run.ID))
		return OutcomeFailed, err
	}
	logger.Audit().Warn("运行失败",
		slog.String("run_id", run.ID),
		slog.String("target", run.Target.Name),
		slog.String("error_code", string(code)),
		slog.String("error", execErr.Error()),
		slog.Bool("terminal", terminal),
		slog.Int("attempts", run.Attempts),
		slog.Int("max_retries", run.MaxRetries),
	)

	switch {
	case terminal && !retryable:
		p.emitAlert(ctx, run, code, execErr, "non_retryable")
	case terminal:
		p.emitAlert(ctx, run, code, execErr, "terminal")
	default:
		p.emitAlert(ctx, run, code, execErr, "retry")
	}
	if terminal {
		return OutcomeFailed, nil
	}
	if err := p.publish(ctx, run.ID); err != nil {
		return OutcomeFailed, err
	}
	logger.L().Debug("运行已重新排队", slog.String("run_id", run.ID), slog.Int("attempts", run.Attempts))
	return OutcomeRetried, nil
}

// degrade 调用降级策略。handled 为 false 表示策略没有给出结果，按普通失败处理。
func (p *Processor) degrade(ctx context.Context, run *Task, code xerrors.Code, execErr error) (string, bool, error) {
	fallback, err := p.recovery.Recover(ctx, run, execErr)
	if err != nil {
		wrapped := xerrors.Wrap(CodeTaskCompensate, err, "run fallback failed", xerrors.WithMetadata("run_id", run.ID))
		logger.L().Error("运行降级失败", slog.Any("error", wrapped), slog.String("run_id", run.ID))
		p.emitAlert(ctx, run, CodeTaskCompensate, wrapped, "compensate")
		return "", false, nil
	}
	if fallback == nil {
		return "", false, nil
	}

	if len(fallback.Notes) == 0 {
		fallback.Notes = []string{"degraded: " + execErr.Error()}
	}
	if err := p.store.MarkSucceeded(ctx, run.ID, *fallback); err != nil {
		logger.L().Error("保存降级结果失败", slog.Any("error", err), slog.String("run_id", run.ID))
		outcome, err := p.requeue(ctx, run, code, err)
		return outcome, true, err
	}
	logger.Audit().Warn("运行已降级完成",
		slog.String("run_id", run.ID),
		slog.String("target", run.Target.Name),
		slog.Any("notes", fallback.Notes),
	)
	p.emitAlert(ctx, run, code, execErr, "degraded")
	return OutcomeDegraded, true, nil
}

// requeue 在结果无法落库时把运行退回 pending 并重新投递。
func (p *Processor) requeue(ctx context.Context, run *Task, code xerrors.Code, cause error) (string, error) {
	if err := p.store.MarkFailed(ctx, run.ID, code, cause.Error(), false); err != nil {
		logger.L().Error("回退运行状态失败", slog.Any("error", err), slog.String("run_id", run.ID))
		return OutcomeFailed, err
	}
	if err := p.publish(ctx, run.ID); err != nil {
		return OutcomeFailed, err
	}
	logger.Audit().Warn("运行结果保存失败，已重新排队",
		slog.String("run_id", run.ID),
		slog.String("target", run.Target.Name),
		slog.String("error", cause.Error()),
	)
	return OutcomeRetried, nil
}

func (p *Processor) publish(ctx context.Context, runID string) error {
	if p.producer == nil {
		return xerrors.New(CodeTaskPublish, "run producer is not configured", xerrors.WithMetadata("run_id", runID))
	}
	if err := p.producer.Publish(ctx, runID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, "requeue run", xerrors.WithMetadata("run_id", runID))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, run *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || run == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert && !xerrors.ShouldAlert(cause) {
		return
	}

	metadata := map[string]string{"stage": stage}
	if run.Target.Name != "" {
		metadata["target"] = run.Target.Name
	}
	if coded, ok := xerrors.From(cause); ok {
		if name := coded.Metadata()["stage"]; name != "" {
			metadata["pipeline_stage"] = name
		}
	}
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}

	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     run.ID,
		Attempts:   run.Attempts,
		MaxRetries: run.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警发送失败", slog.Any("error", err), slog.String("run_id", run.ID), slog.String("stage", stage))
	}
}
