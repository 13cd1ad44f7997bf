package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/pkg/logger"
)

const defaultMaxRetries = 3

// Service 是 API 与 CLI 提交、查询分析运行的入口。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造运行服务，maxRetries 不大于 0 时使用默认的 3 次。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

func (s *Service) ready(needProducer bool) error {
	if s == nil || s.store == nil || (needProducer && s.producer == nil) {
		return xerrors.New(xerrors.CodeInitializationFailure, "run service is not initialised")
	}
	return nil
}

// Submit 校验目标并入队。带 ID 的重复提交直接返回已有运行，不会再次入队。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	if err := s.ready(true); err != nil {
		return nil, err
	}

	if req.ID != "" {
		if existing, err := s.store.Get(ctx, req.ID); err == nil {
			return existing, nil
		} else if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		req.ID = uuid.NewString()
	}

	run := &Task{
		ID:         req.ID,
		Target:     req.Target,
		Recipients: req.Recipients,
		SendEmail:  req.SendEmail,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, run); err != nil {
		if !stdErrors.Is(err, ErrTaskConflict) {
			return nil, err
		}
		// 并发提交同一个 ID 时以先写入者为准。
		return s.store.Get(ctx, req.ID)
	}

	if err := s.producer.Publish(ctx, run.ID); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "enqueue run", xerrors.WithMetadata("run_id", run.ID))
		logger.L().Error("运行入队失败", slog.Any("error", wrapped), slog.String("run_id", run.ID))
		if markErr := s.store.MarkFailed(ctx, run.ID, CodeTaskPublish, wrapped.Error(), true); markErr != nil {
			logger.L().Error("记录入队失败状态出错", slog.Any("error", markErr), slog.String("run_id", run.ID))
		}
		return nil, wrapped
	}

	logger.Audit().Info("运行已入队",
		slog.String("run_id", run.ID),
		slog.String("target", run.Target.Name),
		slog.String("industry", run.Target.Industry),
		slog.Bool("send_email", run.SendEmail),
		slog.Int("recipients", len(run.Recipients)),
	)
	return run, nil
}

// Get 返回指定运行的当前状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的运行列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的运行统计，分页参数被忽略。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if err := s.ready(false); err != nil {
		return TaskStats{}, err
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilCompleted 轮询直到运行进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Finished() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 依次关闭存储与生产者。
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
