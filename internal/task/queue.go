package task

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/pkg/logger"
)

// Handler 处理一条出队的运行 ID。返回错误时由具体队列决定是否重新投递。
type Handler func(ctx context.Context, runID string) error

// Producer 负责把待执行的运行投递到队列。
type Producer interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

// Consumer 以固定数量的工作协程消费队列，直到 ctx 取消。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力，memory、redis、rabbitmq 三种驱动均实现该接口。
type Queue interface {
	Producer
	Consumer
}

// ErrQueueClosed 表示队列已经关闭，不再接受投递。
var ErrQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "run queue is closed", xerrors.WithRetryable(false))

// safeHandle 调用 handler 并把 panic 转换为错误，避免单个运行拖垮整个工作协程。
func safeHandle(ctx context.Context, handler Handler, queue, runID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(CodeTaskProcessing, "run handler panicked",
				xerrors.WithMetadata("run_id", runID),
				xerrors.WithMetadata("panic", fmt.Sprint(r)))
		}
		if err != nil {
			logger.Named("queue").Warn("运行处理返回错误",
				slog.String("queue", queue),
				slog.String("run_id", runID),
				slog.Any("error", err))
		}
	}()
	return handler(ctx, runID)
}

func workers(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
