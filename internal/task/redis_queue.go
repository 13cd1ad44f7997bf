package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/pkg/logger"
)

const (
	defaultRedisQueue     = "salesintel:runs"
	defaultRedisBlockWait = 5 * time.Second
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 把运行 ID 存放在 Redis list 中：LPUSH 入队，BRPOP 出队。
// 处理失败的运行会被追加到队尾，多实例部署时由任意实例继续处理。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
	logger *slog.Logger
}

// NewRedisQueue 连接 Redis 并确认可用。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "redis queue address is required")
	}
	q := &RedisQueue{
		client: redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}),
		queue:  cfg.Queue,
		wait:   cfg.BlockWait,
		logger: logger.Named("queue.redis"),
	}
	if q.queue == "" {
		q.queue = defaultRedisQueue
	}
	if q.wait <= 0 {
		q.wait = defaultRedisBlockWait
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.Ping(ctx).Err(); err != nil {
		_ = q.client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect redis", xerrors.WithMetadata("address", cfg.Address))
	}
	return q, nil
}

// Publish 将运行 ID 写入队列头部。
func (q *RedisQueue) Publish(ctx context.Context, runID string) error {
	if err := q.client.LPush(ctx, q.queue, runID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis publish", xerrors.WithMetadata("run_id", runID))
	}
	return nil
}

// Depth 返回队列中等待处理的运行数量。
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.queue).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis queue depth")
	}
	return n, nil
}

// Consume 以 BRPOP 阻塞取任务，任一工作协程遇到连接错误时全部退出。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers(workerCount); i++ {
		g.Go(func() error { return q.work(gctx, handler) })
	}
	return g.Wait()
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis consume")
		case len(values) != 2:
			continue
		}

		runID := values[1]
		if safeHandle(ctx, handler, q.queue, runID) == nil {
			continue
		}
		if err := q.client.RPush(ctx, q.queue, runID).Err(); err != nil && ctx.Err() == nil {
			q.logger.Error("重新投递运行失败", slog.String("run_id", runID), slog.Any("error", err))
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
