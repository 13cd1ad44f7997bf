package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/pkg/logger"
)

const defaultRabbitMQQueue = "salesintel.runs"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用默认交换机直投到命名队列，消费端手动确认。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewRabbitMQQueue 建立连接、设置 QoS 并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "rabbitmq url is required")
	}
	q := &RabbitMQQueue{queue: cfg.Queue, durable: cfg.Durable, logger: logger.Named("queue.rabbitmq")}
	if q.queue == "" {
		q.queue = defaultRabbitMQQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "open rabbitmq channel")
	}
	q.conn, q.ch = conn, ch

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = q.Close()
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "set rabbitmq qos")
		}
	}
	if _, err := ch.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		_ = q.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "declare rabbitmq queue", xerrors.WithMetadata("queue", q.queue))
	}
	return q, nil
}

// Publish 发布一条以运行 ID 为消息 ID 的消息；持久队列上的消息同样持久化。
func (q *RabbitMQQueue) Publish(ctx context.Context, runID string) error {
	if q == nil || q.ch == nil {
		return ErrQueueClosed
	}
	msg := amqp.Publishing{
		ContentType: "text/plain",
		MessageId:   runID,
		Timestamp:   time.Now(),
		Body:        []byte(runID),
	}
	if q.durable {
		msg.DeliveryMode = amqp.Persistent
	}
	// amqp.Channel 不保证并发发布安全。
	q.mu.Lock()
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg)
	q.mu.Unlock()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "rabbitmq publish", xerrors.WithMetadata("run_id", runID))
	}
	return nil
}

// Consume 订阅队列并分发给工作协程。处理失败的消息重新入队一次，
// 再次失败时确认丢弃，运行状态仍保留在存储中。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return ErrQueueClosed
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "subscribe rabbitmq queue")
	}

	var wg sync.WaitGroup
	for i := 0; i < workers(workerCount); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.settle(d, safeHandle(ctx, handler, q.queue, string(d.Body)))
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) settle(d amqp.Delivery, handleErr error) {
	var err error
	switch {
	case handleErr == nil:
		err = d.Ack(false)
	case !d.Redelivered:
		err = d.Nack(false, true)
	default:
		q.logger.Warn("运行再次处理失败，放弃重投", slog.String("run_id", string(d.Body)), slog.Any("error", handleErr))
		err = d.Ack(false)
	}
	if err != nil {
		q.logger.Error("确认 RabbitMQ 消息失败", slog.String("run_id", string(d.Body)), slog.Any("error", err))
	}
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}
