package task

import (
	"context"
	"sync"
)

const defaultMemoryQueueSize = 64

// MemoryQueue 基于带缓冲的 channel，适用于单进程部署与测试。
// channel 写满后新的运行 ID 暂存在 backlog 中，消费者每取走一条就补回一条，Publish 不会阻塞。
type MemoryQueue struct {
	ch      chan string
	mu      sync.Mutex
	backlog []string
	closed  bool
}

// NewMemoryQueue 创建 channel 容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 投递运行 ID。channel 已满时追加到 backlog。
func (q *MemoryQueue) Publish(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if len(q.backlog) == 0 {
		select {
		case q.ch <- runID:
			return nil
		default:
		}
	}
	q.backlog = append(q.backlog, runID)
	return nil
}

// refill 把 backlog 中的运行按顺序移入 channel，直到 channel 再次写满。
func (q *MemoryQueue) refill() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for len(q.backlog) > 0 {
		select {
		case q.ch <- q.backlog[0]:
			q.backlog[0] = ""
			q.backlog = q.backlog[1:]
		default:
			return
		}
	}
}

// Len 返回尚未被消费的运行数量，包含 backlog。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + len(q.backlog)
}

// Consume 启动 workerCount 个协程消费队列，直到 ctx 取消或队列关闭。
// 内存队列不做重投，失败的运行由 Processor 自行重新发布。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < workers(workerCount); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case runID, ok := <-q.ch:
					if !ok {
						return
					}
					q.refill()
					_ = safeHandle(ctx, handler, "memory", runID)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭队列并丢弃 backlog。发送都在锁内且不阻塞，关闭 channel 时不会有并发写入。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.backlog = nil
		close(q.ch)
	}
	return nil
}
