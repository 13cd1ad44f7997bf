package task

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	xerrors "SalesIntel/internal/errors"
)

// MemoryStore 把运行保存在进程内，重启后丢失，适用于单机部署与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create 写入新运行，ID 重复时返回 ErrTaskConflict。
func (m *MemoryStore) Create(_ context.Context, run *Task) error {
	if run == nil || run.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run and run id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[run.ID]; exists {
		return ErrTaskConflict
	}
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.tasks[run.ID] = cloneTask(run)
	return nil
}

// Get 返回运行的副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if run, ok := m.tasks[id]; ok {
		return cloneTask(run), nil
	}
	return nil, ErrTaskNotFound
}

// mutate 在写锁内修改运行并刷新更新时间。fn 返回错误时不刷新。
func (m *MemoryStore) mutate(id string, fn func(run *Task) error) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := fn(run); err != nil {
		return cloneTask(run), err
	}
	run.UpdatedAt = time.Now().Unix()
	return cloneTask(run), nil
}

// Claim 把待处理运行切换为运行中并累加尝试次数。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	return m.mutate(id, func(run *Task) error {
		switch {
		case run.Status == StatusSucceeded:
			return ErrTaskCompleted
		case run.Status == StatusRunning:
			return ErrTaskConflict
		case run.exhausted():
			return ErrTaskExhausted
		}
		run.Status = StatusRunning
		run.Attempts++
		run.LastError, run.ErrorCode = "", ""
		return nil
	})
}

// MarkSucceeded 保存运行结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	result.Notes = slices.Clone(result.Notes)
	_, err := m.mutate(id, func(run *Task) error {
		run.Status = StatusSucceeded
		run.Result = &result
		run.LastError, run.ErrorCode = "", ""
		return nil
	})
	return err
}

// MarkFailed 记录失败原因。terminal 为 false 时运行回到 pending 等待重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	_, err := m.mutate(id, func(run *Task) error {
		run.Status = StatusPending
		if terminal {
			run.Status = StatusFailed
		}
		run.LastError, run.ErrorCode = lastError, string(code)
		return nil
	})
	return err
}

// List 按更新时间排序并分页返回匹配的运行。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()
	matched := m.collect(opts)

	slices.SortFunc(matched, func(a, b *Task) int {
		if opts.Order == SortByUpdatedAsc {
			if c := compareInt64(a.UpdatedAt, b.UpdatedAt); c != 0 {
				return c
			}
			if c := compareInt64(a.CreatedAt, b.CreatedAt); c != 0 {
				return c
			}
		} else {
			if c := compareInt64(b.UpdatedAt, a.UpdatedAt); c != 0 {
				return c
			}
			if c := compareInt64(b.CreatedAt, a.CreatedAt); c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})

	if opts.Offset >= len(matched) {
		return []*Task{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 统计匹配运行的状态分布，分页参数不参与统计。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()
	var stats TaskStats
	for _, run := range m.collect(opts) {
		stats.add(run)
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) collect(opts ListOptions) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, run := range m.tasks {
		if matchesListFilters(run, opts) {
			out = append(out, cloneTask(run))
		}
	}
	return out
}

func matchesListFilters(run *Task, opts ListOptions) bool {
	switch {
	case len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, run.Status):
		return false
	case opts.Industry != "" && !strings.EqualFold(run.Target.Industry, opts.Industry):
		return false
	case opts.UpdatedGTE > 0 && run.UpdatedAt < opts.UpdatedGTE:
		return false
	case opts.UpdatedLTE > 0 && run.UpdatedAt > opts.UpdatedLTE:
		return false
	case opts.HasResult != nil && run.Result.present() != *opts.HasResult:
		return false
	case opts.Query != "" && !matchesQuery(run, opts.Query):
		return false
	}
	return true
}

func matchesQuery(run *Task, query string) bool {
	query = strings.ToLower(query)
	fields := []string{run.Target.Name, run.Target.Industry, run.Target.KeyDecisionMaker, run.LastError}
	if run.Result != nil {
		fields = append(fields, run.Result.ReportPath, run.Result.Summary)
	}
	return slices.ContainsFunc(fields, func(field string) bool {
		return strings.Contains(strings.ToLower(field), query)
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var _ Store = (*MemoryStore)(nil)
