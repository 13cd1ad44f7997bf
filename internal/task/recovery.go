package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SalesIntel/internal/storage/mysql"
)

// RecoveryHandler 为不可重试的失败提供降级结果。返回 nil 结果表示放弃降级。
type RecoveryHandler interface {
	Recover(ctx context.Context, run *Task, cause error) (*ExecutionResult, error)
}

// RecoveryFunc 把普通函数适配为 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, run *Task, cause error) (*ExecutionResult, error)

// Recover 调用 f。
func (f RecoveryFunc) Recover(ctx context.Context, run *Task, cause error) (*ExecutionResult, error) {
	return f(ctx, run, cause)
}

const historyScanLimit = 200

// LastReportRecovery 在本次运行失败时复用同一目标最近一次成功的报告。
type LastReportRecovery struct {
	History mysql.ReportRepository
	// MaxAge 为零时不限制历史报告的时效。
	MaxAge time.Duration
}

// Recover 在历史中按目标名称与行业查找最近的报告，找不到时返回 nil。
func (r LastReportRecovery) Recover(ctx context.Context, run *Task, cause error) (*ExecutionResult, error) {
	if r.History == nil || run == nil {
		return nil, nil
	}
	records, err := r.History.ListLatest(ctx, historyScanLimit)
	if err != nil {
		return nil, fmt.Errorf("load report history: %w", err)
	}

	var cutoff int64
	if r.MaxAge > 0 {
		cutoff = time.Now().Add(-r.MaxAge).Unix()
	}
	for _, record := range records {
		if record.RunID == run.ID || record.ReportPath == "" {
			continue
		}
		if !strings.EqualFold(record.Target, run.Target.Name) || !strings.EqualFold(record.Industry, run.Target.Industry) {
			continue
		}
		if cutoff > 0 && record.CreatedAt < cutoff {
			break
		}
		return &ExecutionResult{
			ReportPath: record.ReportPath,
			Summary:    record.Summary,
			Notes: []string{
				fmt.Sprintf("degraded: reused report of run %s because %v", record.RunID, cause),
			},
		}, nil
	}
	return nil, nil
}
