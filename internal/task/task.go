package task

import (
	"strings"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/pipeline"
)

// Status 表示一次分析运行在队列中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 是写回任务的运行摘要，完整报告保存在 ReportPath 指向的文件中。
type ExecutionResult struct {
	ReportPath string   `json:"report_path"`
	Summary    string   `json:"summary"`
	Emailed    bool     `json:"emailed"`
	Stages     int      `json:"stages"`
	Notes      []string `json:"notes,omitempty"`
}

func (r *ExecutionResult) present() bool {
	return r != nil && (r.ReportPath != "" || r.Summary != "")
}

// Task 描述排队执行的分析运行。
type Task struct {
	ID         string           `json:"id"`
	Target     pipeline.Target  `json:"target"`
	Recipients []string         `json:"recipients,omitempty"`
	SendEmail  bool             `json:"send_email"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Finished 报告运行是否已经到达终态。
func (t *Task) Finished() bool {
	return t != nil && (t.Status == StatusSucceeded || t.Status == StatusFailed)
}

// exhausted 报告运行是否已用完全部尝试次数。
func (t *Task) exhausted() bool {
	return t.Attempts >= t.MaxRetries
}

// SubmitRequest 是提交分析运行的请求。ID 非空时重复提交返回已有任务。
type SubmitRequest struct {
	ID         string          `json:"id,omitempty"`
	Target     pipeline.Target `json:"target"`
	Recipients []string        `json:"recipients,omitempty"`
	SendEmail  bool            `json:"send_email"`
}

// normalize 去掉首尾空白并对收件人去重，随后校验目标与邮箱。
func (r *SubmitRequest) normalize() error {
	r.ID = strings.TrimSpace(r.ID)
	r.Target.Name = strings.TrimSpace(r.Target.Name)
	r.Target.Industry = strings.TrimSpace(r.Target.Industry)
	r.Target.KeyDecisionMaker = strings.TrimSpace(r.Target.KeyDecisionMaker)
	r.Target.Position = strings.TrimSpace(r.Target.Position)
	r.Target.Milestone = strings.TrimSpace(r.Target.Milestone)
	if err := r.Target.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(r.Recipients))
	recipients := make([]string, 0, len(r.Recipients))
	for _, to := range r.Recipients {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}
		at := strings.Index(to, "@")
		if at <= 0 || at == len(to)-1 {
			return xerrors.New(CodeTaskValidation, "收件人邮箱格式无效: "+to)
		}
		key := strings.ToLower(to)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		recipients = append(recipients, to)
	}
	r.Recipients = recipients
	return nil
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
	CodeTaskCompensate xerrors.Code = "TASK_COMPENSATION_FAILED"
)

var taskCodes = map[xerrors.Code]xerrors.Attributes{
	CodeTaskNotFound:   {Message: "run not found", Severity: xerrors.SeverityInfo},
	CodeTaskConflict:   {Message: "run is already being processed", Severity: xerrors.SeverityWarning},
	CodeTaskCompleted:  {Message: "run already completed", Severity: xerrors.SeverityInfo},
	CodeTaskExhausted:  {Message: "run retries exhausted", Severity: xerrors.SeverityCritical, Alert: true},
	CodeTaskValidation: {Message: "run request is invalid", Severity: xerrors.SeverityInfo},
	CodeTaskPublish:    {Message: "failed to enqueue run", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true},
	CodeTaskProcessing: {Message: "run execution failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true},
	CodeTaskCompensate: {Message: "run fallback failed", Severity: xerrors.SeverityCritical, Alert: true},
}

func init() {
	for code, attrs := range taskCodes {
		xerrors.Register(code, attrs)
	}
}

var (
	// ErrTaskNotFound 表示指定的运行不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "run not found")
	// ErrTaskConflict 表示运行在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "run is already being processed")
	// ErrTaskCompleted 表示运行已经成功完成。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "run already completed")
	// ErrTaskExhausted 表示运行的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "run retries exhausted")
)

// IsTaskError 判断错误链中是否带有指定的任务错误码。
func IsTaskError(err error, code xerrors.Code) bool {
	return err != nil && xerrors.HasCode(err, code)
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneTask(task *Task) *Task {
	clone := *task
	clone.Recipients = append([]string(nil), task.Recipients...)
	if task.Result != nil {
		resultCopy := *task.Result
		resultCopy.Notes = append([]string(nil), task.Result.Notes...)
		clone.Result = &resultCopy
	}
	return &clone
}
