package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"SalesIntel/internal/agent"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/llm"
	"SalesIntel/internal/mailer"
	"SalesIntel/internal/report"
	"SalesIntel/internal/storage/mysql"
	"SalesIntel/pkg/logger"
)

const summaryLimit = 280

// ReportSender 负责把报告以附件形式发送出去，mailer.SMTPSender 是默认实现。
type ReportSender interface {
	SendReport(ctx context.Context, msg mailer.Message) error
}

// RunRequest 描述一次完整的分析运行。
type RunRequest struct {
	RunID      string
	Target     Target
	Recipients []string
	SendEmail  bool
}

// RunResult 汇总一次运行的全部产出。
type RunResult struct {
	RunID      string              `json:"run_id"`
	Target     Target              `json:"target"`
	Stages     []agent.StageOutput `json:"stages"`
	ReportPath string              `json:"report_path"`
	Report     string              `json:"report"`
	Emailed    bool                `json:"emailed"`
	Notes      []string            `json:"notes,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Summary 返回最后一个阶段产出的摘要。
func (r *RunResult) Summary() string {
	if r == nil || len(r.Stages) == 0 {
		return ""
	}
	return llm.Truncate(r.Stages[len(r.Stages)-1].Output, summaryLimit)
}

// Runner 串联 Crew、报告写入、邮件发送与历史记录。
type Runner struct {
	crew       *Crew
	writer     *report.Writer
	sender     ReportSender
	history    mysql.ReportRepository
	recipients []string
	now        func() time.Time
	logger     *slog.Logger
}

// RunnerOption 定义 Runner 的可选配置。
type RunnerOption func(*Runner)

// WithSender 配置邮件发送器。
func WithSender(sender ReportSender) RunnerOption {
	return func(r *Runner) { r.sender = sender }
}

// WithDefaultRecipients 配置未显式指定收件人时使用的地址。
func WithDefaultRecipients(recipients []string) RunnerOption {
	return func(r *Runner) { r.recipients = append([]string(nil), recipients...) }
}

// WithHistory 配置报告历史仓库。
func WithHistory(repo mysql.ReportRepository) RunnerOption {
	return func(r *Runner) { r.history = repo }
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunnerLogger 指定日志输出。
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.logger = log
		}
	}
}

// NewRunner 创建运行器。
func NewRunner(crew *Crew, writer *report.Writer, opts ...RunnerOption) *Runner {
	r := &Runner{crew: crew, writer: writer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.writer == nil {
		r.writer = report.NewWriter("")
	}
	if r.logger == nil {
		r.logger = logger.Named("runner")
	}
	return r
}

// Execute 执行流水线、生成并写入报告，按需发送邮件并记录历史。
// 邮件和历史记录失败只写入 Notes，不会让运行失败。
func (r *Runner) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	if r.crew == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "pipeline crew is not configured")
	}
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:     req.RunID,
		Target:    req.Target,
		StartedAt: r.now(),
	}
	log := r.logger.With(slog.String("run_id", req.RunID), slog.String("target", req.Target.Name))
	log.Info("run started")

	stages, err := r.crew.Run(ctx, req.Target)
	result.Stages = stages
	if err != nil {
		return result, err
	}

	generatedAt := r.now()
	result.Report = report.Format(r.document(req.Target, generatedAt, stages))
	path, err := r.writer.Write(report.FileName(req.Target.Name, generatedAt), result.Report)
	if err != nil {
		return result, err
	}
	result.ReportPath = path
	log.Info("report written", slog.String("path", path))

	if req.SendEmail {
		r.deliver(ctx, req, result, log)
	}
	r.record(ctx, req, result, log)

	result.FinishedAt = r.now()
	logger.Audit().Info("run completed",
		slog.String("run_id", req.RunID),
		slog.String("target", req.Target.Name),
		slog.String("report_path", path),
		slog.Bool("emailed", result.Emailed))
	return result, nil
}

func (r *Runner) document(target Target, at time.Time, stages []agent.StageOutput) report.Document {
	sections := make([]report.Section, 0, len(stages))
	for _, out := range stages {
		sections = append(sections, report.Section{Description: out.Description, Output: out.Output})
	}
	return report.Document{
		Target:       target.Name,
		Industry:     target.Industry,
		GeneratedAt:  at,
		Sections:     sections,
		Agents:       r.crew.Roles(),
		TasksDefined: len(r.crew.Stages()),
	}
}

func (r *Runner) deliver(ctx context.Context, req RunRequest, result *RunResult, log *slog.Logger) {
	recipients := req.Recipients
	if len(recipients) == 0 {
		recipients = r.recipients
	}
	switch {
	case r.sender == nil:
		result.Notes = append(result.Notes, "email skipped: mail delivery is not configured")
		return
	case len(recipients) == 0:
		result.Notes = append(result.Notes, "email skipped: no recipient provided")
		return
	}

	err := r.sender.SendReport(ctx, mailer.Message{
		To:      recipients,
		Subject: fmt.Sprintf("%s Strategic Analysis Report", req.Target.Name),
		Body: fmt.Sprintf("Please find attached the strategic analysis report for %s (%s), generated on %s.",
			req.Target.Name, req.Target.Industry, result.StartedAt.Format(time.RFC1123)),
		AttachmentPath: result.ReportPath,
	})
	if err != nil {
		log.Warn("report email failed", slog.Any("error", err))
		result.Notes = append(result.Notes, "email failed: "+err.Error())
		return
	}
	result.Emailed = true
	result.Notes = append(result.Notes, "report emailed to "+strings.Join(recipients, ", "))
}

func (r *Runner) record(ctx context.Context, req RunRequest, result *RunResult, log *slog.Logger) {
	if r.history == nil || req.RunID == "" {
		return
	}
	err := r.history.Save(ctx, mysql.ReportRecord{
		RunID:      req.RunID,
		Target:     req.Target.Name,
		Industry:   req.Target.Industry,
		ReportPath: result.ReportPath,
		Summary:    result.Summary(),
		Emailed:    result.Emailed,
		CreatedAt:  r.now().Unix(),
	})
	if err != nil {
		log.Warn("record report history failed", slog.Any("error", err))
		result.Notes = append(result.Notes, "history not recorded: "+err.Error())
	}
}
