package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SalesIntel/internal/errors"
)

// MySQLStoreConfig 描述任务存储的连接池参数。
type MySQLStoreConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 使用 MySQL 记录任务状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(ctx context.Context, cfg MySQLStoreConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(valueOr(cfg.MaxOpenConns, 20))
	db.SetMaxIdleConns(valueOr(cfg.MaxIdleConns, 10))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(10 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func valueOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS run_tasks (
        id VARCHAR(64) PRIMARY KEY,
        target_name VARCHAR(255) NOT NULL,
        industry VARCHAR(255) NOT NULL,
        key_decision_maker VARCHAR(255) DEFAULT '',
        position VARCHAR(255) DEFAULT '',
        milestone TEXT,
        recipients TEXT,
        send_email TINYINT(1) NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_report_path VARCHAR(1024) DEFAULT '',
        result_summary TEXT,
        result_emailed TINYINT(1) NOT NULL DEFAULT 0,
        result_stages INT NOT NULL DEFAULT 0,
        result_notes TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_run_status (status),
        INDEX idx_run_updated (updated_at)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 run_tasks 表失败")
	}
	return nil
}

const selectTaskColumns = `SELECT id, target_name, industry, key_decision_maker, position, milestone, recipients, send_email,
        status, attempts, max_retries, last_error, error_code,
        result_report_path, result_summary, result_emailed, result_stages, result_notes, created_at, updated_at
        FROM run_tasks`

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	task.CreatedAt = now
	task.UpdatedAt = now

	recipients, err := marshalStrings(task.Recipients)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码收件人失败")
	}

	const stmt = `INSERT INTO run_tasks
        (id, target_name, industry, key_decision_maker, position, milestone, recipients, send_email,
        status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.Target.Name,
		task.Target.Industry,
		task.Target.KeyDecisionMaker,
		task.Target.Position,
		task.Target.Milestone,
		recipients,
		task.SendEmail,
		task.Status,
		task.Attempts,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task       Task
		result     ExecutionResult
		milestone  sql.NullString
		recipients sql.NullString
		lastError  sql.NullString
		summary    sql.NullString
		notes      sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.Target.Name,
		&task.Target.Industry,
		&task.Target.KeyDecisionMaker,
		&task.Target.Position,
		&milestone,
		&recipients,
		&task.SendEmail,
		&task.Status,
		&task.Attempts,
		&task.MaxRetries,
		&lastError,
		&task.ErrorCode,
		&result.ReportPath,
		&summary,
		&result.Emailed,
		&result.Stages,
		&notes,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Target.Milestone = milestone.String
	task.LastError = lastError.String
	result.Summary = summary.String

	var err error
	if task.Recipients, err = unmarshalStrings(recipients); err != nil {
		return nil, fmt.Errorf("解析收件人失败: %w", err)
	}
	if result.Notes, err = unmarshalStrings(notes); err != nil {
		return nil, fmt.Errorf("解析运行备注失败: %w", err)
	}
	if result.present() {
		task.Result = &result
	}
	return &task, nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, selectTaskColumns+` WHERE id = ?`, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	const updateStmt = `UPDATE run_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	task, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected == 0 {
		switch {
		case task.Status == StatusSucceeded:
			return task, ErrTaskCompleted
		case task.Status == StatusRunning:
			return task, ErrTaskConflict
		case task.Attempts >= task.MaxRetries:
			return task, ErrTaskExhausted
		default:
			return task, ErrTaskConflict
		}
	}
	return task, nil
}

// MarkSucceeded 将任务标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	const stmt = `UPDATE run_tasks SET status = ?, result_report_path = ?, result_summary = ?, result_emailed = ?,
        result_stages = ?, result_notes = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	notes, err := marshalStrings(result.Notes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码运行备注失败")
	}
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		result.ReportPath,
		result.Summary,
		result.Emailed,
		result.Stages,
		notes,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkFailed 记录失败原因；非终态失败时任务回到 pending 等待重投。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE run_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	res, err := s.db.ExecContext(ctx, stmt,
		status,
		lastError,
		string(code),
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := selectTaskColumns
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id ASC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回匹配运行的状态分布、发信数量与行业分布。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()
	where, filterArgs := buildFilterClause(opts)
	if where != "" {
		where = " WHERE " + where
	}

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(status = ?), 0),
        COALESCE(SUM(status = ?), 0),
        COALESCE(SUM(status = ?), 0),
        COALESCE(SUM(status = ?), 0),
        COALESCE(SUM(result_emailed = 1), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM run_tasks` + where
	args := append([]any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}, filterArgs...)

	var stats TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Emailed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行统计失败")
	}
	if stats.Total == 0 {
		return stats, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT industry, COUNT(*) FROM run_tasks"+where+" GROUP BY industry", filterArgs...)
	if err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询行业分布失败")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			industry string
			count    int
		)
		if err := rows.Scan(&industry, &count); err != nil {
			return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析行业分布失败")
		}
		if industry == "" {
			continue
		}
		if stats.ByIndustry == nil {
			stats.ByIndustry = make(map[string]int)
		}
		stats.ByIndustry[industry] += count
	}
	if err := rows.Err(); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历行业分布失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalStrings(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func unmarshalStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Industry != "" {
		conditions = append(conditions, "LOWER(industry) = LOWER(?)")
		args = append(args, opts.Industry)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result_report_path <> '' OR (result_summary IS NOT NULL AND result_summary <> ''))")
		} else {
			conditions = append(conditions, "(result_report_path = '' AND (result_summary IS NULL OR result_summary = ''))")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(target_name LIKE ? OR industry LIKE ? OR key_decision_maker LIKE ? OR last_error LIKE ? OR result_report_path LIKE ? OR result_summary LIKE ?)")
		for i := 0; i < 6; i++ {
			args = append(args, pattern)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
