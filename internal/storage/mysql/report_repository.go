package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	historyFileName  = "reports.log"
	maxMemoryRecords = 512
	defaultListLimit = 20
)

// ErrNotFound 表示报告记录不存在。
var ErrNotFound = errors.New("report record not found")

// ReportRecord 表示一次分析运行产出的报告记录。
type ReportRecord struct {
	RunID      string `json:"run_id"`
	Target     string `json:"target"`
	Industry   string `json:"industry"`
	ReportPath string `json:"report_path"`
	Summary    string `json:"summary"`
	Emailed    bool   `json:"emailed"`
	CreatedAt  int64  `json:"created_at"`
}

// ReportRepository 抽象报告历史的持久化接口。
type ReportRepository interface {
	Save(ctx context.Context, record ReportRecord) error
	ListLatest(ctx context.Context, limit int) ([]ReportRecord, error)
	FindByRunID(ctx context.Context, runID string) (*ReportRecord, error)
}

// MemoryReportRepository 在内存中保存最近的报告，并以 JSON Lines 追加写入本地文件，重启后可恢复。
type MemoryReportRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ReportRecord
}

// NewMemoryReportRepository 创建基于本地文件的报告仓库。
func NewMemoryReportRepository(dataDir string) (*MemoryReportRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryReportRepository{dataFile: filepath.Join(dataDir, historyFileName)}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录报告。
func (m *MemoryReportRepository) Save(_ context.Context, record ReportRecord) error {
	if strings.TrimSpace(record.RunID) == "" {
		return fmt.Errorf("报告记录缺少 run_id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开报告日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化报告记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入报告日志失败: %w", err)
	}

	m.records = append([]ReportRecord{record}, m.records...)
	if len(m.records) > maxMemoryRecords {
		m.records = m.records[:maxMemoryRecords]
	}
	return nil
}

// ListLatest 返回最近的报告记录，按写入时间倒序。
func (m *MemoryReportRepository) ListLatest(_ context.Context, limit int) ([]ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]ReportRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// FindByRunID 查找指定运行的最新报告。
func (m *MemoryReportRepository) FindByRunID(_ context.Context, runID string) (*ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.records {
		if record.RunID == runID {
			found := record
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryReportRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取报告日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ReportRecord
	for scanner.Scan() {
		var record ReportRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ReportRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析报告日志失败: %w", err)
	}

	if len(restored) > maxMemoryRecords {
		restored = restored[:maxMemoryRecords]
	}
	m.records = restored
	return nil
}

// SQLReportRepository 使用 MySQL 存储报告历史。
type SQLReportRepository struct {
	db *sql.DB
}

// NewSQLReportRepository 建立连接池并执行内嵌的迁移脚本。
func NewSQLReportRepository(ctx context.Context, cfg Config) (*SQLReportRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLReportRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

const selectReportColumns = `SELECT run_id, target, industry, report_path, summary, emailed, created_at
    FROM reports`

// Save 写入一条报告记录，同一 run_id 重复写入时覆盖旧值。
func (s *SQLReportRepository) Save(ctx context.Context, record ReportRecord) error {
	const stmt = `INSERT INTO reports
    (run_id, target, industry, report_path, summary, emailed, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE report_path = VALUES(report_path), summary = VALUES(summary), emailed = VALUES(emailed), created_at = VALUES(created_at)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.RunID,
		record.Target,
		record.Industry,
		record.ReportPath,
		record.Summary,
		record.Emailed,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入报告记录失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条报告记录。
func (s *SQLReportRepository) ListLatest(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectReportColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询报告记录失败: %w", err)
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		record, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历报告记录失败: %w", err)
	}
	return records, nil
}

// FindByRunID 按运行 ID 查询报告。
func (s *SQLReportRepository) FindByRunID(ctx context.Context, runID string) (*ReportRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectReportColumns+` WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("查询报告记录失败: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("遍历报告记录失败: %w", err)
		}
		return nil, ErrNotFound
	}
	record, err := scanReport(rows)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Close 关闭底层数据库连接。
func (s *SQLReportRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanReport(rows *sql.Rows) (ReportRecord, error) {
	var record ReportRecord
	if err := rows.Scan(&record.RunID, &record.Target, &record.Industry, &record.ReportPath, &record.Summary, &record.Emailed, &record.CreatedAt); err != nil {
		return ReportRecord{}, fmt.Errorf("解析报告记录失败: %w", err)
	}
	return record, nil
}
