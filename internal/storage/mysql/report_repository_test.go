package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"SalesIntel/deploy/migrations"
	xerrors "SalesIntel/internal/errors"
)

func TestMemoryReportRepositoryPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryReportRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	first := ReportRecord{RunID: "run-1", Target: "Hindustan Unilever Limited", Industry: "FMCG", ReportPath: "a.txt", CreatedAt: 10}
	second := ReportRecord{RunID: "run-2", Target: "Infosys", Industry: "Technology", ReportPath: "b.txt", Emailed: true, CreatedAt: 20}
	for _, record := range []ReportRecord{first, second} {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	list, err := repo.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "run-2" {
		t.Fatalf("unexpected list result: %+v", list)
	}

	restored, err := NewMemoryReportRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	found, err := restored.FindByRunID(ctx, "run-2")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if !found.Emailed || found.Target != "Infosys" {
		t.Fatalf("unexpected restored record: %+v", found)
	}
	if _, err := restored.FindByRunID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryReportRepositorySkipsCorruptLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "{\"run_id\":\"run-1\",\"target\":\"HUL\"}\nnot-json\n"
	if err := os.WriteFile(filepath.Join(dir, historyFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	repo, err := NewMemoryReportRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}
	list, _ := repo.ListLatest(context.Background(), 0)
	if len(list) != 1 || list[0].Target != "HUL" {
		t.Fatalf("unexpected records: %+v", list)
	}
	if err := repo.Save(context.Background(), ReportRecord{}); err == nil {
		t.Fatalf("expected error for record without run id")
	}
}

func TestSQLReportRepositorySave(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertReportSQL(), mockResult{lastInsertID: 1, rowsAffected: 1}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLReportRepository{db: db}
	record := ReportRecord{RunID: "run-1", Target: "HUL", Industry: "FMCG", ReportPath: "r.txt", Emailed: true, CreatedAt: 1}
	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestSQLReportRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: reportColumns(),
		values: [][]driver.Value{
			{"run-2", "Infosys", "Technology", "b.txt", "summary", int64(1), int64(20)},
			{"run-1", "HUL", "FMCG", "a.txt", "", int64(0), int64(10)},
		},
	}

	db, driver := newMockDB(t, []mockOperation{
		queryOp(`SELECT run_id, target, industry, report_path, summary, emailed, created_at
    FROM reports ORDER BY created_at DESC, id DESC LIMIT ?`, rows),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLReportRepository{db: db}
	list, err := repo.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "run-2" || !list[0].Emailed || list[1].Emailed {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSQLReportRepositoryFindByRunID(t *testing.T) {
	t.Parallel()

	query := `SELECT run_id, target, industry, report_path, summary, emailed, created_at
    FROM reports WHERE run_id = ?`
	db, driver := newMockDB(t, []mockOperation{
		queryOp(query, mockRowsData{
			columns: reportColumns(),
			values:  [][]driver.Value{{"run-7", "HUL", "FMCG", "r.txt", "s", int64(0), int64(7)}},
		}),
		queryOp(query, mockRowsData{columns: reportColumns()}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLReportRepository{db: db}
	record, err := repo.FindByRunID(context.Background(), "run-7")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if record.ReportPath != "r.txt" || record.CreatedAt != 7 {
		t.Fatalf("unexpected record: %+v", record)
	}

	if _, err := repo.FindByRunID(context.Background(), "run-8"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLReportRepositoryRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createVersionTableSQL, mockResult{}),
		queryOp(selectVersionsSQL, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(), mockResult{rowsAffected: 0}),
		execOp(insertVersionSQL, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLReportRepository{db: db}
	if err := repo.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSQLReportRepositorySkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createVersionTableSQL, mockResult{}),
		queryOp(selectVersionsSQL, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLReportRepository{db: db}
	if err := repo.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestOpenDatabaseRequiresDSN(t *testing.T) {
	_, err := NewSQLReportRepository(context.Background(), Config{})
	if xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected config error for empty DSN, got %v", err)
	}
	_, err = NewSQLReportRepository(context.Background(), Config{DSN: "not a dsn"})
	if xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected config error for malformed DSN, got %v", err)
	}
}

func TestNormalizeDSNAddsTimeout(t *testing.T) {
	dsn, err := normalizeDSN("salesintel:secret@tcp(127.0.0.1:3306)/salesintel")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !strings.Contains(dsn, "timeout=5s") {
		t.Fatalf("expected default dial timeout, got %s", dsn)
	}
	dsn, err = normalizeDSN("salesintel:secret@tcp(127.0.0.1:3306)/salesintel?timeout=2s")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !strings.Contains(dsn, "timeout=2s") {
		t.Fatalf("explicit timeout should be kept, got %s", dsn)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{DSN: "  dsn  ", MaxOpenConns: 2, MaxIdleConns: 8}.withDefaults()
	if cfg.DSN != "dsn" || cfg.MaxIdleConns != 2 || cfg.ConnMaxLifetime != defaultConnMaxLifetime {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func reportColumns() []string {
	return []string{"run_id", "target", "industry", "report_path", "summary", "emailed", "created_at"}
}

func insertReportSQL() string {
	return `INSERT INTO reports
    (run_id, target, industry, report_path, summary, emailed, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE report_path = VALUES(report_path), summary = VALUES(summary), emailed = VALUES(emailed), created_at = VALUES(created_at)`
}

func readMigrationStatement() string {
	scripts, err := migrations.Load()
	if err != nil || len(scripts) == 0 {
		panic(fmt.Sprintf("failed to load migrations: %v", err))
	}
	return scripts[0].Statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
