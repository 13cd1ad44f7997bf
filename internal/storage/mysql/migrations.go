package mysql

import (
	"context"
	"database/sql"
	"time"

	"SalesIntel/deploy/migrations"
	xerrors "SalesIntel/internal/errors"
)

const (
	createVersionTableSQL = `CREATE TABLE IF NOT EXISTS report_schema_versions (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`
	selectVersionsSQL = `SELECT version FROM report_schema_versions`
	insertVersionSQL  = `INSERT INTO report_schema_versions (version, applied_at) VALUES (?, ?)`
)

// runMigrations 依次执行尚未应用的内嵌脚本，每个脚本一个事务。
func (s *SQLReportRepository) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createVersionTableSQL); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建迁移版本表失败")
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	scripts, err := migrations.Load()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载迁移脚本失败")
	}

	for _, script := range scripts {
		if applied[script.Version] {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range script.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, insertVersionSQL, script.Version, time.Now().Unix())
			return err
		})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败", xerrors.WithMetadata("migration", script.Name))
		}
	}
	return nil
}

func (s *SQLReportRepository) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, selectVersionsSQL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询迁移版本失败")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析迁移版本失败")
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历迁移版本失败")
	}
	return applied, nil
}

// inTx 在事务中执行 fn，fn 返回错误时回滚。
func (s *SQLReportRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
