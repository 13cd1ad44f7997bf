package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	xerrors "SalesIntel/internal/errors"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultDialTimeout     = 5 * time.Second
)

// Config 描述报告历史库的连接参数，零值字段使用默认值。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c Config) withDefaults() Config {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	return c
}

// normalizeDSN 校验 DSN，并在未指定时补上拨号超时。
func normalizeDSN(dsn string) (string, error) {
	parsed, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeConfigInvalid, err, "invalid MySQL DSN")
	}
	if parsed.Timeout == 0 {
		parsed.Timeout = defaultDialTimeout
	}
	return parsed.FormatDSN(), nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	cfg = cfg.withDefaults()
	if cfg.DSN == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "MySQL DSN 不能为空")
	}
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 MySQL 连接失败")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "MySQL 不可达", xerrors.WithRetryable(true))
	}
	return db, nil
}
