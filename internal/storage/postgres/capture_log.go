// Package postgres provides Postgres-backed persistence for the capture log.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pagesnap/internal/snapshot"
)

const defaultTable = "captures"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for capture log rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// CaptureLog writes one row per orchestration into Postgres.
type CaptureLog struct {
	pool  execCloser
	table string
	query string
}

// NewCaptureLog connects a pool using cfg.
func NewCaptureLog(ctx context.Context, cfg Config) (*CaptureLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log, err := NewCaptureLogWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return log, nil
}

// NewCaptureLogWithPool constructs a log from an existing pool (primarily for testing).
func NewCaptureLogWithPool(pool execCloser, table string) (*CaptureLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CaptureLog{
		pool:  pool,
		table: table,
		query: fmt.Sprintf(`
INSERT INTO %s (
	id,
	source_url,
	engine,
	asset_id,
	succeeded,
	primary_error,
	fallback_error,
	duration_ms,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, table),
	}, nil
}

// Close releases the underlying pool resources.
func (l *CaptureLog) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (l *CaptureLog) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Record inserts a capture log row.
func (l *CaptureLog) Record(ctx context.Context, rec snapshot.CaptureRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("capture log is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	args := []any{
		rec.ID,
		rec.SourceURL,
		nullable(rec.Engine),
		nullable(rec.AssetID),
		rec.Succeeded,
		nullable(rec.PrimaryError),
		nullable(rec.FallbackError),
		rec.Duration.Milliseconds(),
		rec.CapturedAt.UTC(),
	}
	if _, err := l.pool.Exec(ctx, l.query, args...); err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
