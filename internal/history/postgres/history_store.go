// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// HistoryStoreConfig controls the Postgres connection pool used for
// task history rows.
type HistoryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// HistoryStore writes terminal task records into Postgres.
type HistoryStore struct {
	pool  pgxPool
	table string
}

// NewHistoryStore creates a Postgres-backed HistoryStore using the provided config.
func NewHistoryStore(ctx context.Context, cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "task_history"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &HistoryStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewHistoryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewHistoryStoreWithPool(pool pgxPool, table string) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "task_history"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &HistoryStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history table when it does not exist.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	result TEXT,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	retry_count INT NOT NULL DEFAULT 0
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// Record upserts a terminal task row keyed by task ID.
func (s *HistoryStore) Record(ctx context.Context, rec agent.HistoryRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	status,
	priority,
	result,
	error,
	created_at,
	started_at,
	completed_at,
	duration_ms,
	retry_count
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	result = EXCLUDED.result,
	error = EXCLUDED.error,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	duration_ms = EXCLUDED.duration_ms,
	retry_count = EXCLUDED.retry_count`, s.table)

	args := []any{
		rec.ID,
		rec.Name,
		string(rec.Status),
		rec.Priority.String(),
		rec.Result,
		rec.Error,
		rec.CreatedAt,
		rec.StartedAt,
		rec.CompletedAt,
		rec.Duration.Milliseconds(),
		rec.RetryCount,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task history: %w", err)
	}
	return nil
}

// Recent returns up to limit records ordered most recently completed first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]agent.HistoryRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, name, status, priority, result, error, created_at, started_at, completed_at, duration_ms, retry_count
FROM %s
ORDER BY completed_at DESC NULLS LAST
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query task history: %w", err)
	}
	defer rows.Close()

	var out []agent.HistoryRecord
	for rows.Next() {
		var (
			rec        agent.HistoryRecord
			status     string
			priority   string
			durationMs int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Name,
			&status,
			&priority,
			&rec.Result,
			&rec.Error,
			&rec.CreatedAt,
			&rec.StartedAt,
			&rec.CompletedAt,
			&durationMs,
			&rec.RetryCount,
		); err != nil {
			return nil, fmt.Errorf("scan task history row: %w", err)
		}
		rec.Status = agent.Status(status)
		p, err := agent.ParsePriority(priority)
		if err != nil {
			p = agent.PriorityNormal
		}
		rec.Priority = p
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task history rows: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection is healthy.
func (s *HistoryStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	return s.pool.Ping(ctx)
}
