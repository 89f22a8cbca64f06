// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "documents"

// Config controls the Postgres connection pool used for document rows.
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

// DocumentIndex upserts one row per stored URL into Postgres.
type DocumentIndex struct {
	pool  execCloser
	table string
}

// NewDocumentIndex creates a Postgres-backed DocumentIndex using the provided config.
func NewDocumentIndex(ctx context.Context, cfg Config) (*DocumentIndex, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &DocumentIndex{pool: pool, table: table}, nil
}

// NewDocumentIndexWithPool constructs an index from an existing pool (primarily for testing).
func NewDocumentIndexWithPool(pool execCloser, table string) (*DocumentIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DocumentIndex{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (i *DocumentIndex) Close() {
	if i == nil || i.pool == nil {
		return
	}
	i.pool.Close()
}

// Ping verifies the database is reachable.
func (i *DocumentIndex) Ping(ctx context.Context) error {
	if i == nil || i.pool == nil {
		return fmt.Errorf("document index is not configured")
	}
	if err := i.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the documents table when it does not exist.
func (i *DocumentIndex) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	content_hash TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	file_name TEXT NOT NULL,
	strategy TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
)`, i.table)
	if _, err := i.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", i.table, err)
	}
	return nil
}

// RecordDocument upserts the row for a stored document. Rows are keyed by
// content hash, so re-fetching a URL replaces its previous row.
func (i *DocumentIndex) RecordDocument(ctx context.Context, record crawler.DocumentRecord) error {
	if i == nil || i.pool == nil {
		return fmt.Errorf("document index is not configured")
	}
	if record.ContentHash == "" {
		return fmt.Errorf("content hash is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	content_hash,
	run_id,
	url,
	file_name,
	strategy,
	status_code,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (content_hash) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	file_name = EXCLUDED.file_name,
	strategy = EXCLUDED.strategy,
	status_code = EXCLUDED.status_code,
	fetched_at = EXCLUDED.fetched_at`, i.table)

	args := []any{
		record.ContentHash,
		record.RunID,
		record.URL,
		record.FileName,
		string(record.Strategy),
		record.StatusCode,
		record.FetchedAt,
	}
	if _, err := i.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}
