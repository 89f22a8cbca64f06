package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/research-scraper/internal/progress/sinks"
)

const (
	defaultRunsTable  = "scrape_runs"
	defaultSitesTable = "scrape_site_stats"
)

// ProgressStore records scrape run lifecycle and per-site fetch counters. It
// shares the connection pool of the DocumentIndex that created it.
type ProgressStore struct {
	pool  execCloser
	runs  string
	sites string
}

var _ sinks.Repository = (*ProgressStore)(nil)

// ProgressStore returns a progress repository backed by the same pool.
func (i *DocumentIndex) ProgressStore(runsTable, sitesTable string) (*ProgressStore, error) {
	if i == nil || i.pool == nil {
		return nil, fmt.Errorf("document index is not configured")
	}
	return newProgressStore(i.pool, runsTable, sitesTable)
}

func newProgressStore(pool execCloser, runsTable, sitesTable string) (*ProgressStore, error) {
	if runsTable == "" {
		runsTable = defaultRunsTable
	}
	if sitesTable == "" {
		sitesTable = defaultSitesTable
	}
	runs, err := tableName(runsTable)
	if err != nil {
		return nil, err
	}
	sites, err := tableName(sitesTable)
	if err != nil {
		return nil, err
	}
	return &ProgressStore{pool: pool, runs: runs, sites: sites}, nil
}

// EnsureSchema creates the run and site tables when missing.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
)`, s.runs)
	if _, err := s.pool.Exec(ctx, runs); err != nil {
		return fmt.Errorf("create %s table: %w", s.runs, err)
	}
	sites := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL,
	site TEXT NOT NULL,
	status_class TEXT NOT NULL,
	fetches BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, site, status_class)
)`, s.sites)
	if _, err := s.pool.Exec(ctx, sites); err != nil {
		return fmt.Errorf("create %s table: %w", s.sites, err)
	}
	return nil
}

// StartRun inserts the run row; replaying a start keeps the first timestamp.
func (s *ProgressStore) StartRun(ctx context.Context, runID string, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at) VALUES ($1, $2)
ON CONFLICT (run_id) DO NOTHING`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, at); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the run with its final counts.
func (s *ProgressStore) FinishRun(ctx context.Context, runID string, at time.Time, succeeded, failed int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, finished_at, succeeded, failed) VALUES ($1, $2, $2, $3, $4)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, at, succeeded, failed); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// AddSiteStats adds delta to the matching (run, site, status class) row.
func (s *ProgressStore) AddSiteStats(ctx context.Context, delta sinks.SiteDelta) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (run_id, site, status_class, fetches, bytes_total, last_update)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, site, status_class) DO UPDATE SET
	fetches = %[1]s.fetches + EXCLUDED.fetches,
	bytes_total = %[1]s.bytes_total + EXCLUDED.bytes_total,
	last_update = GREATEST(%[1]s.last_update, EXCLUDED.last_update)`, s.sites)
	args := []any{delta.RunID, delta.Site, delta.StatusClass, delta.Fetches, delta.Bytes, delta.At}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}
