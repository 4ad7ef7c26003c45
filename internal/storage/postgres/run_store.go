// Package postgres provides Postgres-backed persistence for crawl runs.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edx-tools/edx-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	RunsTable       string
	UnitsTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes crawl run and unit rows into Postgres.
type RunStore struct {
	pool       execCloser
	runsTable  string
	unitsTable string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	runsTable, unitsTable, err := tableNames(cfg.RunsTable, cfg.UnitsTable)
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
	return &RunStore{
		pool:       pool,
		runsTable:  runsTable,
		unitsTable: unitsTable,
	}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, runsTable, unitsTable string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	runs, units, err := tableNames(runsTable, unitsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, runsTable: runs, unitsTable: units}, nil
}

func tableNames(runs, units string) (string, string, error) {
	if runs == "" {
		runs = "crawl_runs"
	}
	if units == "" {
		units = "crawl_units"
	}
	for _, table := range []string{runs, units} {
		if !validTableName.MatchString(table) {
			return "", "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return runs, units, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts the bookkeeping row for a starting run.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.Run) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	platform,
	course_id,
	course_name,
	course_url,
	started_at,
	status
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.runsTable)

	args := []any{
		run.ID,
		run.Platform,
		run.CourseID,
		run.CourseName,
		run.CourseURL,
		run.StartedAt,
		string(run.Status),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun records the final status, error text and counters of a run.
func (s *RunStore) CompleteRun(ctx context.Context, runID uuid.UUID, status crawler.RunStatus, errText string, counters crawler.RunCounters) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	finished_at = $2,
	status = $3,
	error_message = NULLIF($4, ''),
	units = $5,
	text_blocks = $6,
	problem_blocks = $7,
	video_blocks = $8,
	resources = $9,
	bytes = $10
WHERE run_id = $1`, s.runsTable)

	args := []any{
		runID,
		time.Now().UTC(),
		string(status),
		errText,
		counters.Units,
		counters.TextBlocks,
		counters.ProblemBlocks,
		counters.VideoBlocks,
		counters.Resources,
		counters.Bytes,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// RecordUnit inserts one persisted unit page.
func (s *RunStore) RecordUnit(ctx context.Context, unit crawler.UnitRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	course_id,
	section,
	subsection,
	unit,
	filename,
	bytes,
	retrieved_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.unitsTable)

	args := []any{
		unit.RunID,
		unit.CourseID,
		unit.Section,
		unit.SubSection,
		unit.Unit,
		unit.Filename,
		unit.Bytes,
		unit.RetrievedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}
