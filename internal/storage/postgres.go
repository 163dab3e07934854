package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/masahif/idarchiver/internal/crawler"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS results (
    id BIGINT PRIMARY KEY,
    status INTEGER,
    title TEXT,
    download_header TEXT
);
ALTER TABLE results ADD COLUMN IF NOT EXISTS outcome TEXT NOT NULL DEFAULT 'ok';
ALTER TABLE results ADD COLUMN IF NOT EXISTS error TEXT;
ALTER TABLE results ADD COLUMN IF NOT EXISTS fetched_at TIMESTAMPTZ;
ALTER TABLE results ADD COLUMN IF NOT EXISTS run_id TEXT;
CREATE INDEX IF NOT EXISTS idx_results_outcome ON results(outcome);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    status TEXT NOT NULL DEFAULT 'running',
    error TEXT,
    backfilled BIGINT NOT NULL DEFAULT 0,
    enqueued BIGINT NOT NULL DEFAULT 0,
    archived BIGINT NOT NULL DEFAULT 0,
    duplicates BIGINT NOT NULL DEFAULT 0,
    deferred BIGINT NOT NULL DEFAULT 0,
    dropped BIGINT NOT NULL DEFAULT 0,
    unclaimed BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// pgxPool is the subset of *pgxpool.Pool used by PostgresStorage
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStorage implements the Storage interface using Postgres
type PostgresStorage struct {
	pool pgxPool
}

var _ crawler.Storage = (*PostgresStorage)(nil)

// NewPostgresStorage connects to dsn and prepares the schema
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// One writer plus startup/reporting queries
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresStorage{pool: pool}
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStorageWithPool constructs a store from an existing pool (primarily for testing)
func NewPostgresStorageWithPool(pool pgxPool) (*PostgresStorage, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStorage{pool: pool}, nil
}

// InitSchema creates or upgrades the tables; safe to run on every start
func (s *PostgresStorage) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// Frontier returns max(id) and count(id) over the results table
func (s *PostgresStorage) Frontier(ctx context.Context) (crawler.Frontier, error) {
	var f crawler.Frontier
	if err := s.pool.QueryRow(ctx, frontierSQL).Scan(&f.LastID, &f.Persisted); err != nil {
		return crawler.Frontier{}, fmt.Errorf("failed to read frontier: %w", err)
	}
	return f, nil
}

// MissingRanges returns the ID ranges in [1, upTo] that have no record
func (s *PostgresStorage) MissingRanges(ctx context.Context, upTo int64) ([]crawler.IDRange, error) {
	rows, err := s.pool.Query(ctx, rebind(missingRangesSQL), upTo)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing ranges: %w", err)
	}
	defer rows.Close()

	var ranges []crawler.IDRange
	for rows.Next() {
		var r crawler.IDRange
		if err := rows.Scan(&r.From, &r.To); err != nil {
			return nil, fmt.Errorf("failed to scan missing range: %w", err)
		}
		ranges = append(ranges, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query missing ranges: %w", err)
	}
	return ranges, nil
}

// InsertRecord stores rec; an existing ID is ignored and reported as not inserted
func (s *PostgresStorage) InsertRecord(ctx context.Context, rec *crawler.Record) (bool, error) {
	tag, err := s.pool.Exec(ctx, rebind(insertRecordSQL),
		rec.ID,
		rec.Status,
		rec.Title,
		rec.DownloadHeader,
		string(rec.Outcome),
		optionalString(rec.Error),
		optionalTime(rec.FetchedAt),
		optionalString(rec.RunID),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert record %d: %w", rec.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// BeginRun records the start of a run
func (s *PostgresStorage) BeginRun(ctx context.Context, run *crawler.RunInfo) error {
	if _, err := s.pool.Exec(ctx, rebind(beginRunSQL), run.ID, run.StartedAt, string(run.Status)); err != nil {
		return fmt.Errorf("failed to begin run: %w", err)
	}
	return nil
}

// FinishRun records the end of a run with its counters
func (s *PostgresStorage) FinishRun(ctx context.Context, run *crawler.RunInfo) error {
	st := run.Stats
	_, err := s.pool.Exec(ctx, rebind(finishRunSQL),
		run.FinishedAt,
		string(run.Status),
		optionalString(run.Error),
		st.Backfilled,
		st.Enqueued,
		st.Archived,
		st.Duplicates,
		st.Deferred,
		st.Dropped,
		st.Unclaimed,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// Summary returns the frontier, record counts per outcome, and the latest run
func (s *PostgresStorage) Summary(ctx context.Context) (*crawler.StoreSummary, error) {
	frontier, err := s.Frontier(ctx)
	if err != nil {
		return nil, err
	}
	summary := &crawler.StoreSummary{
		Frontier: frontier,
		Outcomes: make(map[crawler.Outcome]int64),
	}

	rows, err := s.pool.Query(ctx, outcomeCountsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		summary.Outcomes[crawler.Outcome(outcome)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	var run crawler.RunInfo
	var status string
	var finished *time.Time
	err = s.pool.QueryRow(ctx, lastRunSQL).Scan(
		&run.ID, &run.StartedAt, &finished, &status, &run.Error,
		&run.Stats.Backfilled, &run.Stats.Enqueued, &run.Stats.Archived, &run.Stats.Duplicates,
		&run.Stats.Deferred, &run.Stats.Dropped, &run.Stats.Unclaimed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return summary, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	run.Status = crawler.RunStatus(status)
	if finished != nil {
		run.FinishedAt = *finished
	}
	summary.LastRun = &run

	return summary, nil
}

// rebind rewrites ? placeholders to Postgres' $n form
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
