// Package storage provides data persistence for the archiver.
// It implements the results and run-journal tables on SQLite (default) and
// Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/masahif/idarchiver/internal/crawler"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// Applied to every connection through the DSN so a reopened connection keeps them
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(FULL)",   // a committed record survives a crash right after the commit
	"busy_timeout(30000)", // 30 second timeout for locks
	"foreign_keys(ON)",
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ crawler.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}

	db, err := sql.Open("sqlite", dbPath+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	storage := &SQLiteStorage{db: db}

	if err := storage.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InitSchema creates missing tables and upgrades a legacy results table.
// It is safe to run on every start.
func (s *SQLiteStorage) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.migrateResults(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// migrateResults adds columns missing from a results table created by an
// older version and classifies the rows it already holds.
func (s *SQLiteStorage) migrateResults(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info('results')")
	if err != nil {
		return fmt.Errorf("failed to inspect results table: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan column name: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("failed to inspect results table: %w", err)
	}
	_ = rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	addedOutcome := false
	for _, col := range resultColumns {
		if existing[col.name] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE results ADD COLUMN %s %s", col.name, col.definition)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
		if col.name == "outcome" {
			addedOutcome = true
		}
	}

	if addedOutcome {
		if _, err := tx.ExecContext(ctx, classifyLegacySQL); err != nil {
			return fmt.Errorf("failed to classify legacy results: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Frontier returns max(id) and count(id) over the results table
func (s *SQLiteStorage) Frontier(ctx context.Context) (crawler.Frontier, error) {
	var f crawler.Frontier
	if err := s.db.QueryRowContext(ctx, frontierSQL).Scan(&f.LastID, &f.Persisted); err != nil {
		return crawler.Frontier{}, fmt.Errorf("failed to read frontier: %w", err)
	}
	return f, nil
}

// MissingRanges returns the ID ranges in [1, upTo] that have no record
func (s *SQLiteStorage) MissingRanges(ctx context.Context, upTo int64) ([]crawler.IDRange, error) {
	rows, err := s.db.QueryContext(ctx, missingRangesSQL, upTo)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing ranges: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// InsertRecord stores rec in its own committed transaction. A record whose ID
// is already present is ignored and reported as not inserted.
func (s *SQLiteStorage) InsertRecord(ctx context.Context, rec *crawler.Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, insertRecordSQL,
		rec.ID,
		rec.Status,
		rec.Title,
		rec.DownloadHeader,
		string(rec.Outcome),
		nullString(rec.Error),
		nullTime(rec.FetchedAt),
		nullString(rec.RunID),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert record %d: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result for %d: %w", rec.ID, err)
	}
	return n > 0, nil
}

// BeginRun records the start of a run
func (s *SQLiteStorage) BeginRun(ctx context.Context, run *crawler.RunInfo) error {
	if _, err := s.db.ExecContext(ctx, beginRunSQL, run.ID, run.StartedAt, string(run.Status)); err != nil {
		return fmt.Errorf("failed to begin run: %w", err)
	}
	return nil
}

// FinishRun records the end of a run with its counters
func (s *SQLiteStorage) FinishRun(ctx context.Context, run *crawler.RunInfo) error {
	st := run.Stats
	_, err := s.db.ExecContext(ctx, finishRunSQL,
		run.FinishedAt,
		string(run.Status),
		nullString(run.Error),
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
func (s *SQLiteStorage) Summary(ctx context.Context) (*crawler.StoreSummary, error) {
	frontier, err := s.Frontier(ctx)
	if err != nil {
		return nil, err
	}
	summary := &crawler.StoreSummary{
		Frontier: frontier,
		Outcomes: make(map[crawler.Outcome]int64),
	}

	rows, err := s.db.QueryContext(ctx, outcomeCountsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		summary.Outcomes[crawler.Outcome(outcome)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	var run crawler.RunInfo
	var status string
	var finished sql.NullTime
	err = s.db.QueryRowContext(ctx, lastRunSQL).Scan(
		&run.ID, &run.StartedAt, &finished, &status, &run.Error,
		&run.Stats.Backfilled, &run.Stats.Enqueued, &run.Stats.Archived, &run.Stats.Duplicates,
		&run.Stats.Deferred, &run.Stats.Dropped, &run.Stats.Unclaimed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	run.Status = crawler.RunStatus(status)
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	summary.LastRun = &run

	return summary, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
