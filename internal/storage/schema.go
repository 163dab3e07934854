package storage

// schemaSQL creates the tables. Indexes live in indexSQL because a legacy
// results table only gains the outcome column during migration.
const schemaSQL = `
-- One row per catalog ID; rows are never updated once written
CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY,
    status INTEGER,
    title TEXT,
    download_header TEXT,
    outcome TEXT NOT NULL DEFAULT 'ok' CHECK (outcome IN ('ok', 'http_error', 'transport_error', 'parse_error')),
    error TEXT,
    fetched_at DATETIME,
    run_id TEXT
);

-- Run journal, one row per process run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
    error TEXT,
    backfilled INTEGER NOT NULL DEFAULT 0,
    enqueued INTEGER NOT NULL DEFAULT 0,
    archived INTEGER NOT NULL DEFAULT 0,
    duplicates INTEGER NOT NULL DEFAULT 0,
    deferred INTEGER NOT NULL DEFAULT 0,
    dropped INTEGER NOT NULL DEFAULT 0,
    unclaimed INTEGER NOT NULL DEFAULT 0
);
`

const indexSQL = `
CREATE INDEX IF NOT EXISTS idx_results_outcome ON results(outcome);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// resultColumns are the columns added to the legacy four-column table
// (id, status, title, download_header), with their definitions for ALTER TABLE.
var resultColumns = []struct {
	name       string
	definition string
}{
	{"outcome", "TEXT NOT NULL DEFAULT 'ok'"},
	{"error", "TEXT"},
	{"fetched_at", "DATETIME"},
	{"run_id", "TEXT"},
}

// classifyLegacySQL derives outcomes for rows written before the outcome
// column existed. Status 0 meant no response; a 200 without a header meant
// the page lacked the download-header section.
const classifyLegacySQL = `
UPDATE results SET outcome = CASE
    WHEN status IS NULL OR status = 0 THEN 'transport_error'
    WHEN status <> 200 THEN 'http_error'
    WHEN download_header IS NULL OR download_header = '' THEN 'parse_error'
    ELSE 'ok'
END
`

// Queries shared by the SQLite and Postgres backends. Placeholders are
// rewritten for Postgres by rebind.
const (
	frontierSQL = `SELECT COALESCE(MAX(id), 0), COUNT(id) FROM results`

	// Gaps come from comparing each ID with its predecessor; LAG defaults
	// to 0 so a gap before the first stored ID is reported too. The default
	// is cast so Postgres resolves lag(bigint, integer, bigint).
	missingRangesSQL = `
SELECT prev_id + 1, id - 1 FROM (
    SELECT id, LAG(id, 1, CAST(0 AS BIGINT)) OVER (ORDER BY id) AS prev_id
    FROM results
    WHERE id >= 1 AND id <= ?
) AS ordered
WHERE id - prev_id > 1
ORDER BY prev_id`

	insertRecordSQL = `
INSERT INTO results (id, status, title, download_header, outcome, error, fetched_at, run_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`

	beginRunSQL = `INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`

	finishRunSQL = `
UPDATE runs SET
    finished_at = ?,
    status = ?,
    error = ?,
    backfilled = ?,
    enqueued = ?,
    archived = ?,
    duplicates = ?,
    deferred = ?,
    dropped = ?,
    unclaimed = ?
WHERE id = ?`

	outcomeCountsSQL = `SELECT outcome, COUNT(*) FROM results GROUP BY outcome`

	lastRunSQL = `
SELECT id, started_at, finished_at, status, COALESCE(error, ''),
       backfilled, enqueued, archived, duplicates, deferred, dropped, unclaimed
FROM runs
ORDER BY started_at DESC
LIMIT 1`
)
