package crawler

import "time"

// Outcome classifies how a fetch ended
type Outcome string

const (
	// OutcomeOK is a 200 response with both fields extracted
	OutcomeOK Outcome = "ok"
	// OutcomeHTTPError is a well-formed non-200 response (a negative outcome)
	OutcomeHTTPError Outcome = "http_error"
	// OutcomeTransportError means the server was never reached or did not answer
	OutcomeTransportError Outcome = "transport_error"
	// OutcomeParseError is a 200 response without the expected download-header section
	OutcomeParseError Outcome = "parse_error"
)

// Outcomes lists every outcome in reporting order
var Outcomes = []Outcome{OutcomeOK, OutcomeHTTPError, OutcomeTransportError, OutcomeParseError}

// FetchResult is what a worker produces for one ID
type FetchResult struct {
	ID             int64     // Catalog resource ID
	Status         int       // HTTP status code, 0 if no response was received
	Title          string    // Document <title>, empty if unavailable
	DownloadHeader string    // Heading of the download-header section, empty if unavailable
	Outcome        Outcome   // How the fetch ended
	Error          string    // Transport or parse error message, empty on success
	FetchedAt      time.Time // When the worker finished (UTC)
}

// Record is the durable row stored for one ID
type Record struct {
	ID             int64
	Status         int
	Title          string
	DownloadHeader string
	Outcome        Outcome
	Error          string
	FetchedAt      time.Time
	RunID          string // Run that archived the record
}

// NewRecord builds the persisted form of a result
func NewRecord(res FetchResult, runID string) *Record {
	return &Record{
		ID:             res.ID,
		Status:         res.Status,
		Title:          res.Title,
		DownloadHeader: res.DownloadHeader,
		Outcome:        res.Outcome,
		Error:          res.Error,
		FetchedAt:      res.FetchedAt,
		RunID:          runID,
	}
}

// Frontier is the resume point derived from the store at startup
type Frontier struct {
	LastID    int64 // max(id), 0 for an empty store
	Persisted int64 // count(id)
}

// Missing returns how many IDs in [1, LastID] have no record
func (f Frontier) Missing() int64 {
	if f.LastID <= f.Persisted {
		return 0
	}
	return f.LastID - f.Persisted
}

// IDRange is an inclusive range of IDs
type IDRange struct {
	From int64
	To   int64
}

// Len returns the number of IDs in the range
func (r IDRange) Len() int64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// RunStatus is the lifecycle state of a run journal entry
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunInfo is the journal entry kept for each process run
type RunInfo struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Error      string
	Stats      RunStats
}

// RunStats counts what happened to the IDs handled by a run
type RunStats struct {
	Backfilled int64 `json:"backfilled"` // IDs enqueued by gap backfill
	Enqueued   int64 `json:"enqueued"`   // IDs enqueued by forward enumeration
	Archived   int64 `json:"archived"`   // Records inserted
	Duplicates int64 `json:"duplicates"` // Inserts ignored because the ID already had a record
	Deferred   int64 `json:"deferred"`   // Results intentionally left for a later backfill
	Dropped    int64 `json:"dropped"`    // Results produced but never persisted
	Unclaimed  int64 `json:"unclaimed"`  // Tasks still queued at shutdown
}

// StoreSummary describes the contents of the store
type StoreSummary struct {
	Frontier Frontier
	Outcomes map[Outcome]int64
	LastRun  *RunInfo
}
