package crawler

import (
	"context"

	"github.com/masahif/idarchiver/internal/parser"
)

// Fetcher performs one HTTP GET
type Fetcher interface {
	Get(ctx context.Context, url string) (*HTTPResponse, error)
}

// FieldExtractor pulls the catalog fields out of a page body
type FieldExtractor interface {
	Extract(body []byte) (parser.Fields, error)
}

// FrontierReader is the read side of the store used by the scheduler
type FrontierReader interface {
	Frontier(ctx context.Context) (Frontier, error)
	// MissingRanges returns the gaps in [1, upTo] in ascending order
	MissingRanges(ctx context.Context, upTo int64) ([]IDRange, error)
}

// RecordWriter is the write side of the store used by the archiver
type RecordWriter interface {
	// InsertRecord durably stores rec. It reports false, nil when a record
	// with the same ID already exists.
	InsertRecord(ctx context.Context, rec *Record) (bool, error)
}

// Storage handles data persistence
type Storage interface {
	FrontierReader
	RecordWriter

	// Run journal
	BeginRun(ctx context.Context, run *RunInfo) error
	FinishRun(ctx context.Context, run *RunInfo) error

	// Reporting
	Summary(ctx context.Context) (*StoreSummary, error)

	// Database lifecycle
	Close() error
}

// Publisher forwards archived records to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, rec *Record) error
	Close() error
}

// Crawler defines the archiver pipeline
type Crawler interface {
	Run(ctx context.Context) error
	Stop() error
	GetStats() RunStats
}
