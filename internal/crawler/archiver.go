package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/masahif/idarchiver/internal/config"
)

// ErrStoreUnavailable wraps store failures that stop the archiver
var ErrStoreUnavailable = errors.New("store unavailable")

// ArchiverOptions configures NewArchiver
type ArchiverOptions struct {
	RunID            string
	ProgressEvery    int
	OnParseError     config.FailurePolicy
	OnTransportError config.FailurePolicy
}

// Archiver is the single writer: it drains results in arrival order and
// commits each one before taking the next.
type Archiver struct {
	store     RecordWriter
	publisher Publisher
	opts      ArchiverOptions
	logger    *slog.Logger
	metrics   *Metrics

	archived   atomic.Int64
	duplicates atomic.Int64
	deferred   atomic.Int64
	dropped    atomic.Int64
	lastID     atomic.Int64
}

// NewArchiver creates an archiver. publisher may be nil.
func NewArchiver(store RecordWriter, publisher Publisher, opts ArchiverOptions, logger *slog.Logger, metrics *Metrics) *Archiver {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 50
	}
	return &Archiver{
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run consumes results until the channel is closed and drained. Closing the
// channel is the normal stop signal and wakes an idle archiver immediately.
//
// Cancelling ctx is the hard stop: results already buffered are still
// written, then Run returns without waiting for more. A store failure is
// fatal; the failing result and everything still buffered are counted as
// dropped and the error is returned.
func (a *Archiver) Run(ctx context.Context, results <-chan FetchResult) error {
	writeCtx := context.WithoutCancel(ctx)

	for {
		select {
		case res, ok := <-results:
			if !ok {
				a.logger.Info("Archiver drained result queue", "archived", a.archived.Load())
				return nil
			}
			if err := a.archive(writeCtx, res); err != nil {
				a.drop(1)
				a.dropBuffered(results)
				return err
			}

		case <-ctx.Done():
			return a.flush(writeCtx, results)
		}
	}
}

// flush writes whatever is buffered right now without waiting for more
func (a *Archiver) flush(ctx context.Context, results <-chan FetchResult) error {
	flushed := 0
	for {
		select {
		case res, ok := <-results:
			if !ok {
				a.logger.Info("Archiver flushed on shutdown deadline", "flushed", flushed)
				return nil
			}
			if err := a.archive(ctx, res); err != nil {
				a.drop(1)
				a.dropBuffered(results)
				return err
			}
			flushed++
		default:
			a.logger.Warn("Archiver stopped at shutdown deadline", "flushed", flushed)
			return nil
		}
	}
}

// dropBuffered counts results that will never be written
func (a *Archiver) dropBuffered(results <-chan FetchResult) {
	n := 0
	for {
		select {
		case _, ok := <-results:
			if !ok {
				a.drop(n)
				return
			}
			n++
		default:
			a.drop(n)
			return
		}
	}
}

func (a *Archiver) drop(n int) {
	if n == 0 {
		return
	}
	a.dropped.Add(int64(n))
	a.metrics.Dropped.Add(float64(n))
}

// archive persists one result, honoring the failure policies
func (a *Archiver) archive(ctx context.Context, res FetchResult) error {
	if a.shouldDefer(res) {
		a.deferred.Add(1)
		a.metrics.Deferred.Inc()
		a.logger.Info("Deferred result to a later backfill", "id", res.ID, "outcome", res.Outcome)
		return nil
	}

	rec := NewRecord(res, a.opts.RunID)
	a.logger.Debug("Inserting result", "id", rec.ID)

	inserted, err := a.store.InsertRecord(ctx, rec)
	if err != nil {
		a.logger.Error("Failed to archive result", "id", rec.ID, "error", err)
		return fmt.Errorf("%w: archiving id %d: %w", ErrStoreUnavailable, rec.ID, err)
	}

	if !inserted {
		a.duplicates.Add(1)
		a.metrics.Duplicates.Inc()
		a.logger.Debug("Result already archived", "id", rec.ID)
		return nil
	}

	a.metrics.Archived.Inc()
	a.lastID.Store(rec.ID)
	if n := a.archived.Add(1); n%int64(a.opts.ProgressEvery) == 0 {
		a.logger.Info("Archive progress", "archived", n, "last_id", rec.ID)
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, rec); err != nil {
			a.metrics.PublishErrors.Inc()
			a.logger.Warn("Failed to publish record", "id", rec.ID, "error", err)
		}
	}
	return nil
}

func (a *Archiver) shouldDefer(res FetchResult) bool {
	switch res.Outcome {
	case OutcomeParseError:
		return a.opts.OnParseError == config.PolicyDefer
	case OutcomeTransportError:
		return a.opts.OnTransportError == config.PolicyDefer
	default:
		return false
	}
}

// Archived returns the number of records inserted so far
func (a *Archiver) Archived() int64 { return a.archived.Load() }

// Duplicates returns the number of ignored duplicate results
func (a *Archiver) Duplicates() int64 { return a.duplicates.Load() }

// Deferred returns the number of results left for a later backfill
func (a *Archiver) Deferred() int64 { return a.deferred.Load() }

// Dropped returns the number of results the archiver gave up on
func (a *Archiver) Dropped() int64 { return a.dropped.Load() }

// LastID returns the most recently inserted ID
func (a *Archiver) LastID() int64 { return a.lastID.Load() }
