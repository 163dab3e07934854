// Package crawler provides the ID archiving pipeline.
// A scheduler enumerates catalog IDs (backfilling holes first), a fixed pool
// of workers fetches and parses one page per ID, and a single archiver
// persists exactly one record per ID.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/masahif/idarchiver/internal/config"
	"github.com/masahif/idarchiver/internal/parser"
)

// DefaultCrawler implements the Crawler interface
type DefaultCrawler struct {
	config     *config.Config
	storage    Storage
	httpClient *HTTPClient
	fetcher    Fetcher
	extractor  FieldExtractor
	publisher  Publisher
	urls       URLTemplate
	pacer      *RequestPacer
	scheduler  *Scheduler
	archiver   *Archiver
	logger     *slog.Logger
	metrics    *Metrics
	runID      string

	// State
	backfilled atomic.Int64
	enqueued   atomic.Int64
	dropped    atomic.Int64
	unclaimed  atomic.Int64
	cancel     context.CancelFunc
	cancelMu   sync.Mutex
}

// Option customizes a DefaultCrawler
type Option func(*DefaultCrawler)

// WithLogger sets the logger; slog.Default() is used otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(c *DefaultCrawler) { c.logger = logger }
}

// WithFetcher replaces the HTTP client
func WithFetcher(f Fetcher) Option {
	return func(c *DefaultCrawler) { c.fetcher = f }
}

// WithExtractor replaces the page parser
func WithExtractor(e FieldExtractor) Option {
	return func(c *DefaultCrawler) { c.extractor = e }
}

// WithPublisher forwards every archived record to p
func WithPublisher(p Publisher) Option {
	return func(c *DefaultCrawler) { c.publisher = p }
}

// WithMetrics sets the collectors the pipeline reports to
func WithMetrics(m *Metrics) Option {
	return func(c *DefaultCrawler) { c.metrics = m }
}

// WithRunID overrides the generated run ID
func WithRunID(id string) Option {
	return func(c *DefaultCrawler) { c.runID = id }
}

// NewCrawler creates a crawler for cfg persisting into storage. cfg must
// already be validated.
func NewCrawler(cfg *config.Config, storage Storage, opts ...Option) (*DefaultCrawler, error) {
	urls, err := NewURLTemplate(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &DefaultCrawler{
		config:  cfg,
		storage: storage,
		urls:    urls,
		pacer:   NewRequestPacer(cfg.RequestDelay),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	c.logger = c.logger.With("run_id", c.runID)

	if c.fetcher == nil {
		if cfg.InsecureSkipVerify {
			c.logger.Warn("TLS certificate verification is disabled")
		}
		c.httpClient = NewHTTPClient(HTTPClientOptions{
			UserAgent:           cfg.UserAgent,
			Timeout:             cfg.RequestTimeout,
			InsecureSkipVerify:  cfg.InsecureSkipVerify,
			MaxIdleConnsPerHost: cfg.Workers,
		})
		c.fetcher = c.httpClient
	}
	if c.extractor == nil {
		c.extractor = parser.NewExtractor()
	}

	c.scheduler = NewScheduler(storage, NewWindowLimiter(cfg.RateLimit, cfg.RateInterval), cfg.MaxID, c.logger, c.metrics)
	c.scheduler.onEnqueue = func(source string) {
		if source == "backfill" {
			c.backfilled.Add(1)
		} else {
			c.enqueued.Add(1)
		}
	}

	c.archiver = NewArchiver(storage, c.publisher, ArchiverOptions{
		RunID:            c.runID,
		ProgressEvery:    cfg.ProgressEvery,
		OnParseError:     cfg.OnParseError,
		OnTransportError: cfg.OnTransportError,
	}, c.logger, c.metrics)

	return c, nil
}

// RunID returns the ID recorded in the run journal
func (c *DefaultCrawler) RunID() string {
	return c.runID
}

// Run executes the pipeline until ctx is cancelled, the configured max ID
// has been archived, or the store fails.
//
// Shutdown order:
// 1. The scheduler stops enqueueing and closes the task channel
// 2. Workers stop claiming tasks; fetches in flight finish (bounded by the request timeout)
// 3. The result channel is closed once every worker has exited
// 4. The archiver drains the channel and returns
// Run returns only after the archiver has returned, so the caller may close
// the store afterwards.
func (c *DefaultCrawler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setCancel(cancel)

	run := &RunInfo{ID: c.runID, StartedAt: time.Now().UTC(), Status: RunRunning}
	if err := c.storage.BeginRun(ctx, run); err != nil {
		return fmt.Errorf("%w: failed to record run start: %w", ErrStoreUnavailable, err)
	}

	c.logger.Info("Starting archiver",
		"workers", c.config.Workers,
		"rate_limit", c.config.RateLimit,
		"rate_interval", c.config.RateInterval,
		"request_timeout", c.config.RequestTimeout,
		"database", c.config.DatabasePath)

	size := c.config.ChannelSize()
	tasks := make(chan int64, size)
	results := make(chan FetchResult, size)

	// Hard stop for the archiver, armed once shutdown begins
	drainCtx, stopDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDrain()
	go c.armShutdownDeadline(ctx, drainCtx, stopDrain)

	archiverDone := make(chan struct{})
	var archiveErr error
	go func() {
		defer close(archiverDone)
		archiveErr = c.archiver.Run(drainCtx, results)
		if archiveErr != nil {
			cancel()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.scheduler.Run(gctx, tasks)
	})

	c.logger.Info("Initializing workers", "count", c.config.Workers)
	for i := 0; i < c.config.Workers; i++ {
		w := NewWorker(i, c.fetcher, c.extractor, c.urls, c.logger, c.metrics)
		g.Go(func() error {
			c.runWorker(gctx, w, tasks, results, archiverDone)
			return nil
		})
	}

	schedErr := g.Wait()
	if ctx.Err() != nil {
		c.logger.Info("Shutting down")
	}

	// Scheduler has closed tasks; whatever is left was never claimed
	for range tasks {
		c.unclaimed.Add(1)
	}

	close(results)
	<-archiverDone

	// Only non-empty if the archiver stopped early
	for range results {
		c.dropped.Add(1)
		c.metrics.Dropped.Inc()
	}

	err := errors.Join(schedErr, archiveErr)
	c.finishRun(run, err)
	return err
}

// armShutdownDeadline cancels the archiver's drain context if draining takes
// longer than the shutdown timeout after ctx is cancelled.
func (c *DefaultCrawler) armShutdownDeadline(ctx, drainCtx context.Context, stopDrain context.CancelFunc) {
	select {
	case <-ctx.Done():
	case <-drainCtx.Done():
		return
	}

	timer := time.NewTimer(c.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		c.logger.Warn("Shutdown deadline reached, abandoning queued results", "timeout", c.config.ShutdownTimeout)
		stopDrain()
	case <-drainCtx.Done():
	}
}

// runWorker claims tasks until the channel closes or ctx is cancelled
func (c *DefaultCrawler) runWorker(ctx context.Context, w *Worker, tasks <-chan int64, results chan<- FetchResult, archiverDone <-chan struct{}) {
	defer w.logger.Debug("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-tasks:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				c.unclaimed.Add(1)
				return
			}
			if err := c.pacer.Wait(ctx); err != nil {
				c.unclaimed.Add(1)
				return
			}

			// A fetch that started is allowed to finish during shutdown
			res := w.Process(context.WithoutCancel(ctx), id)

			select {
			case results <- res:
			case <-archiverDone:
				c.dropped.Add(1)
				c.metrics.Dropped.Inc()
				w.logger.Warn("Dropped result, archiver stopped", "id", res.ID)
			}
		}
	}
}

// finishRun writes the run journal entry and the final report
func (c *DefaultCrawler) finishRun(run *RunInfo, runErr error) {
	run.FinishedAt = time.Now().UTC()
	run.Stats = c.GetStats()
	run.Status = RunCompleted
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	if err := c.storage.FinishRun(context.Background(), run); err != nil {
		c.logger.Error("Failed to record run end", "error", err)
	}

	stats := run.Stats
	attrs := []any{
		"status", run.Status,
		"backfilled", stats.Backfilled,
		"enqueued", stats.Enqueued,
		"archived", stats.Archived,
		"duplicates", stats.Duplicates,
		"deferred", stats.Deferred,
		"last_id", c.archiver.LastID(),
		"duration", run.FinishedAt.Sub(run.StartedAt),
	}
	if stats.Dropped > 0 || stats.Unclaimed > 0 {
		c.logger.Warn("Archiver stopped with unpersisted IDs; they will be backfilled on the next start",
			append(attrs, "dropped", stats.Dropped, "unclaimed", stats.Unclaimed)...)
		return
	}
	c.logger.Info("Archiver stopped", attrs...)
}

// Stop cancels a running Run and releases idle connections
func (c *DefaultCrawler) Stop() error {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.httpClient != nil {
		c.httpClient.Close()
	}
	return nil
}

func (c *DefaultCrawler) setCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	c.cancel = cancel
}

// GetStats returns current run statistics
func (c *DefaultCrawler) GetStats() RunStats {
	return RunStats{
		Backfilled: c.backfilled.Load(),
		Enqueued:   c.enqueued.Load(),
		Archived:   c.archiver.Archived(),
		Duplicates: c.archiver.Duplicates(),
		Deferred:   c.archiver.Deferred(),
		Dropped:    c.dropped.Load() + c.archiver.Dropped(),
		Unclaimed:  c.unclaimed.Load(),
	}
}
