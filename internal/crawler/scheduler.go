package crawler

import (
	"context"
	"fmt"
	"log/slog"
)

// Plan is the scheduler's startup decision
type Plan struct {
	Frontier Frontier
	Missing  []int64 // IDs below the frontier to backfill, ascending
	NextID   int64   // first ID for forward enumeration
}

// Scheduler is the only producer of task IDs. It backfills holes below the
// persisted frontier, then enumerates forward one window at a time.
type Scheduler struct {
	store   FrontierReader
	limiter *WindowLimiter
	maxID   int64 // 0 = unbounded
	logger  *slog.Logger
	metrics *Metrics

	onEnqueue func(source string)
}

// NewScheduler creates a scheduler
func NewScheduler(store FrontierReader, limiter *WindowLimiter, maxID int64, logger *slog.Logger, metrics *Metrics) *Scheduler {
	return &Scheduler{
		store:   store,
		limiter: limiter,
		maxID:   maxID,
		logger:  logger,
		metrics: metrics,
	}
}

// Plan reads the frontier and computes the backfill set. The gap search only
// runs when count(id) says holes exist, and it stops once that many holes
// have been found.
func (s *Scheduler) Plan(ctx context.Context) (*Plan, error) {
	frontier, err := s.store.Frontier(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read frontier: %w", err)
	}

	plan := &Plan{
		Frontier: frontier,
		NextID:   frontier.LastID + 1,
	}

	missing := frontier.Missing()
	if missing == 0 {
		return plan, nil
	}

	s.logger.Debug("Finding missing IDs", "last_id", frontier.LastID, "persisted", frontier.Persisted, "missing", missing)

	ranges, err := s.store.MissingRanges(ctx, frontier.LastID)
	if err != nil {
		return nil, fmt.Errorf("failed to find missing IDs: %w", err)
	}

	plan.Missing = make([]int64, 0, missing)
	for _, r := range ranges {
		for id := r.From; id <= r.To && int64(len(plan.Missing)) < missing; id++ {
			plan.Missing = append(plan.Missing, id)
		}
		if int64(len(plan.Missing)) >= missing {
			break
		}
	}

	if len(plan.Missing) > 0 {
		s.logger.Info("Found missing IDs", "count", len(plan.Missing), "first", plan.Missing[0])
	}
	return plan, nil
}

// Run backfills, then enumerates forward until ctx is cancelled or maxID is
// passed. It closes tasks when it returns, so workers see the end of input.
// Cancellation is a normal stop and returns nil.
func (s *Scheduler) Run(ctx context.Context, tasks chan<- int64) error {
	defer close(tasks)

	plan, err := s.Plan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	// Backfill is bounded by the hole count and does not consume rate windows
	for _, id := range plan.Missing {
		if !s.enqueue(ctx, tasks, id, "backfill") {
			return nil
		}
	}

	nextID := plan.NextID
	s.metrics.NextID.Set(float64(nextID))
	s.logger.Info("Starting forward enumeration", "next_id", nextID,
		"rate_limit", s.limiter.Limit(), "interval", s.limiter.Interval())

	for {
		if s.maxID > 0 && nextID > s.maxID {
			s.logger.Info("Reached max ID, no more IDs to enqueue", "max_id", s.maxID)
			return nil
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		end := nextID + int64(s.limiter.Limit())
		if s.maxID > 0 && end > s.maxID+1 {
			end = s.maxID + 1
		}
		for id := nextID; id < end; id++ {
			if !s.enqueue(ctx, tasks, id, "forward") {
				return nil
			}
			nextID = id + 1
			s.metrics.NextID.Set(float64(nextID))
		}
		s.limiter.Mark()

		s.logger.Debug("Enqueued window", "next_id", nextID)
	}
}

// enqueue blocks until the task is accepted or ctx is done
func (s *Scheduler) enqueue(ctx context.Context, tasks chan<- int64, id int64, source string) bool {
	select {
	case <-ctx.Done():
		return false
	case tasks <- id:
		s.metrics.TasksEnqueued.WithLabelValues(source).Inc()
		if s.onEnqueue != nil {
			s.onEnqueue(source)
		}
		return true
	}
}
