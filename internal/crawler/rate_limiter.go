package crawler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WindowLimiter is the scheduler's coarse fixed-window limiter: the caller
// enqueues at most Limit() IDs, calls Mark, and the next Wait returns only
// after a full interval has passed since Mark. Two bursts are therefore
// never closer than one interval, so any interval-long window contains at
// most one burst.
//
// The limiter bounds enqueue rate, not request rate. When workers are
// backlogged they may still be draining an earlier burst when the next one
// is queued.
type WindowLimiter struct {
	limit    int
	interval time.Duration

	mu       sync.Mutex
	lastMark time.Time
	now      func() time.Time
}

// NewWindowLimiter creates a limiter allowing limit IDs per interval
func NewWindowLimiter(limit int, interval time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Limit returns the burst size of one window
func (w *WindowLimiter) Limit() int {
	return w.limit
}

// Interval returns the window length
func (w *WindowLimiter) Interval() time.Duration {
	return w.interval
}

// Wait blocks until the next window opens. The first call returns at once.
func (w *WindowLimiter) Wait(ctx context.Context) error {
	w.mu.Lock()
	last := w.lastMark
	w.mu.Unlock()

	if last.IsZero() {
		return ctx.Err()
	}

	delay := w.interval - w.now().Sub(last)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Mark records the end of the current burst
func (w *WindowLimiter) Mark() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastMark = w.now()
}

// RequestPacer spaces outbound requests across the whole worker pool
type RequestPacer struct {
	limiter *rate.Limiter
}

// NewRequestPacer creates a pacer enforcing delay between request starts.
// A zero delay disables pacing.
func NewRequestPacer(delay time.Duration) *RequestPacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &RequestPacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait waits for permission to send the next request
func (p *RequestPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
