package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(store FrontierReader, limit int, interval time.Duration, maxID int64) *Scheduler {
	return NewScheduler(store, NewWindowLimiter(limit, interval), maxID, testLogger(), NewMetrics(nil))
}

func collect(t *testing.T, s *Scheduler) []int64 {
	t.Helper()
	tasks := make(chan int64, 1000)
	require.NoError(t, s.Run(context.Background(), tasks))

	var ids []int64
	for id := range tasks {
		ids = append(ids, id)
	}
	return ids
}

func TestSchedulerPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store starts at 1", func(t *testing.T) {
		plan, err := newTestScheduler(newMemStore(), 10, time.Second, 0).Plan(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), plan.NextID)
		assert.Empty(t, plan.Missing)
	})

	t.Run("contiguous store skips the gap scan", func(t *testing.T) {
		ids := make([]int64, 100)
		for i := range ids {
			ids[i] = int64(i + 1)
		}
		store := newMemStore(ids...)

		plan, err := newTestScheduler(store, 10, time.Second, 0).Plan(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(101), plan.NextID)
		assert.Empty(t, plan.Missing)
		assert.Zero(t, store.rangeCalls)
	})

	t.Run("holes are backfilled", func(t *testing.T) {
		plan, err := newTestScheduler(newMemStore(1, 2, 4, 5), 10, time.Second, 0).Plan(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{3}, plan.Missing)
		assert.Equal(t, int64(6), plan.NextID)
	})

	t.Run("leading and multiple holes", func(t *testing.T) {
		plan, err := newTestScheduler(newMemStore(3, 4, 8), 10, time.Second, 0).Plan(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 5, 6, 7}, plan.Missing)
		assert.Equal(t, int64(9), plan.NextID)
	})

	t.Run("frontier failure", func(t *testing.T) {
		store := newMemStore()
		store.frontierErr = errors.New("database is locked")
		_, err := newTestScheduler(store, 10, time.Second, 0).Plan(ctx)
		assert.ErrorContains(t, err, "database is locked")
	})
}

func TestSchedulerRunBackfillsThenEnumerates(t *testing.T) {
	s := newTestScheduler(newMemStore(1, 2, 4, 5), 10, time.Hour, 8)

	ids := collect(t, s)
	assert.Equal(t, []int64{3, 6, 7, 8}, ids)
}

func TestSchedulerBackfillDoesNotConsumeRateWindow(t *testing.T) {
	// Three holes against a window of two: the first forward window still opens at once
	s := newTestScheduler(newMemStore(1, 5), 2, time.Hour, 7)

	start := time.Now()
	ids := collect(t, s)
	assert.Equal(t, []int64{2, 3, 4, 6, 7}, ids)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestSchedulerRunStopsAtMaxID(t *testing.T) {
	s := newTestScheduler(newMemStore(), 4, 10*time.Millisecond, 10)

	ids := collect(t, s)
	require.Len(t, ids, 10)
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}
}

func TestSchedulerRespectsRateWindow(t *testing.T) {
	const limit = 3
	interval := 80 * time.Millisecond
	s := newTestScheduler(newMemStore(), limit, interval, 10)

	var mu sync.Mutex
	var stamps []time.Time
	s.onEnqueue = func(string) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
	}

	ids := collect(t, s)
	require.Len(t, ids, 10)
	require.Len(t, stamps, 10)

	// Any interval-long window holds at most limit enqueues
	for i := 0; i+limit < len(stamps); i++ {
		gap := stamps[i+limit].Sub(stamps[i])
		assert.GreaterOrEqual(t, gap, interval, "ids %d and %d enqueued %v apart", ids[i], ids[i+limit], gap)
	}
}

func TestSchedulerRunCancellation(t *testing.T) {
	s := newTestScheduler(newMemStore(), 10, time.Hour, 0)
	tasks := make(chan int64) // nobody reads

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tasks) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}

	_, open := <-tasks
	assert.False(t, open, "tasks must be closed when the scheduler returns")
}

func TestSchedulerRunFrontierError(t *testing.T) {
	store := newMemStore()
	store.frontierErr = errors.New("no such table: results")
	s := newTestScheduler(store, 10, time.Hour, 0)

	tasks := make(chan int64, 1)
	err := s.Run(context.Background(), tasks)
	assert.ErrorContains(t, err, "no such table")

	_, open := <-tasks
	assert.False(t, open)
}
