package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/idarchiver/internal/config"
)

func newTestArchiver(store RecordWriter, publisher Publisher, opts ArchiverOptions) *Archiver {
	if opts.RunID == "" {
		opts.RunID = "run-test"
	}
	return NewArchiver(store, publisher, opts, testLogger(), NewMetrics(nil))
}

func okResult(id int64) FetchResult {
	return FetchResult{ID: id, Status: 200, Title: "Foo", DownloadHeader: "Bar", Outcome: OutcomeOK, FetchedAt: time.Now().UTC()}
}

func TestArchiverPersistsBufferedResultsOnClose(t *testing.T) {
	store := newMemStore()
	a := newTestArchiver(store, nil, ArchiverOptions{})

	results := make(chan FetchResult, 10)
	for id := int64(1); id <= 10; id++ {
		results <- okResult(id)
	}
	close(results)

	require.NoError(t, a.Run(context.Background(), results))
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, store.ids())
	assert.Equal(t, int64(10), a.Archived())
	assert.Equal(t, int64(10), a.LastID())

	rec, ok := store.record(4)
	require.True(t, ok)
	assert.Equal(t, "run-test", rec.RunID)
}

func TestArchiverFlushesBufferedResultsOnHardStop(t *testing.T) {
	store := newMemStore()
	a := newTestArchiver(store, nil, ArchiverOptions{})

	results := make(chan FetchResult, 10)
	for id := int64(1); id <= 10; id++ {
		results <- okResult(id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The channel stays open: Run must not wait for more
	require.NoError(t, a.Run(ctx, results))
	assert.Equal(t, int64(10), a.Archived()+a.Dropped())
	assert.Len(t, store.ids(), int(a.Archived()))
}

func TestArchiverIgnoresDuplicates(t *testing.T) {
	store := newMemStore()
	pub := &memPublisher{}
	a := newTestArchiver(store, pub, ArchiverOptions{})

	first := okResult(1)
	second := FetchResult{ID: 1, Status: 404, Outcome: OutcomeHTTPError}

	results := make(chan FetchResult, 3)
	results <- first
	results <- second
	results <- okResult(2)
	close(results)

	require.NoError(t, a.Run(context.Background(), results))
	assert.Equal(t, []int64{1, 2}, store.ids())
	assert.Equal(t, int64(2), a.Archived())
	assert.Equal(t, int64(1), a.Duplicates())
	assert.Equal(t, []int64{1, 2}, pub.published, "duplicates are not published")

	rec, _ := store.record(1)
	assert.Equal(t, 200, rec.Status, "first record wins")
}

func TestArchiverFailurePolicies(t *testing.T) {
	parseFail := FetchResult{ID: 1, Status: 200, Outcome: OutcomeParseError, Error: "missing section"}
	transportFail := FetchResult{ID: 2, Outcome: OutcomeTransportError, Error: "timeout"}
	notFound := FetchResult{ID: 3, Status: 404, Outcome: OutcomeHTTPError}

	tests := []struct {
		name         string
		onParse      config.FailurePolicy
		onTransport  config.FailurePolicy
		wantIDs      []int64
		wantDeferred int64
	}{
		{"record everything", config.PolicyRecord, config.PolicyRecord, []int64{1, 2, 3}, 0},
		{"defer parse errors", config.PolicyDefer, config.PolicyRecord, []int64{2, 3}, 1},
		{"defer transport errors", config.PolicyRecord, config.PolicyDefer, []int64{1, 3}, 1},
		{"defer both", config.PolicyDefer, config.PolicyDefer, []int64{3}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			a := newTestArchiver(store, nil, ArchiverOptions{OnParseError: tt.onParse, OnTransportError: tt.onTransport})

			results := make(chan FetchResult, 3)
			results <- parseFail
			results <- transportFail
			results <- notFound
			close(results)

			require.NoError(t, a.Run(context.Background(), results))
			assert.Equal(t, tt.wantIDs, store.ids())
			assert.Equal(t, tt.wantDeferred, a.Deferred())
		})
	}
}

func TestArchiverStoreFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.failOn = 3
	a := newTestArchiver(store, nil, ArchiverOptions{})

	results := make(chan FetchResult, 5)
	for id := int64(1); id <= 5; id++ {
		results <- okResult(id)
	}
	close(results)

	err := a.Run(context.Background(), results)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.ErrorContains(t, err, "archiving id 3")

	assert.Equal(t, []int64{1, 2}, store.ids())
	assert.Equal(t, int64(2), a.Archived())
	assert.Equal(t, int64(3), a.Dropped(), "the failing result and the two behind it")
}

func TestArchiverPublishFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	pub := &memPublisher{err: errors.New("broker unavailable")}
	a := newTestArchiver(store, pub, ArchiverOptions{})

	results := make(chan FetchResult, 2)
	results <- okResult(1)
	results <- okResult(2)
	close(results)

	require.NoError(t, a.Run(context.Background(), results))
	assert.Equal(t, []int64{1, 2}, store.ids())
}
