package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func catalogPage(title, header string) []byte {
	return []byte(fmt.Sprintf(`<html><head><title>%s</title></head>
<body><div class="download-header"><h2>%s</h2></div></body></html>`, title, header))
}

// fetcherFunc adapts a function to the Fetcher interface
type fetcherFunc func(ctx context.Context, url string) (*HTTPResponse, error)

func (f fetcherFunc) Get(ctx context.Context, url string) (*HTTPResponse, error) {
	return f(ctx, url)
}

// memStore is an in-memory Storage
type memStore struct {
	mu          sync.Mutex
	records     map[int64]*Record
	runs        map[string]*RunInfo
	rangeCalls  int
	failOn      int64 // InsertRecord fails for this ID; 0 never fails
	frontierErr error
}

func newMemStore(ids ...int64) *memStore {
	s := &memStore{
		records: make(map[int64]*Record),
		runs:    make(map[string]*RunInfo),
	}
	for _, id := range ids {
		s.records[id] = &Record{ID: id, Status: 200, Outcome: OutcomeOK}
	}
	return s
}

func (s *memStore) Frontier(_ context.Context) (Frontier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frontierErr != nil {
		return Frontier{}, s.frontierErr
	}
	var f Frontier
	for id := range s.records {
		if id > f.LastID {
			f.LastID = id
		}
		f.Persisted++
	}
	return f, nil
}

func (s *memStore) MissingRanges(_ context.Context, upTo int64) ([]IDRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rangeCalls++

	var ranges []IDRange
	for id := int64(1); id <= upTo; id++ {
		if _, ok := s.records[id]; ok {
			continue
		}
		if n := len(ranges); n > 0 && ranges[n-1].To == id-1 {
			ranges[n-1].To = id
			continue
		}
		ranges = append(ranges, IDRange{From: id, To: id})
	}
	return ranges, nil
}

func (s *memStore) InsertRecord(_ context.Context, rec *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != 0 && rec.ID == s.failOn {
		return false, errors.New("disk I/O error")
	}
	if _, ok := s.records[rec.ID]; ok {
		return false, nil
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return true, nil
}

func (s *memStore) BeginRun(_ context.Context, run *RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) FinishRun(_ context.Context, run *RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("unknown run %s", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) Summary(ctx context.Context) (*StoreSummary, error) {
	f, err := s.Frontier(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := &StoreSummary{Frontier: f, Outcomes: make(map[Outcome]int64)}
	for _, rec := range s.records {
		summary.Outcomes[rec.Outcome]++
	}
	return summary, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) record(id int64) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *memStore) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memStore) run(id string) *RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// memPublisher records published IDs
type memPublisher struct {
	mu        sync.Mutex
	published []int64
	err       error
}

func (p *memPublisher) Publish(_ context.Context, rec *Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, rec.ID)
	return nil
}

func (p *memPublisher) Close() error { return nil }

// idFromURL extracts the id query value from a catalog URL
func idFromURL(url string) string {
	i := strings.Index(url, "id=")
	if i < 0 {
		return ""
	}
	return url[i+3:]
}
