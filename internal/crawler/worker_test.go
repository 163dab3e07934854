package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/idarchiver/internal/parser"
)

func newTestWorker(t *testing.T, fetcher Fetcher, extractor FieldExtractor) *Worker {
	t.Helper()
	urls, err := NewURLTemplate("https://catalog.test/details.aspx")
	require.NoError(t, err)
	if extractor == nil {
		extractor = parser.NewExtractor()
	}
	return NewWorker(1, fetcher, extractor, urls, testLogger(), NewMetrics(nil))
}

func TestWorkerProcess(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, url string) (*HTTPResponse, error) {
		switch idFromURL(url) {
		case "7":
			return &HTTPResponse{StatusCode: http.StatusOK, Body: catalogPage("Foo", "Bar")}, nil
		case "8":
			return &HTTPResponse{StatusCode: http.StatusNotFound}, nil
		case "9":
			return &HTTPResponse{StatusCode: http.StatusOK, Body: []byte("<html><title>Retired</title><body></body></html>")}, nil
		case "10":
			return &HTTPResponse{StatusCode: http.StatusOK, Body: catalogPage("Foo", "Bar"), Truncated: true}, nil
		default:
			return nil, errors.New("unexpected id")
		}
	})
	w := newTestWorker(t, fetcher, nil)

	tests := []struct {
		name string
		id   int64
		want FetchResult
	}{
		{"ok", 7, FetchResult{ID: 7, Status: 200, Title: "Foo", DownloadHeader: "Bar", Outcome: OutcomeOK}},
		{"not found", 8, FetchResult{ID: 8, Status: 404, Outcome: OutcomeHTTPError}},
		{"missing section", 9, FetchResult{ID: 9, Status: 200, Title: "Retired", Outcome: OutcomeParseError}},
		{"truncated body", 10, FetchResult{ID: 10, Status: 200, Title: "Foo", Outcome: OutcomeParseError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := w.Process(context.Background(), tt.id)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Status, got.Status)
			assert.Equal(t, tt.want.Title, got.Title)
			assert.Equal(t, tt.want.DownloadHeader, got.DownloadHeader)
			assert.Equal(t, tt.want.Outcome, got.Outcome)
			assert.False(t, got.FetchedAt.IsZero())
		})
	}
}

func TestWorkerTransportFaultDoesNotStopLaterIDs(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, url string) (*HTTPResponse, error) {
		if idFromURL(url) == "42" {
			return nil, errors.New("connection reset by peer")
		}
		return &HTTPResponse{StatusCode: http.StatusOK, Body: catalogPage("Foo", "Bar")}, nil
	})
	w := newTestWorker(t, fetcher, nil)

	fault := w.Process(context.Background(), 42)
	assert.Equal(t, int64(42), fault.ID)
	assert.Equal(t, 0, fault.Status)
	assert.Empty(t, fault.Title)
	assert.Empty(t, fault.DownloadHeader)
	assert.Equal(t, OutcomeTransportError, fault.Outcome)
	assert.Contains(t, fault.Error, "connection reset")

	for _, id := range []int64{43, 44} {
		res := w.Process(context.Background(), id)
		assert.Equal(t, OutcomeOK, res.Outcome, "id %d", id)
		assert.Equal(t, "Foo", res.Title)
	}
}

type panicExtractor struct{}

func (panicExtractor) Extract([]byte) (parser.Fields, error) {
	panic("malformed tree")
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, _ string) (*HTTPResponse, error) {
		return &HTTPResponse{StatusCode: http.StatusOK, Body: []byte("<html>")}, nil
	})
	w := newTestWorker(t, fetcher, panicExtractor{})

	res := w.Process(context.Background(), 5)
	assert.Equal(t, OutcomeParseError, res.Outcome)
	assert.Equal(t, 200, res.Status)
	assert.Contains(t, res.Error, "malformed tree")
}

func TestURLTemplate(t *testing.T) {
	tmpl, err := NewURLTemplate("https://www.microsoft.com/en-us/download/details.aspx")
	require.NoError(t, err)
	assert.Equal(t, "https://www.microsoft.com/en-us/download/details.aspx?id=42", tmpl.URL(42))

	tmpl, err = NewURLTemplate("https://catalog.test/details.aspx?lang=en")
	require.NoError(t, err)
	assert.Equal(t, "https://catalog.test/details.aspx?id=7&lang=en", tmpl.URL(7))

	tmpl, err = NewURLTemplate("https://catalog.test/items/{id}/details")
	require.NoError(t, err)
	assert.Equal(t, "https://catalog.test/items/9/details", tmpl.URL(9))

	tmpl, err = NewURLTemplate("https://catalog.test/items/%d/details")
	require.NoError(t, err)
	assert.Equal(t, "https://catalog.test/items/9/details", tmpl.URL(9))

	tmpl, err = NewURLTemplate("https://catalog.test/details.aspx?id=%d&lang=en")
	require.NoError(t, err)
	assert.Equal(t, "https://catalog.test/details.aspx?id=12&lang=en", tmpl.URL(12))

	_, err = NewURLTemplate("/relative/path")
	assert.Error(t, err)

	_, err = NewURLTemplate("/items/%d")
	assert.Error(t, err)
}
