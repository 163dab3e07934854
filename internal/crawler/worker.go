package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/masahif/idarchiver/internal/parser"
)

// Worker turns one ID into one FetchResult. Workers are stateless apart from
// their collaborators, so a pool is just N of them reading the same channel.
type Worker struct {
	id        int
	fetcher   Fetcher
	extractor FieldExtractor
	urls      URLTemplate
	logger    *slog.Logger
	metrics   *Metrics
}

// NewWorker creates a worker
func NewWorker(id int, fetcher Fetcher, extractor FieldExtractor, urls URLTemplate, logger *slog.Logger, metrics *Metrics) *Worker {
	return &Worker{
		id:        id,
		fetcher:   fetcher,
		extractor: extractor,
		urls:      urls,
		logger:    logger.With("worker_id", id),
		metrics:   metrics,
	}
}

// Process fetches and parses the page for id. It never fails: every fault
// is folded into the returned result. A page without the download header
// keeps its 200 status and its title; only the header stays empty. A body cut
// at the client's size limit is recorded the same way.
func (w *Worker) Process(ctx context.Context, id int64) (result FetchResult) {
	result = FetchResult{ID: id}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Worker recovered from panic", "id", id, "panic", r)
			result.Title, result.DownloadHeader = "", ""
			if result.Status == 0 {
				result.Outcome = OutcomeTransportError
			} else {
				result.Outcome = OutcomeParseError
			}
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.FetchedAt = time.Now().UTC()
		w.metrics.Fetches.WithLabelValues(string(result.Outcome)).Inc()
		w.logger.Debug("Fetch result", "id", id, "status", result.Status, "outcome", result.Outcome,
			"title", result.Title, "download_header", result.DownloadHeader)
	}()

	resp, err := w.fetcher.Get(ctx, w.urls.URL(id))
	if err != nil {
		w.logger.Error("Fetch failed", "id", id, "error", err)
		result.Outcome = OutcomeTransportError
		result.Error = err.Error()
		return result
	}

	w.metrics.FetchDuration.Observe(resp.Metrics.DownloadTime.Seconds())
	result.Status = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		w.logger.Debug("Negative response", "id", id, "status", resp.StatusCode)
		result.Outcome = OutcomeHTTPError
		return result
	}

	fields, err := w.extractor.Extract(resp.Body)
	if resp.Truncated {
		err = fmt.Errorf("response body truncated at %d bytes", len(resp.Body))
		fields.DownloadHeader = ""
	}
	if err != nil {
		switch {
		case resp.Truncated:
			w.logger.Warn("Page exceeds the body size limit", "id", id, "bytes", len(resp.Body))
		case errors.Is(err, parser.ErrMissingSection):
			w.logger.Warn("Page has no download header", "id", id, "title", fields.Title)
		default:
			w.logger.Error("Failed to parse page", "id", id, "error", err)
		}
		result.Title = fields.Title
		result.Outcome = OutcomeParseError
		result.Error = err.Error()
		return result
	}

	result.Title = fields.Title
	result.DownloadHeader = fields.DownloadHeader
	result.Outcome = OutcomeOK
	return result
}
