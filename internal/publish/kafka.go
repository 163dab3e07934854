// Package publish forwards archived records to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/masahif/idarchiver/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RecordMessage is the JSON payload of one published record
type RecordMessage struct {
	ID             int64     `json:"id"`
	Status         int       `json:"status"`
	Title          string    `json:"title"`
	DownloadHeader string    `json:"download_header"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
	RunID          string    `json:"run_id"`
}

// Producer publishes archived records, keyed by ID
type Producer struct {
	writer messageWriter
}

var _ crawler.Publisher = (*Producer)(nil)

// NewProducer creates a producer writing to topic on brokers
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
		},
	}
}

// NewProducerWithWriter builds a producer using a custom writer (tests).
func NewProducerWithWriter(writer messageWriter) *Producer {
	return &Producer{writer: writer}
}

// Publish writes one message for rec
func (p *Producer) Publish(ctx context.Context, rec *crawler.Record) error {
	payload, err := json.Marshal(RecordMessage{
		ID:             rec.ID,
		Status:         rec.Status,
		Title:          rec.Title,
		DownloadHeader: rec.DownloadHeader,
		Outcome:        string(rec.Outcome),
		Error:          rec.Error,
		FetchedAt:      rec.FetchedAt,
		RunID:          rec.RunID,
	})
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(rec.ID, 10)),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish record %d: %w", rec.ID, err)
	}
	return nil
}

// Close flushes pending messages and shuts down the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
