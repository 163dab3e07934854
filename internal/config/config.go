// Package config provides configuration management for the archiver.
// It defines the configuration structure consumed by the fetch pipeline and its default values.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// idPlaceholders fills the ID slots of a URL template for validation
var idPlaceholders = strings.NewReplacer("{id}", "0", "%d", "0")

// FailurePolicy decides what the archiver does with a result that did not yield real data
type FailurePolicy string

const (
	// PolicyRecord persists the result so the ID is never fetched again
	PolicyRecord FailurePolicy = "record"
	// PolicyDefer leaves the ID unpersisted so the next run backfills it
	PolicyDefer FailurePolicy = "defer"
)

// Valid reports whether p is a known policy
func (p FailurePolicy) Valid() bool {
	return p == PolicyRecord || p == PolicyDefer
}

// Kafka contains the optional record publisher settings
type Kafka struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"` // Broker addresses; empty disables publishing
	Topic   string   `mapstructure:"topic" yaml:"topic"`     // Topic receiving one message per archived record
}

// Config holds archiver configuration
type Config struct {
	// Catalog
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`     // Catalog page URL, the id is added as ?id=<n> or replaces {id}
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"` // HTTP User-Agent header

	// Fetching
	Workers            int           `mapstructure:"workers" yaml:"workers"`                           // Number of concurrent workers
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`           // HTTP request timeout
	RequestDelay       time.Duration `mapstructure:"request_delay" yaml:"request_delay"`               // Minimum spacing between requests across all workers (0=off)
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"` // Disable TLS certificate verification

	// Scheduling
	RateLimit    int           `mapstructure:"rate_limit" yaml:"rate_limit"`       // New IDs enqueued per interval
	RateInterval time.Duration `mapstructure:"rate_interval" yaml:"rate_interval"` // Length of the rate window
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`       // Task and result channel capacity (0=derived from rate_limit)
	MaxID        int64         `mapstructure:"max_id" yaml:"max_id"`               // Stop forward enumeration after this ID (0=unbounded)

	// Failure handling
	OnParseError     FailurePolicy `mapstructure:"on_parse_error" yaml:"on_parse_error"`         // record or defer pages missing the download header
	OnTransportError FailurePolicy `mapstructure:"on_transport_error" yaml:"on_transport_error"` // record or defer IDs the server never answered

	// Persistence
	DatabasePath    string        `mapstructure:"database_path" yaml:"database_path"`       // SQLite file path or postgres:// DSN
	ProgressEvery   int           `mapstructure:"progress_every" yaml:"progress_every"`     // Log progress every N archived records
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"` // Hard deadline for draining on interrupt

	// Logging and telemetry
	Verbose     bool   `mapstructure:"verbose" yaml:"verbose"`           // Debug logging
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`         // Optional rotating log file
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`     // json or text
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"` // Listen address for /metrics (empty=off)

	Kafka Kafka `mapstructure:"kafka" yaml:"kafka"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://www.microsoft.com/en-us/download/details.aspx",
		UserAgent:        "idarchiver/1.0",
		Workers:          5,
		RequestTimeout:   2 * time.Second,
		RateLimit:        500,
		RateInterval:     time.Minute,
		OnParseError:     PolicyRecord,
		OnTransportError: PolicyRecord,
		DatabasePath:     "results.db",
		ProgressEvery:    50,
		ShutdownTimeout:  30 * time.Second,
		LogFormat:        "json",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrEmptyBaseURL
	}
	u, err := url.Parse(idPlaceholders.Replace(c.BaseURL))
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url: unsupported scheme %q", u.Scheme)
	}

	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RateLimit <= 0 {
		return ErrInvalidRateLimit
	}

	if c.RateInterval <= 0 {
		return ErrInvalidRateInterval
	}

	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}

	if c.OnParseError == "" {
		c.OnParseError = PolicyRecord
	}
	if c.OnTransportError == "" {
		c.OnTransportError = PolicyRecord
	}
	if !c.OnParseError.Valid() || !c.OnTransportError.Valid() {
		return ErrInvalidFailurePolicy
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return ErrKafkaTopicRequired
	}

	// Negative values fall back to defaults
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 50
	}
	if c.MaxID < 0 {
		c.MaxID = 0
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.RequestDelay < 0 {
		c.RequestDelay = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	return nil
}

// ChannelSize returns the capacity used for the task and result channels
func (c *Config) ChannelSize() int {
	if c.QueueSize > 0 {
		return c.QueueSize
	}
	return c.RateLimit + c.Workers
}
