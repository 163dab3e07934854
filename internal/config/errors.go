package config

import "errors"

var (
	// ErrEmptyBaseURL is returned when no catalog URL template is configured
	ErrEmptyBaseURL = errors.New("base_url cannot be empty")
	// ErrInvalidWorkers is returned when workers is not greater than 0
	ErrInvalidWorkers = errors.New("workers must be greater than 0")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrInvalidRateLimit is returned when rate_limit is not greater than 0
	ErrInvalidRateLimit = errors.New("rate_limit must be greater than 0")
	// ErrInvalidRateInterval is returned when rate_interval is not greater than 0
	ErrInvalidRateInterval = errors.New("rate_interval must be greater than 0")
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
	// ErrInvalidFailurePolicy is returned for an unknown on_parse_error / on_transport_error value
	ErrInvalidFailurePolicy = errors.New("failure policy must be 'record' or 'defer'")
	// ErrKafkaTopicRequired is returned when brokers are set without a topic
	ErrKafkaTopicRequired = errors.New("kafka.topic is required when kafka.brokers is set")
)
