package observability

import (
	"context"
	"time"
)

type SanitizerFunc func(key string, value any) any

// ErrorNotifier receives error-level entries, typically to page an operator.
type ErrorNotifier interface {
	Notify(ctx context.Context, entry LogEntry) error
}

// LogEntry represents a structured log entry.
//
// ShardID and Sequence locate the batch an entry is about; RequestID is the host
// invocation that produced it.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	ShardID   string `json:"shard_id,omitempty"`
	Sequence  string `json:"sequence,omitempty"`
}

// StructuredLogger is the logging surface used across redrive: a message plus map fields,
// with With* calls returning scoped loggers.
type StructuredLogger interface {
	Debug(message string, fields ...map[string]any)
	Info(message string, fields ...map[string]any)
	Warn(message string, fields ...map[string]any)
	Error(message string, fields ...map[string]any)

	WithField(key string, value any) StructuredLogger
	WithFields(fields map[string]any) StructuredLogger

	WithRequestID(requestID string) StructuredLogger
	WithShardID(shardID string) StructuredLogger
	WithSequence(sequence string) StructuredLogger

	// Flush writes buffered output and waits for queued notifications until ctx is done.
	Flush(ctx context.Context) error
	Close() error
	IsHealthy() bool
	Stats() LoggerStats
}

// LoggerStats counts entries and alert deliveries. Alert counters stay zero without a
// notifier.
type LoggerStats struct {
	EntriesLogged int64  `json:"entries_logged"`
	Flushes       int64  `json:"flushes"`
	AlertsSent    int64  `json:"alerts_sent"`
	AlertsDropped int64  `json:"alerts_dropped"`
	AlertFailures int64  `json:"alert_failures"`
	LastError     string `json:"last_error,omitempty"`
}

// LoggerConfig configures logger implementations.
type LoggerConfig struct {
	Format       string        `json:"format" yaml:"format"`
	Level        string        `json:"level" yaml:"level"`
	RetryDelay   time.Duration `json:"retry_delay" yaml:"retry_delay"`
	BufferSize   int           `json:"buffer_size" yaml:"buffer_size"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	EnableStack  bool          `json:"enable_stack" yaml:"enable_stack"`
	EnableCaller bool          `json:"enable_caller" yaml:"enable_caller"`
}
