package redrive

import "strconv"

type LogRecord struct {
	Level         string
	Event         string
	RequestID     string
	ShardID       string
	StartSequence string
	Attempt       int
	Reason        string
	ErrorCode     string
	FailingIndex  int
}

type MetricRecord struct {
	Name  string
	Value int
	Tags  map[string]string
}

// ObservabilityHooks receives pipeline events. Nil hooks are skipped.
type ObservabilityHooks struct {
	Log    func(LogRecord)
	Metric func(MetricRecord)
}

const (
	EventBatchResolved       = "batch.resolved"
	EventBatchRetry          = "batch.retry"
	EventBatchDeadLettered   = "batch.dead_lettered"
	EventBatchDropped        = "batch.dropped"
	EventResolutionUnsaved   = "batch.resolution_unsaved"
	EventDeadLetterRetry     = "deadletter.retry"
	EventDeadLetterEscalated = "deadletter.escalated"
	EventWorkerStopped       = "worker.stopped"
	EventIngestFailed        = "ingest.failed"
)

const (
	MetricBatchResolved       = "redrive.batch.resolved"
	MetricBatchRetry          = "redrive.batch.retry"
	MetricBatchDeadLettered   = "redrive.batch.dead_lettered"
	MetricBatchDropped        = "redrive.batch.dropped"
	MetricDeadLetterEscalated = "redrive.deadletter.escalated"
	MetricIngestRecords       = "redrive.ingest.records"
)

func (h ObservabilityHooks) log(record LogRecord) {
	if h.Log != nil {
		h.Log(record)
	}
}

// withRequestID stamps requestID onto every log record that lacks one.
func (h ObservabilityHooks) withRequestID(requestID string) ObservabilityHooks {
	if h.Log == nil || requestID == "" {
		return h
	}
	next := h.Log
	h.Log = func(record LogRecord) {
		if record.RequestID == "" {
			record.RequestID = requestID
		}
		next(record)
	}
	return h
}

func (h ObservabilityHooks) metric(name, shardID string, attempt int, errorCode string) {
	if h.Metric == nil {
		return
	}
	h.Metric(MetricRecord{
		Name:  name,
		Value: 1,
		Tags: map[string]string{
			"shard_id":   shardID,
			"attempt":    strconv.Itoa(attempt),
			"error_code": errorCode,
		},
	})
}
