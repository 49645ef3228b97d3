package observability

import "github.com/theory-cloud/redrive"

// HooksFromLogger routes pipeline log events to logger, scoped by request, shard, and
// sequence. Metrics become debug lines with message "metric".
func HooksFromLogger(logger StructuredLogger) redrive.ObservabilityHooks {
	if logger == nil {
		return redrive.ObservabilityHooks{}
	}
	return redrive.ObservabilityHooks{
		Log: func(rec redrive.LogRecord) {
			scoped := logger.WithRequestID(rec.RequestID).WithShardID(rec.ShardID).WithSequence(rec.StartSequence)
			emit(scoped, rec.Level)(rec.Event, recordFields(rec))
		},
		Metric: func(m redrive.MetricRecord) {
			fields := map[string]any{"metric": m.Name, "value": m.Value}
			if len(m.Tags) > 0 {
				fields["tags"] = m.Tags
			}
			logger.Debug("metric", fields)
		},
	}
}

func emit(logger StructuredLogger, level string) func(string, ...map[string]any) {
	switch level {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "debug":
		return logger.Debug
	default:
		return logger.Info
	}
}

// recordFields leaves out empty reasons and codes so resolved batches log compactly.
func recordFields(rec redrive.LogRecord) map[string]any {
	fields := map[string]any{
		"event":         rec.Event,
		"attempt":       rec.Attempt,
		"failing_index": rec.FailingIndex,
	}
	if rec.Reason != "" {
		fields["reason"] = rec.Reason
	}
	if rec.ErrorCode != "" {
		fields["error_code"] = rec.ErrorCode
	}
	return fields
}
