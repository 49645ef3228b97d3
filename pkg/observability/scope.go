package observability

import (
	"strings"
	"time"

	"github.com/theory-cloud/redrive/pkg/sanitization"
)

// Scope is what a scoped logger carries into every entry: the host invocation, the batch
// location, and fields added with WithField(s).
//
// Scope is a value. With* methods return a copy and never mutate Fields in place, so
// loggers derived from one parent do not see each other's fields.
type Scope struct {
	RequestID string
	ShardID   string
	Sequence  string
	Fields    map[string]any
}

func (s Scope) WithRequestID(requestID string) Scope {
	s.RequestID = strings.TrimSpace(requestID)
	return s
}

func (s Scope) WithShardID(shardID string) Scope {
	s.ShardID = strings.TrimSpace(shardID)
	return s
}

func (s Scope) WithSequence(sequence string) Scope {
	s.Sequence = strings.TrimSpace(sequence)
	return s
}

func (s Scope) WithFields(fields map[string]any) Scope {
	merged := make(map[string]any, len(s.Fields)+len(fields))
	for k, v := range s.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	s.Fields = merged
	return s
}

// Entry builds the entry for one logging call. Call fields win over scope fields, and
// every value goes through sanitize (SanitizeFieldValue when nil).
func (s Scope) Entry(now time.Time, level, message string, sanitize SanitizerFunc, call ...map[string]any) LogEntry {
	if sanitize == nil {
		sanitize = sanitization.SanitizeFieldValue
	}
	fields := s.WithFields(MergeFields(call...)).Fields
	for k, v := range fields {
		fields[k] = sanitize(k, v)
	}
	return LogEntry{
		Timestamp: now,
		Level:     level,
		Message:   sanitization.SanitizeLogString(message),
		Fields:    fields,
		RequestID: s.RequestID,
		ShardID:   s.ShardID,
		Sequence:  s.Sequence,
	}
}

// MergeFields flattens field sets left to right into a new map.
func MergeFields(sets ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}
