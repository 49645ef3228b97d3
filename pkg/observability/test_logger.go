package observability

import (
	"context"
	"slices"
	"sync"
	"time"
)

// TestLogger records entries in memory for assertions. Loggers derived through With*
// append to the same recording.
type TestLogger struct {
	rec   *recording
	scope Scope
}

type recording struct {
	mu      sync.Mutex
	entries []LogEntry
	flushes int64
	closed  bool
}

var _ StructuredLogger = (*TestLogger)(nil)

func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &recording{}}
}

func (l *TestLogger) Entries() []LogEntry {
	if l == nil || l.rec == nil {
		return nil
	}
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return slices.Clone(l.rec.entries)
}

func (l *TestLogger) EntriesWithMessage(message string) []LogEntry {
	return slices.DeleteFunc(l.Entries(), func(e LogEntry) bool {
		return e.Message != message
	})
}

func (l *TestLogger) Debug(message string, fields ...map[string]any) {
	l.record("debug", message, fields)
}

func (l *TestLogger) Info(message string, fields ...map[string]any) {
	l.record("info", message, fields)
}

func (l *TestLogger) Warn(message string, fields ...map[string]any) {
	l.record("warn", message, fields)
}

func (l *TestLogger) Error(message string, fields ...map[string]any) {
	l.record("error", message, fields)
}

func (l *TestLogger) WithField(key string, value any) StructuredLogger {
	return l.derive(l.scope.WithFields(map[string]any{key: value}))
}

func (l *TestLogger) WithFields(fields map[string]any) StructuredLogger {
	return l.derive(l.scope.WithFields(fields))
}

func (l *TestLogger) WithRequestID(requestID string) StructuredLogger {
	return l.derive(l.scope.WithRequestID(requestID))
}

func (l *TestLogger) WithShardID(shardID string) StructuredLogger {
	return l.derive(l.scope.WithShardID(shardID))
}

func (l *TestLogger) WithSequence(sequence string) StructuredLogger {
	return l.derive(l.scope.WithSequence(sequence))
}

func (l *TestLogger) Flush(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	l.rec.mu.Lock()
	l.rec.flushes++
	l.rec.mu.Unlock()
	return nil
}

func (l *TestLogger) Close() error {
	l.rec.mu.Lock()
	l.rec.closed = true
	l.rec.mu.Unlock()
	return nil
}

func (l *TestLogger) IsHealthy() bool {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return !l.rec.closed
}

func (l *TestLogger) Stats() LoggerStats {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return LoggerStats{EntriesLogged: int64(len(l.rec.entries)), Flushes: l.rec.flushes}
}

func (l *TestLogger) derive(scope Scope) *TestLogger {
	return &TestLogger{rec: l.rec, scope: scope}
}

func (l *TestLogger) record(level, message string, fields []map[string]any) {
	if l == nil || l.rec == nil {
		return
	}
	entry := l.scope.Entry(time.Now(), level, message, nil, fields...)

	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	if !l.rec.closed {
		l.rec.entries = append(l.rec.entries, entry)
	}
}
