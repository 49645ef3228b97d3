// Package zap is the production StructuredLogger for redrive, built on go.uber.org/zap.
// Error entries can be forwarded to an ErrorNotifier (SNS in Lambda) so an operator hears
// about shards halted on an unreachable dead-letter sink.
package zap

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ubzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/theory-cloud/redrive/pkg/observability"
	"github.com/theory-cloud/redrive/pkg/sanitization"
)

// NotifyFilter decides whether an error entry is forwarded to the notifier.
type NotifyFilter func(entry observability.LogEntry) bool

// EscalationsOnly forwards only entries whose message is one of events.
func EscalationsOnly(events ...string) NotifyFilter {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return func(entry observability.LogEntry) bool {
		return allowed[entry.Message]
	}
}

type Option func(*loggerOptions)

type loggerOptions struct {
	zapLogger *ubzap.Logger
	output    io.Writer
	sanitizer observability.SanitizerFunc
	notifier  observability.ErrorNotifier
	filter    NotifyFilter
}

// WithZapLogger writes through an existing zap logger. Format and level are then the
// caller's business.
func WithZapLogger(logger *ubzap.Logger) Option {
	return func(o *loggerOptions) { o.zapLogger = logger }
}

// WithOutput replaces stdout as the destination of the built logger.
func WithOutput(w io.Writer) Option {
	return func(o *loggerOptions) { o.output = w }
}

func WithSanitizer(fn observability.SanitizerFunc) Option {
	return func(o *loggerOptions) { o.sanitizer = fn }
}

func WithErrorNotifier(notifier observability.ErrorNotifier) Option {
	return func(o *loggerOptions) { o.notifier = notifier }
}

// WithNotifyFilter narrows which error entries reach the notifier. Without one every
// error-level entry is forwarded.
func WithNotifyFilter(filter NotifyFilter) Option {
	return func(o *loggerOptions) { o.filter = filter }
}

// Logger is a StructuredLogger over zap. Scoped loggers share counters, the alert queue,
// and the closed flag with the logger they came from.
type Logger struct {
	shared *shared
	zl     *ubzap.Logger
	scope  observability.Scope
}

var _ observability.StructuredLogger = (*Logger)(nil)

type shared struct {
	sanitize observability.SanitizerFunc
	root     *ubzap.Logger
	alerts   *alertQueue

	logged    atomic.Int64
	flushes   atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr string
}

func NewZapLogger(config observability.LoggerConfig, options ...Option) (observability.StructuredLogger, error) {
	opts := loggerOptions{output: os.Stdout, sanitizer: sanitization.SanitizeFieldValue}
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	if opts.sanitizer == nil {
		opts.sanitizer = sanitization.SanitizeFieldValue
	}

	cfg := normalizeLoggerConfig(config)
	zl := opts.zapLogger
	if zl == nil {
		built, err := buildZapLogger(cfg, opts.output)
		if err != nil {
			return nil, err
		}
		zl = built
	}

	s := &shared{sanitize: opts.sanitizer, root: zl}
	if opts.notifier != nil {
		s.alerts = newAlertQueue(opts.notifier, opts.filter, cfg, s.recordError)
	}
	return &Logger{shared: s, zl: zl}, nil
}

func (l *Logger) Debug(message string, fields ...map[string]any) {
	l.log(zapcore.DebugLevel, message, fields)
}

func (l *Logger) Info(message string, fields ...map[string]any) {
	l.log(zapcore.InfoLevel, message, fields)
}

func (l *Logger) Warn(message string, fields ...map[string]any) {
	l.log(zapcore.WarnLevel, message, fields)
}

func (l *Logger) Error(message string, fields ...map[string]any) {
	l.log(zapcore.ErrorLevel, message, fields)
}

func (l *Logger) WithField(key string, value any) observability.StructuredLogger {
	return l.WithFields(map[string]any{key: value})
}

func (l *Logger) WithFields(fields map[string]any) observability.StructuredLogger {
	return l.derive(l.scope.WithFields(fields), l.shared.zapFields(fields)...)
}

func (l *Logger) WithRequestID(requestID string) observability.StructuredLogger {
	scope := l.scope.WithRequestID(requestID)
	return l.derive(scope, scopeField("request_id", scope.RequestID)...)
}

func (l *Logger) WithShardID(shardID string) observability.StructuredLogger {
	scope := l.scope.WithShardID(shardID)
	return l.derive(scope, scopeField("shard_id", scope.ShardID)...)
}

func (l *Logger) WithSequence(sequence string) observability.StructuredLogger {
	scope := l.scope.WithSequence(sequence)
	return l.derive(scope, scopeField("sequence", scope.Sequence)...)
}

func (l *Logger) derive(scope observability.Scope, fields ...ubzap.Field) *Logger {
	zl := l.zl
	if len(fields) > 0 {
		zl = zl.With(fields...)
	}
	return &Logger{shared: l.shared, zl: zl, scope: scope}
}

// scopeField is empty for an empty value so unscoped entries carry no blank keys.
func scopeField(key, value string) []ubzap.Field {
	if value == "" {
		return nil
	}
	return []ubzap.Field{ubzap.String(key, sanitization.SanitizeLogString(value))}
}

func (l *Logger) log(level zapcore.Level, message string, fields []map[string]any) {
	if l == nil || l.shared == nil || l.shared.closed.Load() {
		return
	}

	clean := sanitization.SanitizeLogString(message)
	if ce := l.zl.Check(level, clean); ce != nil {
		ce.Write(l.shared.zapFields(observability.MergeFields(fields...))...)
	}
	l.shared.logged.Add(1)

	if level == zapcore.ErrorLevel && l.shared.alerts != nil {
		l.shared.alerts.offer(l.scope.Entry(time.Now().UTC(), level.String(), clean, l.shared.sanitize, fields...))
	}
}

func (l *Logger) Flush(ctx context.Context) error {
	if l == nil || l.shared == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.shared.flushes.Add(1)
	err := l.shared.sync()
	if l.shared.alerts != nil {
		l.shared.alerts.wait(ctx)
	}
	return err
}

// Close drains queued alerts and syncs the output. Entries logged afterwards are discarded.
func (l *Logger) Close() error {
	if l == nil || l.shared == nil {
		return nil
	}
	var err error
	l.shared.closeOnce.Do(func() {
		l.shared.closed.Store(true)
		if l.shared.alerts != nil {
			l.shared.alerts.stop()
		}
		err = l.shared.sync()
	})
	return err
}

// IsHealthy is false once closed or after any sync or alert delivery failed.
func (l *Logger) IsHealthy() bool {
	if l == nil || l.shared == nil || l.shared.closed.Load() {
		return false
	}
	return l.shared.lastError() == ""
}

func (l *Logger) Stats() observability.LoggerStats {
	if l == nil || l.shared == nil {
		return observability.LoggerStats{}
	}
	s := l.shared
	stats := observability.LoggerStats{
		EntriesLogged: s.logged.Load(),
		Flushes:       s.flushes.Load(),
		LastError:     s.lastError(),
	}
	if s.alerts != nil {
		stats.AlertsSent = s.alerts.sent.Load()
		stats.AlertsDropped = s.alerts.dropped.Load()
		stats.AlertFailures = s.alerts.failed.Load()
	}
	return stats
}

func (s *shared) zapFields(fields map[string]any) []ubzap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]ubzap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, ubzap.Any(k, s.sanitize(k, v)))
	}
	return out
}

func (s *shared) sync() error {
	err := s.root.Sync()
	if err != nil {
		s.recordError(err)
	}
	return err
}

func (s *shared) recordError(err error) {
	s.errMu.Lock()
	s.lastErr = err.Error()
	s.errMu.Unlock()
}

func (s *shared) lastError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}
