package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/redrive"
)

func TestTestLogger_ScopesShareCore(t *testing.T) {
	t.Parallel()

	base := NewTestLogger()
	base.WithField("a", "b").Info("one")

	derived := base.WithRequestID("r1").WithShardID(" shard-1 ").WithSequence("42")
	derived.Warn("two", map[string]any{"k": "v", "password": "p"})

	entries := base.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].Fields["a"])
	require.Equal(t, "", entries[0].ShardID)

	require.Equal(t, "warn", entries[1].Level)
	require.Equal(t, "r1", entries[1].RequestID)
	require.Equal(t, "shard-1", entries[1].ShardID)
	require.Equal(t, "42", entries[1].Sequence)
	require.Equal(t, "[REDACTED]", entries[1].Fields["password"])
	require.NotContains(t, entries[1].Fields, "a")
}

func TestTestLogger_FlushCloseStats(t *testing.T) {
	logger := NewTestLogger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, logger.Flush(ctx))
	require.NoError(t, logger.Flush(context.Background()))

	logger.Info("x\nforged")
	stats := logger.Stats()
	require.Equal(t, int64(1), stats.Flushes)
	require.Equal(t, int64(1), stats.EntriesLogged)
	require.Equal(t, "xforged", logger.Entries()[0].Message)

	require.NoError(t, logger.Close())
	require.False(t, logger.IsHealthy())
	logger.Error("dropped")
	require.Len(t, logger.Entries(), 1)
}

func TestHooksFromLogger(t *testing.T) {
	logger := NewTestLogger()
	hooks := HooksFromLogger(logger)
	require.NotNil(t, hooks.Log)
	require.NotNil(t, hooks.Metric)

	hooks.Log(redrive.LogRecord{
		Level:         "error",
		Event:         redrive.EventBatchDropped,
		RequestID:     "req-1",
		ShardID:       "shard-1",
		StartSequence: "7",
		Attempt:       4,
		Reason:        "missing field: value",
		ErrorCode:     redrive.ErrorCodeValidation,
		FailingIndex:  0,
	})
	hooks.Log(redrive.LogRecord{Level: "debug", Event: redrive.EventBatchResolved})
	hooks.Log(redrive.LogRecord{Event: "custom"})

	entries := logger.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "error", entries[0].Level)
	require.Equal(t, redrive.EventBatchDropped, entries[0].Message)
	require.Equal(t, "req-1", entries[0].RequestID)
	require.Equal(t, "7", entries[0].Sequence)
	require.Equal(t, 4, entries[0].Fields["attempt"])
	require.Equal(t, redrive.ErrorCodeValidation, entries[0].Fields["error_code"])
	require.Equal(t, "debug", entries[1].Level)
	require.Equal(t, "info", entries[2].Level)

	require.Nil(t, HooksFromLogger(nil).Log)
}

func TestHooksFromLogger_MetricsBecomeDebugLines(t *testing.T) {
	logger := NewTestLogger()
	hooks := HooksFromLogger(logger)

	hooks.Metric(redrive.MetricRecord{
		Name:  redrive.MetricBatchRetry,
		Value: 1,
		Tags:  map[string]string{"shard_id": "shard-1", "action": "redeliver"},
	})
	hooks.Metric(redrive.MetricRecord{Name: redrive.MetricIngestRecords, Value: 12})

	entries := logger.EntriesWithMessage("metric")
	require.Len(t, entries, 2)
	require.Equal(t, "debug", entries[0].Level)
	require.Equal(t, redrive.MetricBatchRetry, entries[0].Fields["metric"])
	require.Equal(t, 1, entries[0].Fields["value"])
	require.Contains(t, entries[0].Fields, "tags")
	require.Equal(t, redrive.MetricIngestRecords, entries[1].Fields["metric"])
	require.Equal(t, 12, entries[1].Fields["value"])
	require.NotContains(t, entries[1].Fields, "tags")
}

func TestScope_EntryMergesAndSanitizes(t *testing.T) {
	parent := Scope{}.WithShardID("s1").WithFields(map[string]any{"a": 1, "token": "t"})
	child := parent.WithFields(map[string]any{"b": 2})
	require.NotContains(t, parent.Fields, "b")

	now := time.Unix(10, 0)
	entry := child.WithSequence("9").Entry(now, "warn", "retry\r\n", nil, map[string]any{"a": "call"})
	require.Equal(t, now, entry.Timestamp)
	require.Equal(t, "retry", entry.Message)
	require.Equal(t, "s1", entry.ShardID)
	require.Equal(t, "9", entry.Sequence)
	require.Equal(t, "call", entry.Fields["a"])
	require.Equal(t, 2, entry.Fields["b"])
	require.Equal(t, "[REDACTED]", entry.Fields["token"])

	upper := func(string, any) any { return "x" }
	require.Equal(t, "x", child.Entry(now, "info", "m", upper).Fields["b"])
	require.Equal(t, 1, parent.Fields["a"], "Entry must not mutate the scope")
}

func TestMergeFields(t *testing.T) {
	require.Equal(t, map[string]any{"a": 2, "b": 1}, MergeFields(map[string]any{"a": 1, "b": 1}, nil, map[string]any{"a": 2}))
	require.Empty(t, MergeFields())
}
