package redrive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedSink struct {
	mu    sync.Mutex
	errs  []error
	calls []Envelope
}

func (s *scriptedSink) Enqueue(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, env)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type sequenceIDs struct{ n int }

func (g *sequenceIDs) NewID() string {
	g.n++
	return "env-" + string(rune('0'+g.n))
}

func exhaustedState() *AttemptState {
	return &AttemptState{
		Key:            AttemptKey{ShardID: "shard-1", StartSequence: "0"},
		AttemptCount:   4,
		FirstAttemptAt: time.Unix(100, 0).UTC(),
		LastFailure:    &FailureReason{Code: ErrorCodeValidation, Message: "missing field: value", FailingIndex: 0},
	}
}

func testBatch() Batch {
	return Batch{
		ShardID:       "shard-1",
		StartSequence: "0",
		NextSequence:  "1",
		Records:       []Record{ParseRecord([]byte(`{"id":"1","name":"John"}`))},
	}
}

func recordingHooks() (ObservabilityHooks, *[]LogRecord, *[]MetricRecord) {
	var mu sync.Mutex
	logs := []LogRecord{}
	metrics := []MetricRecord{}
	return ObservabilityHooks{
		Log: func(r LogRecord) {
			mu.Lock()
			logs = append(logs, r)
			mu.Unlock()
		},
		Metric: func(r MetricRecord) {
			mu.Lock()
			metrics = append(metrics, r)
			mu.Unlock()
		},
	}, &logs, &metrics
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRoute_BuildsEnvelope(t *testing.T) {
	sink := &scriptedSink{}
	clock := &fixedClock{now: time.Unix(500, 0).UTC()}
	r := NewDeadLetterRouter(sink, WithRouterClock(clock), WithRouterIDGenerator(&sequenceIDs{}))

	state := exhaustedState()
	env, err := r.Route(context.Background(), testBatch(), state)
	require.NoError(t, err)
	require.Len(t, sink.calls, 1)

	require.Equal(t, "env-1", env.ID)
	require.Equal(t, "env-1", state.EnvelopeID)
	require.Equal(t, 4, env.AttemptCount)
	require.Equal(t, "shard-1", env.ShardID)
	require.Equal(t, "0", env.StartSequence)
	require.Equal(t, "missing field: value", env.LastFailureReason)
	require.Equal(t, 0, env.FailingIndex)
	require.Equal(t, clock.now, env.EnqueuedAt)
	require.Equal(t, testBatch().Records[0].String(), env.Batch.Records[0].String())
}

func TestRoute_TransientRetriesReuseEnvelopeID(t *testing.T) {
	transient := NewTransientDeliveryError(errors.New("throttled"))
	sink := &scriptedSink{errs: []error{transient, transient}}
	var waits []time.Duration
	r := NewDeadLetterRouter(sink,
		WithRouterIDGenerator(&sequenceIDs{}),
		WithEnqueueBackoff(10*time.Millisecond, time.Second),
		WithRouterSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
	)

	_, err := r.Route(context.Background(), testBatch(), exhaustedState())
	require.NoError(t, err)
	require.Len(t, sink.calls, 3)
	for _, call := range sink.calls {
		require.Equal(t, "env-1", call.ID)
	}
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestRoute_EscalatesAtCap(t *testing.T) {
	transient := NewTransientDeliveryError(errors.New("throttled"))
	sink := &scriptedSink{errs: []error{transient, transient, transient, transient}}
	hooks, logs, metrics := recordingHooks()
	r := NewDeadLetterRouter(sink, WithRouterHooks(hooks), WithRouterSleep(noSleep), WithEnqueueAttempts(3))

	_, err := r.Route(context.Background(), testBatch(), exhaustedState())
	require.ErrorIs(t, err, ErrDeadLetterUnavailable)
	require.True(t, IsTransientDelivery(err))
	require.Len(t, sink.calls, 3)

	last := (*logs)[len(*logs)-1]
	require.Equal(t, "error", last.Level)
	require.Equal(t, EventDeadLetterEscalated, last.Event)
	require.Equal(t, "shard-1", last.ShardID)
	require.Equal(t, 4, last.Attempt)
	require.Len(t, *metrics, 1)
	require.Equal(t, MetricDeadLetterEscalated, (*metrics)[0].Name)
}

func TestRoute_FatalErrorEscalatesImmediately(t *testing.T) {
	sink := &scriptedSink{errs: []error{NewFatalDeliveryError(errors.New("queue missing"))}}
	r := NewDeadLetterRouter(sink, WithRouterSleep(noSleep))

	_, err := r.Route(context.Background(), testBatch(), exhaustedState())
	require.ErrorIs(t, err, ErrDeadLetterUnavailable)
	require.Equal(t, ErrorCodeFatalDelivery, ErrorCode(err))
	require.Len(t, sink.calls, 1)

	plain := &scriptedSink{errs: []error{errors.New("unclassified")}}
	_, err = NewDeadLetterRouter(plain, WithRouterSleep(noSleep)).Route(context.Background(), testBatch(), exhaustedState())
	require.ErrorIs(t, err, ErrDeadLetterUnavailable)
	require.Len(t, plain.calls, 1)
}

func TestRoute_NilSink(t *testing.T) {
	_, err := NewDeadLetterRouter(nil).Route(context.Background(), testBatch(), exhaustedState())
	require.ErrorIs(t, err, ErrDeadLetterUnavailable)
	require.True(t, IsFatalConfiguration(err))
}

func TestRoute_ConcurrentUse(t *testing.T) {
	sink := &scriptedSink{}
	r := NewDeadLetterRouter(sink)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Route(context.Background(), testBatch(), exhaustedState())
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, sink.calls, 16)
}
