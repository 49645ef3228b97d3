package redrive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Envelope is the dead-letter payload for one exhausted batch.
//
// AttemptCount is the total number of deliveries the batch received.
type Envelope struct {
	ID                string    `json:"id"`
	Batch             Batch     `json:"original_batch"`
	ShardID           string    `json:"shard_id"`
	StartSequence     string    `json:"start_sequence"`
	AttemptCount      int       `json:"attempt_count"`
	LastFailureReason string    `json:"last_failure_reason"`
	FailureCode       string    `json:"failure_code,omitempty"`
	FailingIndex      int       `json:"failing_index"`
	FirstAttemptAt    time.Time `json:"first_attempt_at"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
}

// Sink stores envelopes durably.
//
// Enqueue returns nil on success, an error classified with NewTransientDeliveryError when a
// retry may succeed, and any other error when it will not.
type Sink interface {
	Enqueue(ctx context.Context, envelope Envelope) error
}

// SinkChecker is implemented by sinks that can verify reachability before the pipeline starts.
type SinkChecker interface {
	Check(ctx context.Context) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, envelope Envelope) error

func (f SinkFunc) Enqueue(ctx context.Context, envelope Envelope) error {
	return f(ctx, envelope)
}

const (
	defaultEnqueueAttempts  = 3
	defaultEnqueueBaseDelay = 50 * time.Millisecond
	defaultEnqueueMaxDelay  = 5 * time.Second
)

// DeadLetterRouter builds envelopes and hands them to a Sink with bounded retry.
// It holds no mutable state and is safe for concurrent use.
type DeadLetterRouter struct {
	sink        Sink
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	clock       Clock
	ids         IDGenerator
	hooks       ObservabilityHooks
	sleep       func(context.Context, time.Duration) error
}

type RouterOption func(*DeadLetterRouter)

// WithEnqueueAttempts caps sink calls per envelope, transient failures included.
func WithEnqueueAttempts(n int) RouterOption {
	return func(r *DeadLetterRouter) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithEnqueueBackoff(base, limit time.Duration) RouterOption {
	return func(r *DeadLetterRouter) {
		if base >= 0 {
			r.baseDelay = base
		}
		if limit >= 0 {
			r.maxDelay = limit
		}
	}
}

func WithRouterClock(clock Clock) RouterOption {
	return func(r *DeadLetterRouter) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func WithRouterIDGenerator(ids IDGenerator) RouterOption {
	return func(r *DeadLetterRouter) {
		if ids != nil {
			r.ids = ids
		}
	}
}

func WithRouterHooks(hooks ObservabilityHooks) RouterOption {
	return func(r *DeadLetterRouter) {
		r.hooks = hooks
	}
}

// WithRouterSleep replaces the context-aware wait between sink retries.
func WithRouterSleep(sleep func(context.Context, time.Duration) error) RouterOption {
	return func(r *DeadLetterRouter) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

func NewDeadLetterRouter(sink Sink, opts ...RouterOption) *DeadLetterRouter {
	r := &DeadLetterRouter{
		sink:        sink,
		maxAttempts: defaultEnqueueAttempts,
		baseDelay:   defaultEnqueueBaseDelay,
		maxDelay:    defaultEnqueueMaxDelay,
		clock:       RealClock{},
		ids:         ULIDGenerator{},
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r
}

// Envelope builds the envelope for batch. The state's EnvelopeID is assigned on first use so
// every enqueue of the same batch carries the same ID.
func (r *DeadLetterRouter) Envelope(batch Batch, state *AttemptState) Envelope {
	if strings.TrimSpace(state.EnvelopeID) == "" {
		state.EnvelopeID = r.ids.NewID()
	}
	env := Envelope{
		ID:             state.EnvelopeID,
		Batch:          batch,
		ShardID:        batch.ShardID,
		StartSequence:  batch.StartSequence,
		AttemptCount:   state.AttemptCount,
		FailingIndex:   -1,
		FirstAttemptAt: state.FirstAttemptAt,
		EnqueuedAt:     r.clock.Now(),
	}
	if state.LastFailure != nil {
		env.LastFailureReason = state.LastFailure.Message
		env.FailureCode = state.LastFailure.Code
		env.FailingIndex = state.LastFailure.FailingIndex
	}
	return env
}

// Route enqueues the batch's envelope. Transient sink failures are retried with capped
// exponential backoff up to the attempt cap; a fatal failure or the cap escalates and
// returns an error wrapping ErrDeadLetterUnavailable.
func (r *DeadLetterRouter) Route(ctx context.Context, batch Batch, state *AttemptState) (Envelope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if state == nil {
		state = &AttemptState{Key: batch.Key()}
	}
	env := r.Envelope(batch, state)
	if r.sink == nil {
		return env, r.escalate(env, 0, NewFatalConfigurationError("dead-letter sink is not configured", nil))
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, backoff(r.baseDelay, r.maxDelay, attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts = attempt

		err := r.sink.Enqueue(ctx, env)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if !IsTransientDelivery(err) {
			break
		}
		r.hooks.log(LogRecord{
			Level:         "warn",
			Event:         EventDeadLetterRetry,
			ShardID:       env.ShardID,
			StartSequence: env.StartSequence,
			Attempt:       attempt,
			Reason:        err.Error(),
			ErrorCode:     ErrorCodeTransientDelivery,
			FailingIndex:  env.FailingIndex,
		})
	}
	return env, r.escalate(env, attempts, lastErr)
}

func (r *DeadLetterRouter) escalate(env Envelope, attempts int, cause error) error {
	code := ErrorCode(cause)
	if code == "" {
		code = ErrorCodeFatalDelivery
	}
	r.hooks.log(LogRecord{
		Level:         "error",
		Event:         EventDeadLetterEscalated,
		ShardID:       env.ShardID,
		StartSequence: env.StartSequence,
		Attempt:       env.AttemptCount,
		Reason:        fmt.Sprintf("dead-letter enqueue failed after %d attempts: %v", attempts, cause),
		ErrorCode:     code,
		FailingIndex:  env.FailingIndex,
	})
	r.hooks.metric(MetricDeadLetterEscalated, env.ShardID, env.AttemptCount, code)
	if cause == nil {
		cause = errors.New("no enqueue attempts made")
	}
	return fmt.Errorf("%w: envelope %s: %w", ErrDeadLetterUnavailable, env.ID, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
