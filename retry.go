package redrive

import (
	"fmt"
	"time"
)

// State is the retry controller's view of an outstanding batch.
type State int

const (
	StateFirstAttempt State = iota
	StateRetrying
	StateExhausted
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateFirstAttempt:
		return "FIRST_ATTEMPT"
	case StateRetrying:
		return "RETRYING"
	case StateExhausted:
		return "EXHAUSTED"
	case StateResolved:
		return "RESOLVED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AttemptKey identifies a batch by shard and start sequence.
type AttemptKey struct {
	ShardID       string `json:"shard_id"`
	StartSequence string `json:"start_sequence"`
}

func (k AttemptKey) String() string {
	return k.ShardID + "@" + k.StartSequence
}

// FailureReason is the structured cause of the most recent failed delivery.
type FailureReason struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	FailingIndex int    `json:"failing_index"`
}

// AttemptState tracks deliveries of one outstanding batch.
//
// AttemptCount is the number of failed deliveries so far. It is created on first delivery,
// mutated on each failure, and destroyed when the batch resolves.
type AttemptState struct {
	Key            AttemptKey     `json:"key"`
	AttemptCount   int            `json:"attempt_count"`
	FirstAttemptAt time.Time      `json:"first_attempt_at"`
	LastFailure    *FailureReason `json:"last_failure,omitempty"`
	// EnvelopeID is assigned the first time the batch is routed to the dead-letter sink.
	EnvelopeID string `json:"envelope_id,omitempty"`
	// Resolution is the exhausted action ("dead_letter" or "drop") that already completed.
	// It is saved before the cursor moves, so a state carrying it only waits for the advance.
	Resolution string `json:"resolution,omitempty"`
}

// settled reports the exhausted action this batch already completed, if any.
func (s *AttemptState) settled() (Action, bool) {
	if s == nil {
		return 0, false
	}
	switch s.Resolution {
	case ActionDeadLetter.String():
		return ActionDeadLetter, true
	case ActionDrop.String():
		return ActionDrop, true
	default:
		return 0, false
	}
}

// Action is what the caller must do after a delivery attempt.
type Action int

const (
	ActionAdvance Action = iota
	ActionRedeliver
	ActionDeadLetter
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "advance"
	case ActionRedeliver:
		return "redeliver"
	case ActionDeadLetter:
		return "dead_letter"
	case ActionDrop:
		return "drop"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the controller's verdict on one attempt.
//
// Retry is n in RETRYING(n) and is only set for ActionRedeliver. Backoff is the wait before
// the redelivery.
type Decision struct {
	Action      Action
	State       State
	Retry       int
	Backoff     time.Duration
	AgeExceeded bool
}

// RetryController applies a RetryPolicy to delivery outcomes. It holds no per-batch state;
// callers own the AttemptState and persist it between attempts.
type RetryController struct {
	policy RetryPolicy
	clock  Clock
}

func NewRetryController(policy RetryPolicy, clock Clock) *RetryController {
	if clock == nil {
		clock = RealClock{}
	}
	return &RetryController{policy: policy, clock: clock}
}

func (c *RetryController) Policy() RetryPolicy {
	return c.policy
}

// Begin returns the state for the next delivery of key. An existing state for the same key
// is resumed; otherwise a fresh FIRST_ATTEMPT state starts now.
func (c *RetryController) Begin(key AttemptKey, existing *AttemptState) *AttemptState {
	if existing != nil && existing.Key == key {
		if existing.FirstAttemptAt.IsZero() {
			existing.FirstAttemptAt = c.clock.Now()
		}
		return existing
	}
	return &AttemptState{Key: key, FirstAttemptAt: c.clock.Now()}
}

// Current reports the state a batch is in before its next delivery.
func (c *RetryController) Current(state *AttemptState) State {
	if state == nil || state.AttemptCount == 0 {
		return StateFirstAttempt
	}
	return StateRetrying
}

// Observe records outcome against state and decides the next action.
//
// The age limit is checked first and pre-empts both the attempt budget and unbounded mode.
func (c *RetryController) Observe(state *AttemptState, outcome BatchOutcome) Decision {
	if outcome.Success {
		return Decision{Action: ActionAdvance, State: StateResolved}
	}

	prior := state.AttemptCount
	state.AttemptCount++
	state.LastFailure = &FailureReason{
		Code:         outcome.Code(),
		Message:      outcome.Reason,
		FailingIndex: outcome.FailingIndex,
	}

	if c.ageExceeded(state) {
		return c.exhausted(true)
	}
	if c.policy.Unbounded() || prior < c.policy.MaxAttempts {
		retry := prior + 1
		return Decision{
			Action:  ActionRedeliver,
			State:   StateRetrying,
			Retry:   retry,
			Backoff: c.policy.Backoff(retry),
		}
	}
	return c.exhausted(false)
}

func (c *RetryController) ageExceeded(state *AttemptState) bool {
	limit := c.policy.MaxRecordAge()
	if limit <= 0 || state.FirstAttemptAt.IsZero() {
		return false
	}
	return c.clock.Now().Sub(state.FirstAttemptAt) > limit
}

func (c *RetryController) exhausted(ageExceeded bool) Decision {
	action := ActionDrop
	if c.policy.DLQEnabled {
		action = ActionDeadLetter
	}
	return Decision{Action: action, State: StateExhausted, AgeExceeded: ageExceeded}
}
