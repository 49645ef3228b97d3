package redrive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func failure() BatchOutcome {
	return Failure(0, NewValidationError("missing field: value"))
}

func TestRetryController_BoundedBudget(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1000, 0)}
	c := NewRetryController(RetryPolicy{MaxAttempts: 3, DLQEnabled: true}, clock)
	key := AttemptKey{ShardID: "s", StartSequence: "0"}

	state := c.Begin(key, nil)
	require.Equal(t, StateFirstAttempt, c.Current(state))

	for retry := 1; retry <= 3; retry++ {
		d := c.Observe(state, failure())
		require.Equal(t, ActionRedeliver, d.Action)
		require.Equal(t, StateRetrying, d.State)
		require.Equal(t, retry, d.Retry)
		require.Equal(t, StateRetrying, c.Current(state))
	}

	d := c.Observe(state, failure())
	require.Equal(t, ActionDeadLetter, d.Action)
	require.Equal(t, StateExhausted, d.State)
	require.False(t, d.AgeExceeded)
	require.Equal(t, 4, state.AttemptCount)
	require.Equal(t, "missing field: value", state.LastFailure.Message)
	require.Equal(t, ErrorCodeValidation, state.LastFailure.Code)
}

func TestRetryController_ZeroAttemptsWithoutDLQDrops(t *testing.T) {
	c := NewRetryController(RetryPolicy{MaxAttempts: 0}, nil)
	state := c.Begin(AttemptKey{ShardID: "s"}, nil)
	d := c.Observe(state, failure())
	require.Equal(t, ActionDrop, d.Action)
	require.Equal(t, 1, state.AttemptCount)
}

func TestRetryController_Unbounded(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1000, 0)}
	c := NewRetryController(RetryPolicy{MaxAttempts: UnboundedAttempts, DLQEnabled: true}, clock)
	state := c.Begin(AttemptKey{ShardID: "s"}, nil)

	for i := 1; i <= 500; i++ {
		d := c.Observe(state, failure())
		require.Equal(t, ActionRedeliver, d.Action)
		require.Equal(t, i, d.Retry)
	}
}

func TestRetryController_AgeLimitPreemptsBudget(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1000, 0)}
	for _, max := range []int{10, UnboundedAttempts} {
		c := NewRetryController(RetryPolicy{MaxAttempts: max, MaxRecordAgeSeconds: 60, DLQEnabled: true}, clock)
		clock.now = time.Unix(1000, 0)
		state := c.Begin(AttemptKey{ShardID: "s"}, nil)

		require.Equal(t, ActionRedeliver, c.Observe(state, failure()).Action)

		clock.now = clock.now.Add(60 * time.Second)
		require.Equal(t, ActionRedeliver, c.Observe(state, failure()).Action, "age equal to the limit is not exceeded")

		clock.now = clock.now.Add(time.Second)
		d := c.Observe(state, failure())
		require.Equal(t, ActionDeadLetter, d.Action)
		require.True(t, d.AgeExceeded)
		require.Equal(t, 3, state.AttemptCount)
	}
}

func TestRetryController_SuccessResolves(t *testing.T) {
	c := NewRetryController(DefaultRetryPolicy(), nil)
	state := c.Begin(AttemptKey{ShardID: "s"}, nil)
	c.Observe(state, failure())

	d := c.Observe(state, Success())
	require.Equal(t, ActionAdvance, d.Action)
	require.Equal(t, StateResolved, d.State)
}

func TestRetryController_BeginResumesMatchingState(t *testing.T) {
	clock := &fixedClock{now: time.Unix(2000, 0)}
	c := NewRetryController(DefaultRetryPolicy(), clock)
	key := AttemptKey{ShardID: "s", StartSequence: "5"}
	existing := &AttemptState{Key: key, AttemptCount: 2, FirstAttemptAt: time.Unix(1000, 0)}

	require.Same(t, existing, c.Begin(key, existing))

	fresh := c.Begin(AttemptKey{ShardID: "s", StartSequence: "6"}, existing)
	require.NotSame(t, existing, fresh)
	require.Equal(t, 0, fresh.AttemptCount)
	require.Equal(t, clock.now, fresh.FirstAttemptAt)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	require.Equal(t, time.Duration(0), p.Backoff(0))
	require.Equal(t, 100*time.Millisecond, p.Backoff(1))
	require.Equal(t, 200*time.Millisecond, p.Backoff(2))
	require.Equal(t, 800*time.Millisecond, p.Backoff(4))
	require.Equal(t, time.Second, p.Backoff(5))
	require.Equal(t, time.Second, p.Backoff(50))

	uncapped := RetryPolicy{BaseDelay: time.Millisecond}
	require.Equal(t, 1024*time.Millisecond, uncapped.Backoff(50))
	require.Equal(t, time.Duration(0), RetryPolicy{}.Backoff(3))
}

func TestRetryPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultRetryPolicy().Validate())
	require.NoError(t, RetryPolicy{MaxAttempts: UnboundedAttempts}.Validate())

	for _, p := range []RetryPolicy{
		{MaxAttempts: -2},
		{MaxRecordAgeSeconds: -1},
		{BaseDelay: -time.Second},
		{AttemptTimeout: -time.Second},
	} {
		err := p.Validate()
		require.Error(t, err)
		require.True(t, IsFatalConfiguration(err))
	}
}

func TestStateAndActionStrings(t *testing.T) {
	require.Equal(t, "RETRYING", StateRetrying.String())
	require.Equal(t, "State(9)", State(9).String())
	require.Equal(t, "dead_letter", ActionDeadLetter.String())
	require.Equal(t, "s@0", AttemptKey{ShardID: "s", StartSequence: "0"}.String())
}
