package redrive

import (
	"fmt"
	"time"
)

// UnboundedAttempts disables the retry budget: a failing batch is redelivered until it
// succeeds or the record-age limit expires it.
const UnboundedAttempts = -1

const (
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
	maxBackoffShift  = 10
)

// RetryPolicy governs how a failed batch is redelivered and what happens once it is exhausted.
//
// MaxAttempts counts retries after the first delivery, so a batch receives at most
// MaxAttempts+1 deliveries. MaxRecordAgeSeconds of 0 disables the age limit, and
// AttemptTimeout of 0 leaves one delivery attempt unbounded.
type RetryPolicy struct {
	MaxAttempts         int           `json:"max_attempts" yaml:"max_attempts"`
	MaxRecordAgeSeconds int           `json:"max_record_age_seconds" yaml:"max_record_age_seconds"`
	DLQEnabled          bool          `json:"dlq_enabled" yaml:"dlq_enabled"`
	BaseDelay           time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay            time.Duration `json:"max_delay" yaml:"max_delay"`
	AttemptTimeout      time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`
}

// DefaultRetryPolicy matches the host's stream-trigger defaults: retry three times, then
// dead-letter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		DLQEnabled:  true,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < UnboundedAttempts {
		return NewFatalConfigurationError(fmt.Sprintf("max attempts must be >= -1, got %d", p.MaxAttempts), nil)
	}
	if p.MaxRecordAgeSeconds < 0 {
		return NewFatalConfigurationError(fmt.Sprintf("max record age must be >= 0, got %d", p.MaxRecordAgeSeconds), nil)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.AttemptTimeout < 0 {
		return NewFatalConfigurationError("delays and timeouts must be >= 0", nil)
	}
	return nil
}

func (p RetryPolicy) Unbounded() bool {
	return p.MaxAttempts == UnboundedAttempts
}

func (p RetryPolicy) MaxRecordAge() time.Duration {
	return time.Duration(p.MaxRecordAgeSeconds) * time.Second
}

// Backoff returns the wait before retry n (1-based): BaseDelay * 2^(n-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	return backoff(p.BaseDelay, p.MaxDelay, retry)
}

func backoff(base, limit time.Duration, retry int) time.Duration {
	if base <= 0 || retry <= 0 {
		return 0
	}
	shift := retry - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := base * time.Duration(1<<uint(shift))
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}
