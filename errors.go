package redrive

import (
	"errors"
	"fmt"
)

var (
	// ErrCursorConflict is returned when Advance does not match the outstanding batch.
	ErrCursorConflict = errors.New("redrive: cursor conflict")
	// ErrDeadLetterUnavailable is returned when the dead-letter sink rejected an envelope for good.
	ErrDeadLetterUnavailable = errors.New("redrive: dead-letter sink unavailable")
	// ErrWorkerPanic indicates a shard worker panic.
	ErrWorkerPanic = errors.New("redrive: shard worker panic")
	// ErrNoShards is returned by Run when there is nothing to consume.
	ErrNoShards = errors.New("redrive: no shards configured")
)

// Error is a classified pipeline error with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewValidationError reports a record that failed validation.
func NewValidationError(reason string) *Error {
	return &Error{Code: ErrorCodeValidation, Message: reason}
}

// NewTransientDeliveryError marks a sink failure as retryable.
func NewTransientDeliveryError(err error) *Error {
	return &Error{Code: ErrorCodeTransientDelivery, Message: "dead-letter sink temporarily unavailable", Err: err}
}

// NewFatalDeliveryError marks a sink failure as permanent.
func NewFatalDeliveryError(err error) *Error {
	return &Error{Code: ErrorCodeFatalDelivery, Message: "dead-letter sink rejected envelope", Err: err}
}

// NewFatalConfigurationError reports a configuration problem that must not be retried.
func NewFatalConfigurationError(message string, err error) *Error {
	return &Error{Code: ErrorCodeFatalConfiguration, Message: message, Err: err}
}

// ErrorCode returns the code of the first *Error in err's chain, or "".
func ErrorCode(err error) string {
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		return classified.Code
	}
	return ""
}

func IsValidation(err error) bool {
	return ErrorCode(err) == ErrorCodeValidation
}

func IsTransientDelivery(err error) bool {
	return ErrorCode(err) == ErrorCodeTransientDelivery
}

func IsFatalConfiguration(err error) bool {
	return ErrorCode(err) == ErrorCodeFatalConfiguration
}
