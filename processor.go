package redrive

import (
	"context"
	"errors"
	"fmt"
)

// BatchOutcome is the all-or-nothing result of one delivery attempt.
//
// FailingIndex is the index of the first failing record, or -1 when the failure is not
// attributable to a record (empty batch, attempt deadline).
type BatchOutcome struct {
	Success      bool
	FailingIndex int
	Reason       string
	Err          error
}

func Success() BatchOutcome {
	return BatchOutcome{Success: true, FailingIndex: -1}
}

func Failure(index int, err *Error) BatchOutcome {
	out := BatchOutcome{FailingIndex: index, Err: err}
	if err != nil {
		out.Reason = err.Message
	}
	return out
}

func (o BatchOutcome) Failed() bool {
	return !o.Success
}

func (o BatchOutcome) Code() string {
	return ErrorCode(o.Err)
}

// RecordHandler processes one record after it validates. An error fails the whole batch.
// When the attempt deadline passes the batch fails at once; ctx is canceled and the
// handler should return promptly, since its result is ignored from then on.
type RecordHandler func(ctx context.Context, record Record) error

// BatchProcessor validates and handles a batch in order, stopping at the first failure.
// Records after the failing one are not looked at.
type BatchProcessor struct {
	validator Validator
	handler   RecordHandler
}

// NewBatchProcessor returns a processor; a nil validator means DefaultValidator and a nil
// handler means validation only.
func NewBatchProcessor(validator Validator, handler RecordHandler) *BatchProcessor {
	if validator == nil {
		validator = DefaultValidator()
	}
	return &BatchProcessor{validator: validator, handler: handler}
}

// Process never returns a Go error: every failure, validation included, is a Failure outcome.
func (p *BatchProcessor) Process(ctx context.Context, batch Batch) BatchOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil {
		p = NewBatchProcessor(nil, nil)
	}
	if len(batch.Records) == 0 {
		return Failure(-1, &Error{Code: ErrorCodeEmptyBatch, Message: errorMessageEmptyBatch})
	}

	for i, record := range batch.Records {
		if err := ctx.Err(); err != nil {
			return stoppedOutcome(i, err)
		}
		if res := validate(p.validator, record); !res.Valid {
			return Failure(i, NewValidationError(res.Reason))
		}
		if p.handler == nil {
			continue
		}
		if err := p.handle(ctx, record); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stoppedOutcome(i, ctxErr)
			}
			return Failure(i, &Error{Code: ErrorCodeHandler, Message: err.Error(), Err: err})
		}
	}

	if err := ctx.Err(); err != nil {
		return stoppedOutcome(-1, err)
	}
	return Success()
}

// handle returns when the handler does or when ctx is done, whichever comes first. A handler
// that ignores ctx keeps running in its goroutine after the attempt has been given up.
func (p *BatchProcessor) handle(ctx context.Context, record Record) error {
	if ctx.Done() == nil {
		return p.call(ctx, record)
	}
	done := make(chan error, 1)
	go func() {
		done <- p.call(ctx, record)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *BatchProcessor) call(ctx context.Context, record Record) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return p.handler(ctx, record)
}

func stoppedOutcome(index int, err error) BatchOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure(index, &Error{Code: ErrorCodeAttemptTimeout, Message: errorMessageAttemptTimeout, Err: err})
	}
	return Failure(index, &Error{Code: ErrorCodeAttemptCanceled, Message: errorMessageAttemptStopped, Err: err})
}
