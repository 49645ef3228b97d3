package testkit

import (
	"context"
	"sync"

	"github.com/theory-cloud/redrive"
)

// MemorySink is a scriptable dead-letter sink.
//
// Errors queued with FailNext are returned by successive Enqueue calls before enqueues start
// succeeding. Every call is recorded, failed or not.
type MemorySink struct {
	mu       sync.Mutex
	script   []error
	calls    []redrive.Envelope
	stored   []redrive.Envelope
	checkErr error
}

var (
	_ redrive.Sink        = (*MemorySink)(nil)
	_ redrive.SinkChecker = (*MemorySink)(nil)
)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) FailNext(errs ...error) *MemorySink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, errs...)
	return s
}

// FailCheck makes Check return err.
func (s *MemorySink) FailCheck(err error) *MemorySink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkErr = err
	return s
}

func (s *MemorySink) Enqueue(ctx context.Context, env redrive.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, env)
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return redrive.NewTransientDeliveryError(err)
	}
	s.stored = append(s.stored, env)
	return nil
}

func (s *MemorySink) Check(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkErr
}

// Calls returns every envelope passed to Enqueue.
func (s *MemorySink) Calls() []redrive.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]redrive.Envelope(nil), s.calls...)
}

// Envelopes returns the envelopes that were stored.
func (s *MemorySink) Envelopes() []redrive.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]redrive.Envelope(nil), s.stored...)
}
