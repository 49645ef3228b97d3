package zap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/theory-cloud/redrive/pkg/observability"
)

// alertQueue hands error entries to the notifier from one background goroutine. Each entry
// is tried up to attempts times; a full queue drops the entry rather than block logging.
type alertQueue struct {
	notifier observability.ErrorNotifier
	filter   NotifyFilter
	attempts int
	delay    time.Duration
	onError  func(error)

	mu      sync.Mutex
	entries chan observability.LogEntry
	pending sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func newAlertQueue(notifier observability.ErrorNotifier, filter NotifyFilter, cfg observability.LoggerConfig, onError func(error)) *alertQueue {
	q := &alertQueue{
		notifier: notifier,
		filter:   filter,
		attempts: cfg.MaxRetries,
		delay:    cfg.RetryDelay,
		onError:  onError,
		entries:  make(chan observability.LogEntry, cfg.BufferSize),
	}
	go q.run(q.entries)
	return q
}

func (q *alertQueue) offer(entry observability.LogEntry) {
	if q.filter != nil && !q.filter(entry) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entries == nil {
		q.dropped.Add(1)
		return
	}
	q.pending.Add(1)
	select {
	case q.entries <- entry:
	default:
		q.pending.Done()
		q.dropped.Add(1)
	}
}

// run owns entries; stop clears q.entries under mu, so the loop must not read the field.
func (q *alertQueue) run(entries <-chan observability.LogEntry) {
	for entry := range entries {
		if err := q.deliver(entry); err != nil {
			q.failed.Add(1)
			if q.onError != nil {
				q.onError(err)
			}
		} else {
			q.sent.Add(1)
		}
		q.pending.Done()
	}
}

func (q *alertQueue) deliver(entry observability.LogEntry) error {
	for attempt := 1; ; attempt++ {
		err := q.notifier.Notify(context.Background(), entry)
		if err == nil || attempt >= q.attempts {
			return err
		}
		time.Sleep(q.delay)
	}
}

// wait blocks until every accepted entry was delivered or given up on, or ctx is done.
func (q *alertQueue) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// stop refuses new entries and drains the accepted ones.
func (q *alertQueue) stop() {
	q.mu.Lock()
	if q.entries != nil {
		close(q.entries)
		q.entries = nil
	}
	q.mu.Unlock()
	q.pending.Wait()
}
