package testkit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/theory-cloud/redrive"
)

// Env is a deterministic local test environment for redrive pipelines.
//
// Waits taken through Env.Sleep advance the manual clock instead of blocking, so retry
// backoff and age limits play out instantly.
type Env struct {
	Clock *ManualClock
	IDs   *ManualIDGenerator

	mu     sync.Mutex
	sleeps []time.Duration
}

func New() *Env {
	return NewWithTime(time.Unix(0, 0).UTC())
}

func NewWithTime(now time.Time) *Env {
	return &Env{
		Clock: NewManualClock(now),
		IDs:   NewManualIDGenerator(),
	}
}

// options puts the env seams first so callers can still override them.
func (e *Env) options(opts []redrive.Option) []redrive.Option {
	return append([]redrive.Option{
		redrive.WithClock(e.Clock),
		redrive.WithIDGenerator(e.IDs),
		redrive.WithSleep(e.Sleep),
	}, opts...)
}

// Pipeline builds a pull-loop pipeline wired to the env's clock, IDs, and sleep.
func (e *Env) Pipeline(source redrive.StreamSource, sink redrive.Sink, opts ...redrive.Option) (*redrive.Pipeline, error) {
	return redrive.New(source, sink, e.options(opts)...)
}

// StreamHandler builds a push-model handler wired to the env's clock, IDs, and sleep.
func (e *Env) StreamHandler(sink redrive.Sink, opts ...redrive.Option) (*redrive.StreamHandler, error) {
	return redrive.NewStreamHandler(sink, e.options(opts)...)
}

// Sleep records d and advances the clock by it. It fails only when ctx is already done.
func (e *Env) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.sleeps = append(e.sleeps, d)
	e.mu.Unlock()
	if d > 0 {
		e.Clock.Advance(d)
	}
	return nil
}

// Sleeps returns every wait requested so far.
func (e *Env) Sleeps() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.sleeps...)
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ redrive.Clock = (*ManualClock)(nil)

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// ManualIDGenerator hands out queued IDs first, then test-id-1, test-id-2, ...
type ManualIDGenerator struct {
	mu     sync.Mutex
	queued []string
	issued int
}

var _ redrive.IDGenerator = (*ManualIDGenerator)(nil)

func NewManualIDGenerator() *ManualIDGenerator {
	return &ManualIDGenerator{}
}

// Queue makes the next NewID calls return ids in order.
func (g *ManualIDGenerator) Queue(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued = append(g.queued, ids...)
}

func (g *ManualIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued, g.issued = nil, 0
}

func (g *ManualIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queued) > 0 {
		id := g.queued[0]
		g.queued = g.queued[1:]
		return id
	}
	g.issued++
	return "test-id-" + strconv.Itoa(g.issued)
}
