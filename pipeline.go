package redrive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Pipeline consumes shards of a StreamSource: each batch is processed all-or-nothing, retried
// under the RetryPolicy, and dead-lettered or dropped once exhausted. A shard's cursor
// advances only after its outstanding batch resolves.
type Pipeline struct {
	*delivery

	cursors      *CursorManager
	shards       []string
	lister       ShardLister
	pollInterval time.Duration
}

// delivery is the attempt engine shared by the pull loop and the push adapters.
type delivery struct {
	policy     RetryPolicy
	processor  *BatchProcessor
	controller *RetryController
	router     *DeadLetterRouter
	attempts   AttemptStore
	sink       Sink
	hooks      ObservabilityHooks
	clock      Clock
	sleep      func(context.Context, time.Duration) error
}

type config struct {
	policy       RetryPolicy
	batchSize    int
	pollInterval time.Duration
	clock        Clock
	ids          IDGenerator
	hooks        ObservabilityHooks
	validator    Validator
	handler      RecordHandler
	checkpoints  CheckpointStore
	attempts     AttemptStore
	shards       []string
	lister       ShardLister
	routerOpts   []RouterOption
	sleep        func(context.Context, time.Duration) error
}

type Option func(*config)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *config) {
		c.policy = policy
	}
}

func WithBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithPollInterval sets the wait after an empty read.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.pollInterval = d
		}
	}
}

func WithClock(clock Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithIDGenerator(ids IDGenerator) Option {
	return func(c *config) {
		if ids != nil {
			c.ids = ids
		}
	}
}

func WithObservability(hooks ObservabilityHooks) Option {
	return func(c *config) {
		c.hooks = hooks
	}
}

func WithValidator(v Validator) Option {
	return func(c *config) {
		if v != nil {
			c.validator = v
		}
	}
}

// WithRecordHandler runs handler on every record after it validates.
func WithRecordHandler(handler RecordHandler) Option {
	return func(c *config) {
		c.handler = handler
	}
}

func WithCheckpointStore(store CheckpointStore) Option {
	return func(c *config) {
		if store != nil {
			c.checkpoints = store
		}
	}
}

func WithAttemptStore(store AttemptStore) Option {
	return func(c *config) {
		if store != nil {
			c.attempts = store
		}
	}
}

// WithShards fixes the shards Run consumes. Without it Run asks the ShardLister.
func WithShards(shards ...string) Option {
	return func(c *config) {
		for _, s := range shards {
			if s = strings.TrimSpace(s); s != "" {
				c.shards = append(c.shards, s)
			}
		}
	}
}

func WithShardLister(lister ShardLister) Option {
	return func(c *config) {
		c.lister = lister
	}
}

func WithRouterOptions(opts ...RouterOption) Option {
	return func(c *config) {
		c.routerOpts = append(c.routerOpts, opts...)
	}
}

// WithSleep replaces the context-aware wait used for backoff and polling.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *config) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func buildConfig(opts []Option) config {
	cfg := config{
		policy:       DefaultRetryPolicy(),
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		clock:        RealClock{},
		ids:          ULIDGenerator{},
		validator:    DefaultValidator(),
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.checkpoints == nil {
		cfg.checkpoints = NewMemoryCheckpointStore()
	}
	if cfg.attempts == nil {
		cfg.attempts = NewMemoryAttemptStore()
	}
	return cfg
}

func newDelivery(sink Sink, cfg config) (*delivery, error) {
	if err := cfg.policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.policy.DLQEnabled && sink == nil {
		return nil, NewFatalConfigurationError("dead-letter routing is enabled but no sink is configured", nil)
	}

	routerOpts := append([]RouterOption{
		WithRouterClock(cfg.clock),
		WithRouterIDGenerator(cfg.ids),
		WithRouterHooks(cfg.hooks),
		WithRouterSleep(cfg.sleep),
	}, cfg.routerOpts...)

	return &delivery{
		policy:     cfg.policy,
		processor:  NewBatchProcessor(cfg.validator, cfg.handler),
		controller: NewRetryController(cfg.policy, cfg.clock),
		router:     NewDeadLetterRouter(sink, routerOpts...),
		attempts:   cfg.attempts,
		sink:       sink,
		hooks:      cfg.hooks,
		clock:      cfg.clock,
		sleep:      cfg.sleep,
	}, nil
}

// New builds a Pipeline reading from source. sink may be nil only when the policy disables
// dead-letter routing.
func New(source StreamSource, sink Sink, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, NewFatalConfigurationError("stream source is required", nil)
	}
	cfg := buildConfig(opts)
	d, err := newDelivery(sink, cfg)
	if err != nil {
		return nil, err
	}
	lister := cfg.lister
	if lister == nil {
		if l, ok := source.(ShardLister); ok {
			lister = l
		}
	}
	return &Pipeline{
		delivery:     d,
		cursors:      NewCursorManager(source, cfg.checkpoints, cfg.batchSize),
		shards:       cfg.shards,
		lister:       lister,
		pollInterval: cfg.pollInterval,
	}, nil
}

func (p *Pipeline) Cursors() *CursorManager {
	return p.cursors
}

// CheckSink verifies the dead-letter sink is reachable when routing is enabled.
func (d *delivery) CheckSink(ctx context.Context) error {
	if !d.policy.DLQEnabled {
		return nil
	}
	checker, ok := d.sink.(SinkChecker)
	if !ok {
		return nil
	}
	if err := checker.Check(ctx); err != nil {
		return NewFatalConfigurationError("dead-letter sink is unreachable", err)
	}
	return nil
}

// StepResult describes one delivery attempt of a shard's outstanding batch.
type StepResult struct {
	ShardID       string
	StartSequence string
	// Attempt is the 1-based delivery number of this attempt.
	Attempt  int
	Idle     bool
	Outcome  BatchOutcome
	Decision Decision
	Envelope *Envelope
	// Resumed is set when an earlier step already dead-lettered or dropped the batch and
	// this step only retried the cursor advance. Nothing was delivered or routed.
	Resumed bool
}

// Resolved reports whether the batch left the pipeline: delivered, dead-lettered, or dropped.
func (r StepResult) Resolved() bool {
	return !r.Idle && r.Decision.Action != ActionRedeliver
}

// Step performs one delivery attempt for the shard. It does not sleep: for a redelivery the
// caller waits Decision.Backoff before the next Step.
//
// Shutdown is checked before the attempt; once started, an attempt runs to completion
// bounded only by the policy's AttemptTimeout, and so do the writes that resolve it.
func (p *Pipeline) Step(ctx context.Context, shardID string) (StepResult, error) {
	shardID = strings.TrimSpace(shardID)
	if err := ctx.Err(); err != nil {
		return StepResult{ShardID: shardID}, err
	}

	batch, ok, err := p.cursors.NextBatch(ctx, shardID)
	if err != nil {
		return StepResult{ShardID: shardID}, err
	}
	if !ok {
		return StepResult{ShardID: shardID, Idle: true}, nil
	}

	res, err := p.attempt(ctx, batch)
	if err != nil || !res.Resolved() {
		return res, err
	}

	detached := context.WithoutCancel(ctx)
	if err := p.cursors.Advance(detached, shardID, batch.NextSequence); err != nil {
		return res, err
	}
	if err := p.attempts.Delete(detached, batch.Key()); err != nil {
		return res, fmt.Errorf("redrive: clear attempt state %s: %w", batch.Key(), err)
	}
	return res, nil
}

// attempt delivers batch once and persists the attempt state unless the batch resolved.
// A batch whose state records a completed dead-letter or drop is not delivered again.
func (d *delivery) attempt(ctx context.Context, batch Batch) (StepResult, error) {
	res := StepResult{ShardID: batch.ShardID, StartSequence: batch.StartSequence}

	existing, err := d.attempts.Load(ctx, batch.Key())
	if err != nil {
		return res, fmt.Errorf("redrive: load attempt state %s: %w", batch.Key(), err)
	}
	state := d.controller.Begin(batch.Key(), existing)
	if action, ok := state.settled(); ok {
		return resumed(res, state, action), nil
	}
	res.Attempt = state.AttemptCount + 1

	// The attempt is detached from shutdown so a started batch is never abandoned midway.
	detached := context.WithoutCancel(ctx)
	attemptCtx, cancel := detached, func() {}
	if d.policy.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(detached, d.policy.AttemptTimeout)
	}
	res.Outcome = d.processor.Process(attemptCtx, batch)
	cancel()

	res.Decision = d.controller.Observe(state, res.Outcome)

	switch res.Decision.Action {
	case ActionAdvance:
		d.report(EventBatchResolved, MetricBatchResolved, "debug", batch, state, res.Outcome)
		return res, nil

	case ActionRedeliver:
		d.report(EventBatchRetry, MetricBatchRetry, "warn", batch, state, res.Outcome)
		if err := d.attempts.Save(detached, state); err != nil {
			return res, fmt.Errorf("redrive: save attempt state %s: %w", batch.Key(), err)
		}
		return res, nil

	case ActionDeadLetter:
		env, err := d.router.Route(detached, batch, state)
		res.Envelope = &env
		if err != nil {
			if saveErr := d.attempts.Save(detached, state); saveErr != nil {
				return res, fmt.Errorf("%w (save attempt state: %v)", err, saveErr)
			}
			return res, err
		}
		d.report(EventBatchDeadLettered, MetricBatchDeadLettered, "warn", batch, state, res.Outcome)
		d.settle(detached, batch, state, ActionDeadLetter)
		return res, nil

	default:
		d.report(EventBatchDropped, MetricBatchDropped, "error", batch, state, res.Outcome)
		d.settle(detached, batch, state, ActionDrop)
		return res, nil
	}
}

// settle records that the exhausted batch left the pipeline. A failed save is logged, not
// returned: the cursor advance still runs, and only if that fails too can the batch be
// delivered again.
func (d *delivery) settle(ctx context.Context, batch Batch, state *AttemptState, action Action) {
	state.Resolution = action.String()
	if err := d.attempts.Save(ctx, state); err != nil {
		d.hooks.log(LogRecord{
			Level:         "warn",
			Event:         EventResolutionUnsaved,
			ShardID:       batch.ShardID,
			StartSequence: batch.StartSequence,
			Attempt:       state.AttemptCount,
			Reason:        err.Error(),
			FailingIndex:  -1,
		})
	}
}

func resumed(res StepResult, state *AttemptState, action Action) StepResult {
	res.Attempt = state.AttemptCount
	res.Resumed = true
	res.Decision = Decision{Action: action, State: StateExhausted}
	res.Outcome = BatchOutcome{FailingIndex: -1}
	if f := state.LastFailure; f != nil {
		res.Outcome.FailingIndex = f.FailingIndex
		res.Outcome.Reason = f.Message
	}
	return res
}

func (d *delivery) report(event, metric, level string, batch Batch, state *AttemptState, outcome BatchOutcome) {
	d.hooks.log(LogRecord{
		Level:         level,
		Event:         event,
		ShardID:       batch.ShardID,
		StartSequence: batch.StartSequence,
		Attempt:       state.AttemptCount,
		Reason:        outcome.Reason,
		ErrorCode:     outcome.Code(),
		FailingIndex:  outcome.FailingIndex,
	})
	d.hooks.metric(metric, batch.ShardID, state.AttemptCount, outcome.Code())
}
