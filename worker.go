package redrive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Run consumes every shard with one worker each until ctx is done.
//
// A worker that hits an error, such as an escalated dead-letter failure, stops its shard
// without advancing and is reported in the joined error once all workers exit. A worker
// panic stops every shard.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.run(ctx, false)
}

// Drain consumes every shard until each has no readable batch, then returns.
func (p *Pipeline) Drain(ctx context.Context) error {
	return p.run(ctx, true)
}

func (p *Pipeline) run(ctx context.Context, untilIdle bool) error {
	if err := p.CheckSink(ctx); err != nil {
		return err
	}
	shards, err := p.resolveShards(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(shards))
	var wg sync.WaitGroup
	for _, shardID := range shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					errCh <- fmt.Errorf("%w: shard %s: %v", ErrWorkerPanic, shardID, rec)
					cancel()
				}
			}()

			err := p.runShard(ctx, shardID, untilIdle)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			p.hooks.log(LogRecord{
				Level:     "error",
				Event:     EventWorkerStopped,
				ShardID:   shardID,
				Reason:    err.Error(),
				ErrorCode: ErrorCode(err),
			})
			errCh <- fmt.Errorf("redrive: shard %s: %w", shardID, err)
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// resolveShards returns each shard once, so no shard ever gets two workers.
func (p *Pipeline) resolveShards(ctx context.Context) ([]string, error) {
	shards := p.shards
	if len(shards) == 0 {
		if p.lister == nil {
			return nil, ErrNoShards
		}
		listed, err := p.lister.ListShards(ctx)
		if err != nil {
			return nil, fmt.Errorf("redrive: list shards: %w", err)
		}
		shards = listed
	}
	shards = uniqueShards(shards)
	if len(shards) == 0 {
		return nil, ErrNoShards
	}
	return shards, nil
}

func uniqueShards(shards []string) []string {
	seen := make(map[string]bool, len(shards))
	out := make([]string, 0, len(shards))
	for _, s := range shards {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (p *Pipeline) runShard(ctx context.Context, shardID string, untilIdle bool) error {
	for {
		res, err := p.Step(ctx, shardID)
		if err != nil {
			return err
		}
		switch {
		case res.Idle && untilIdle:
			return nil
		case res.Idle:
			if err := p.sleep(ctx, p.pollInterval); err != nil {
				return err
			}
		case res.Decision.Action == ActionRedeliver:
			if err := p.sleep(ctx, res.Decision.Backoff); err != nil {
				return err
			}
		}
	}
}
