// Package tablestore keeps redrive checkpoints, attempt state, and ingested records in
// DynamoDB through TableTheory.
package tablestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	tablecore "github.com/theory-cloud/tabletheory/pkg/core"
	tableerrors "github.com/theory-cloud/tabletheory/pkg/errors"

	"github.com/theory-cloud/redrive"
)

// CheckpointStore persists shard cursors. Writes are unconditional upserts; the cursor
// manager already serializes writes per shard.
type CheckpointStore struct {
	db    tablecore.DB
	clock redrive.Clock
}

var _ redrive.CheckpointStore = (*CheckpointStore)(nil)

func NewCheckpointStore(db tablecore.DB, clock redrive.Clock) *CheckpointStore {
	if clock == nil {
		clock = redrive.RealClock{}
	}
	return &CheckpointStore{db: db, clock: clock}
}

func (s *CheckpointStore) GetCheckpoint(ctx context.Context, shardID string) (string, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	shardID = strings.TrimSpace(shardID)

	var item StateItem
	err := s.db.Model(&StateItem{}).
		WithContext(ctx).
		Where("PK", "=", shardPK(shardID)).
		Where("SK", "=", checkpointSortKey).
		First(&item)
	if err != nil {
		if tableerrors.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("tablestore: get checkpoint %s: %w", shardID, err)
	}
	return item.Sequence, true, nil
}

func (s *CheckpointStore) SetCheckpoint(ctx context.Context, shardID, sequence string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	shardID = strings.TrimSpace(shardID)

	err := s.db.Model(&StateItem{}).
		WithContext(ctx).
		Where("PK", "=", shardPK(shardID)).
		Where("SK", "=", checkpointSortKey).
		UpdateBuilder().
		Set("ShardID", shardID).
		Set("Sequence", sequence).
		Set("UpdatedAt", s.clock.Now()).
		Execute()
	if err != nil {
		return fmt.Errorf("tablestore: set checkpoint %s: %w", shardID, err)
	}
	return nil
}

// AttemptStore persists retry state so a host that redelivers across invocations keeps
// counting failures.
type AttemptStore struct {
	db    tablecore.DB
	clock redrive.Clock
	ttl   time.Duration
}

var _ redrive.AttemptStore = (*AttemptStore)(nil)

type AttemptStoreOption func(*AttemptStore)

// WithAttemptTTL expires attempt items that outlive their batch, for example after a
// shard is closed mid-retry.
func WithAttemptTTL(ttl time.Duration) AttemptStoreOption {
	return func(s *AttemptStore) {
		s.ttl = ttl
	}
}

func NewAttemptStore(db tablecore.DB, clock redrive.Clock, opts ...AttemptStoreOption) *AttemptStore {
	if clock == nil {
		clock = redrive.RealClock{}
	}
	s := &AttemptStore{db: db, clock: clock}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *AttemptStore) Load(ctx context.Context, key redrive.AttemptKey) (*redrive.AttemptState, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var item StateItem
	err := s.db.Model(&StateItem{}).
		WithContext(ctx).
		Where("PK", "=", shardPK(key.ShardID)).
		Where("SK", "=", attemptSK(key.StartSequence)).
		First(&item)
	if err != nil {
		if tableerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tablestore: load attempt %s: %w", key, err)
	}

	state := &redrive.AttemptState{
		Key:            key,
		AttemptCount:   item.AttemptCount,
		FirstAttemptAt: item.FirstAttemptAt,
		EnvelopeID:     item.EnvelopeID,
		Resolution:     item.Resolution,
	}
	if item.HasFailure {
		state.LastFailure = &redrive.FailureReason{
			Code:         item.FailureCode,
			Message:      item.FailureMessage,
			FailingIndex: item.FailingIndex,
		}
	}
	return state, nil
}

func (s *AttemptStore) Save(ctx context.Context, state *redrive.AttemptState) error {
	if state == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var failure redrive.FailureReason
	if state.LastFailure != nil {
		failure = *state.LastFailure
	}

	now := s.clock.Now()
	ub := s.db.Model(&StateItem{}).
		WithContext(ctx).
		Where("PK", "=", shardPK(state.Key.ShardID)).
		Where("SK", "=", attemptSK(state.Key.StartSequence)).
		UpdateBuilder().
		Set("ShardID", state.Key.ShardID).
		Set("Sequence", state.Key.StartSequence).
		Set("AttemptCount", state.AttemptCount).
		Set("FirstAttemptAt", state.FirstAttemptAt).
		Set("HasFailure", state.LastFailure != nil).
		Set("FailureCode", failure.Code).
		Set("FailureMessage", failure.Message).
		Set("FailingIndex", failure.FailingIndex).
		Set("EnvelopeID", state.EnvelopeID).
		Set("Resolution", state.Resolution).
		Set("UpdatedAt", now)
	if s.ttl > 0 {
		ub = ub.Set("TTL", now.Add(s.ttl).Unix())
	}

	if err := ub.Execute(); err != nil {
		return fmt.Errorf("tablestore: save attempt %s: %w", state.Key, err)
	}
	return nil
}

func (s *AttemptStore) Delete(ctx context.Context, key redrive.AttemptKey) error {
	if ctx == nil {
		ctx = context.Background()
	}

	err := s.db.Model(&StateItem{}).
		WithContext(ctx).
		Where("PK", "=", shardPK(key.ShardID)).
		Where("SK", "=", attemptSK(key.StartSequence)).
		Delete()
	if err != nil && !tableerrors.IsNotFound(err) {
		return fmt.Errorf("tablestore: delete attempt %s: %w", key, err)
	}
	return nil
}
