package redrive

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StreamSource reads ordered batches from a shard.
//
// ReadBatch returns at most max records starting at from ("" means the shard's oldest
// retained record). ok is false when nothing is available yet. The returned batch's
// NextSequence is the position after its last record.
type StreamSource interface {
	ReadBatch(ctx context.Context, shardID, from string, max int) (batch Batch, ok bool, err error)
}

// ShardLister discovers the shards a source exposes.
type ShardLister interface {
	ListShards(ctx context.Context) ([]string, error)
}

// CheckpointStore persists cursors. GetCheckpoint returns ok=false for an unknown shard.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, shardID string) (sequence string, ok bool, err error)
	SetCheckpoint(ctx context.Context, shardID, sequence string) error
}

// MemoryCheckpointStore is an in-process CheckpointStore.
type MemoryCheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[string]string
	writes      int
}

var _ CheckpointStore = (*MemoryCheckpointStore)(nil)

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: map[string]string{}}
}

func (s *MemoryCheckpointStore) GetCheckpoint(_ context.Context, shardID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.checkpoints[shardID]
	return seq, ok, nil
}

func (s *MemoryCheckpointStore) SetCheckpoint(_ context.Context, shardID, sequence string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoints == nil {
		s.checkpoints = map[string]string{}
	}
	s.checkpoints[shardID] = sequence
	s.writes++
	return nil
}

// Writes counts SetCheckpoint calls.
func (s *MemoryCheckpointStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type shardCursor struct {
	mu          sync.Mutex
	loaded      bool
	position    string
	outstanding *Batch
}

// CursorManager tracks one cursor per shard and hands out at most one outstanding batch per
// shard. The cursor moves only through Advance.
type CursorManager struct {
	source      StreamSource
	checkpoints CheckpointStore
	batchSize   int

	mu     sync.Mutex
	shards map[string]*shardCursor
}

func NewCursorManager(source StreamSource, checkpoints CheckpointStore, batchSize int) *CursorManager {
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpointStore()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &CursorManager{
		source:      source,
		checkpoints: checkpoints,
		batchSize:   batchSize,
		shards:      map[string]*shardCursor{},
	}
}

func (m *CursorManager) shard(shardID string) *shardCursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.shards[shardID]
	if !ok {
		sc = &shardCursor{}
		m.shards[shardID] = sc
	}
	return sc
}

func (m *CursorManager) load(ctx context.Context, shardID string, sc *shardCursor) error {
	if sc.loaded {
		return nil
	}
	seq, ok, err := m.checkpoints.GetCheckpoint(ctx, shardID)
	if err != nil {
		return fmt.Errorf("redrive: load checkpoint for shard %s: %w", shardID, err)
	}
	if ok {
		sc.position = seq
	}
	sc.loaded = true
	return nil
}

// NextBatch returns the outstanding batch for the shard, reading a new one from the source
// when none is outstanding. ok is false when the source has nothing at the cursor.
func (m *CursorManager) NextBatch(ctx context.Context, shardID string) (Batch, bool, error) {
	shardID = strings.TrimSpace(shardID)
	sc := m.shard(shardID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.outstanding != nil {
		return *sc.outstanding, true, nil
	}
	if err := m.load(ctx, shardID, sc); err != nil {
		return Batch{}, false, err
	}

	batch, ok, err := m.source.ReadBatch(ctx, shardID, sc.position, m.batchSize)
	if err != nil {
		return Batch{}, false, fmt.Errorf("redrive: read shard %s at %q: %w", shardID, sc.position, err)
	}
	if !ok || len(batch.Records) == 0 {
		return Batch{}, false, nil
	}
	batch.ShardID = shardID
	if batch.StartSequence == "" {
		batch.StartSequence = sc.position
	}
	sc.outstanding = &batch
	return batch, true, nil
}

// Advance moves the shard's cursor to newSequence, which must be the NextSequence of the
// outstanding batch. Anything else, including a second advance, returns ErrCursorConflict.
func (m *CursorManager) Advance(ctx context.Context, shardID, newSequence string) error {
	shardID = strings.TrimSpace(shardID)
	sc := m.shard(shardID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.outstanding == nil {
		return fmt.Errorf("%w: shard %s has no outstanding batch", ErrCursorConflict, shardID)
	}
	if sc.outstanding.NextSequence != newSequence {
		return fmt.Errorf("%w: shard %s outstanding batch ends at %q, not %q",
			ErrCursorConflict, shardID, sc.outstanding.NextSequence, newSequence)
	}
	if err := m.checkpoints.SetCheckpoint(ctx, shardID, newSequence); err != nil {
		return fmt.Errorf("redrive: persist checkpoint for shard %s: %w", shardID, err)
	}
	sc.position = newSequence
	sc.outstanding = nil
	return nil
}

// Position reports the shard's cursor and whether a batch is outstanding.
func (m *CursorManager) Position(ctx context.Context, shardID string) (string, bool, error) {
	shardID = strings.TrimSpace(shardID)
	sc := m.shard(shardID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := m.load(ctx, shardID, sc); err != nil {
		return "", false, err
	}
	return sc.position, sc.outstanding != nil, nil
}
