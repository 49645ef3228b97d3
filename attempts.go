package redrive

import (
	"context"
	"sync"
)

// AttemptStore persists AttemptState between deliveries. Load returns (nil, nil) when no
// state exists for the key.
type AttemptStore interface {
	Load(ctx context.Context, key AttemptKey) (*AttemptState, error)
	Save(ctx context.Context, state *AttemptState) error
	Delete(ctx context.Context, key AttemptKey) error
}

// MemoryAttemptStore is an in-process AttemptStore.
type MemoryAttemptStore struct {
	mu     sync.Mutex
	states map[AttemptKey]AttemptState
}

var _ AttemptStore = (*MemoryAttemptStore)(nil)

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{states: map[AttemptKey]AttemptState{}}
}

func (s *MemoryAttemptStore) Load(_ context.Context, key AttemptKey) (*AttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	return cloneAttemptState(state), nil
}

func (s *MemoryAttemptStore) Save(_ context.Context, state *AttemptState) error {
	if state == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = map[AttemptKey]AttemptState{}
	}
	s.states[state.Key] = *cloneAttemptState(*state)
	return nil
}

func (s *MemoryAttemptStore) Delete(_ context.Context, key AttemptKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

func (s *MemoryAttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func cloneAttemptState(state AttemptState) *AttemptState {
	out := state
	if state.LastFailure != nil {
		reason := *state.LastFailure
		out.LastFailure = &reason
	}
	return &out
}
