package onboarding

import (
	"context"
	"sync"
)

// InMemoryStore is a dev/test fallback with no durable backing.
// It keeps the last saved snapshot so tests can assert persistence calls.
type InMemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemoryStore constructs an empty in-memory StateStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snap: Snapshot{}}
}

// Load returns a copy of the last saved snapshot.
func (s *InMemoryStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap), nil
}

// Save replaces the stored snapshot.
func (s *InMemoryStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = cloneSnapshot(snap)
	return nil
}

func cloneSnapshot(in Snapshot) Snapshot {
	out := make(Snapshot, len(in))
	for id, sess := range in {
		out[id] = sess
	}
	return out
}
