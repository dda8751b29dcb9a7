package whitelist

import (
	"context"
	"sync"
)

// InMemoryStore keeps the whitelist in process memory. Useful for tests and
// for running without any persistence configured.
type InMemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snap: Snapshot{}}
}

func (s *InMemoryStore) Load(ctx context.Context) (Snapshot, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.snap), nil
}

func (s *InMemoryStore) Save(ctx context.Context, snap Snapshot) error {
	if s == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = cloneEntries(snap)
	return nil
}

func cloneEntries(in Snapshot) Snapshot {
	out := make(Snapshot, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
