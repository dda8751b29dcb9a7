package whitelist

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Syncer pushes the full domain list to the downstream filtering service.
// Implementations are expected to be idempotent; the service calls Sync after
// every successful local mutation and treats failures as advisory.
type Syncer interface {
	Sync(ctx context.Context, domains []string) error
}

// Service owns the DNS whitelist table. All reads and writes go through a
// single mutex so a mutation, its persistence, and its downstream sync are
// decided against one consistent view.
type Service struct {
	log   *slog.Logger
	store StateStore
	sync  Syncer

	mu      sync.Mutex
	entries Snapshot
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a whitelist service. The syncer may be nil, in which
// case mutations are local-only.
func NewService(log *slog.Logger, store StateStore, syncer Syncer, opts ...Option) (*Service, error) {
	if log == nil || store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		log:     log,
		store:   store,
		sync:    syncer,
		entries: Snapshot{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load hydrates the in-memory table from the backing store. Call once at
// startup before serving traffic. An unreadable snapshot is logged and
// treated as empty so a corrupt file never blocks boot.
func (s *Service) Load(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		s.log.LogAttrs(
			ctx,
			slog.LevelError,
			"whitelist.load.fail",
			slog.String("err", err.Error()),
			slog.String("effect", "starting with empty whitelist"),
		)
		snap = Snapshot{}
	}
	if snap == nil {
		snap = Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap
	return nil
}

// List returns all entries ordered oldest first.
func (s *Service) List(ctx context.Context) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

// Add validates and inserts a domain, then pushes the updated list downstream.
// The returned syncErr reports a failed downstream push on an otherwise
// successful add; err reports validation or duplicate failures, in which case
// nothing was mutated.
func (s *Service) Add(ctx context.Context, domain, addedBy string) (Entry, error, error) {
	normalized := NormalizeDomain(domain)
	if !ValidDomain(normalized) {
		return Entry{}, nil, &OpError{Op: "whitelist.add", Kind: ErrInvalidDomain, Msg: "invalid domain"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Domain == normalized {
			return Entry{}, nil, &OpError{Op: "whitelist.add", Kind: ErrDuplicateDomain, Msg: "domain already whitelisted"}
		}
	}

	entry := Entry{
		ID:      uuid.NewString(),
		Domain:  normalized,
		AddedAt: s.now().UTC(),
		AddedBy: addedBy,
	}
	s.entries[entry.ID] = entry
	s.persistLocked(ctx, "whitelist.add")

	return entry, s.syncLocked(ctx), nil
}

// Remove deletes an entry by id and pushes the updated list downstream.
func (s *Service) Remove(ctx context.Context, id string) (error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return nil, &OpError{Op: "whitelist.remove", Kind: ErrNotFound, Msg: "entry not found"}
	}
	delete(s.entries, id)
	s.persistLocked(ctx, "whitelist.remove")

	return s.syncLocked(ctx), nil
}

// Clear empties the whitelist and pushes the empty list downstream so managed
// rules are withdrawn from the filtering service as well.
func (s *Service) Clear(ctx context.Context) (error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = Snapshot{}
	s.persistLocked(ctx, "whitelist.clear")

	return s.syncLocked(ctx), nil
}

// Resync pushes the current list downstream without mutating local state.
func (s *Service) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

// persistLocked saves the table, logging failures. The in-memory table stays
// authoritative even when the store write fails. Callers must hold s.mu.
func (s *Service) persistLocked(ctx context.Context, op string) {
	if err := s.store.Save(ctx, s.entries); err != nil {
		s.log.LogAttrs(
			ctx,
			slog.LevelError,
			"whitelist.persist.fail",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
}

// syncLocked pushes the current domain list to the filtering service, if one
// is configured. Callers must hold s.mu.
func (s *Service) syncLocked(ctx context.Context) error {
	if s.sync == nil {
		return nil
	}

	domains := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		domains = append(domains, e.Domain)
	}
	sort.Strings(domains)

	if err := s.sync.Sync(ctx, domains); err != nil {
		s.log.LogAttrs(
			ctx,
			slog.LevelWarn,
			"whitelist.sync.fail",
			slog.Int("domains", len(domains)),
			slog.String("err", err.Error()),
		)
		return err
	}
	return nil
}
