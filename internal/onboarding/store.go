package onboarding

import "context"

// Snapshot is the full session table keyed by session ID.
type Snapshot map[string]Session

// StateStore is the persistence boundary for the session table.
//
// It is a passive load/save primitive with no concurrency control of its own:
// the Service serializes every Save under its mutation lock, and the whole
// table is rewritten on each call. Load is invoked once at startup.
type StateStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}
