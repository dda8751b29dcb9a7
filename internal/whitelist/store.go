package whitelist

import "context"

// Snapshot is the full whitelist table keyed by entry ID.
type Snapshot map[string]Entry

// StateStore is the persistence boundary for the whitelist table: a passive
// load/save primitive, serialized by the Service and rewritten wholesale.
type StateStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}
