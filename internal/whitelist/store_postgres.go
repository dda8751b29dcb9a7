package whitelist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the whitelist in a Postgres table, rewritten
// wholesale per save inside a transaction so the table always reflects one
// consistent snapshot.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures a PostgresStore.
type StoreOption func(*PostgresStore)

// WithSchema overrides the default "pairgate" schema.
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) {
		if schema != "" {
			s.schema = schema
		}
	}
}

// NewPostgresStore constructs a store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	s := &PostgresStore{pool: pool, schema: "pairgate"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}

	query := fmt.Sprintf(
		`SELECT id, domain, added_at, added_by FROM %s`,
		pgIdent(s.schema, "whitelist"),
	)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Domain, &e.AddedAt, &e.AddedBy); err != nil {
			return nil, err
		}
		snap[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	table := pgIdent(s.schema, "whitelist")
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	insert := fmt.Sprintf(
		`INSERT INTO %s (id, domain, added_at, added_by) VALUES ($1, $2, $3, $4)`,
		table,
	)
	for _, e := range snap {
		batch.Queue(insert, e.ID, e.Domain, e.AddedAt, e.AddedBy)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
