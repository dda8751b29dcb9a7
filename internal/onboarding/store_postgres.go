package onboarding

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the session table in PostgreSQL.
//
// The wholesale rewrite model of the file store is preserved: Save replaces
// the entire table in one transaction. The tables here are small (one row per
// live session), so a delete + batch insert stays cheap and keeps the store a
// pure load/save primitive.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "pairgate").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "pairgate"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Load reads all session rows.
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessions := pgIdent(s.schema, "sessions")
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, status, remote_addr, user_agent, created_at, token
		   FROM `+sessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var sess Session
		var status string
		if err := rows.Scan(
			&sess.ID,
			&sess.Code,
			&status,
			&sess.Requester.RemoteAddr,
			&sess.Requester.UserAgent,
			&sess.CreatedAt,
			&sess.Token,
		); err != nil {
			return nil, err
		}
		sess.Status = Status(status)
		snap[sess.ID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save replaces the whole session table in one transaction.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sessions := pgIdent(s.schema, "sessions")
	if _, err := tx.Exec(ctx, `DELETE FROM `+sessions); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, sess := range snap {
		batch.Queue(
			`INSERT INTO `+sessions+` (
			     id, code, status, remote_addr, user_agent, created_at, token
			   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sess.ID,
			sess.Code,
			string(sess.Status),
			sess.Requester.RemoteAddr,
			sess.Requester.UserAgent,
			sess.CreatedAt,
			sess.Token,
		)
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
