// Package postgres implements the document store port on PostgreSQL.
//
// All collections share one table keyed by (collection, id) with the
// document in a JSONB column. Updates merge the patch with the jsonb ||
// operator, batches run in a single transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcikl/ledgersync/ports/store"
)

// Store is a PostgreSQL-backed document store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// EnsureTable creates the documents table if it doesn't exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops)`)
	return err
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return store.Document{ID: id, Data: data}, nil
}

// Find matches string fields only; a missing or null field equals "".
func (s *Store) Find(ctx context.Context, collection, field, value string) ([]store.Document, error) {
	if err := store.ValidateField(field); err != nil {
		return nil, err
	}
	return s.query(ctx, `
		SELECT id, data FROM documents
		WHERE collection = $1
		  AND jsonb_typeof(COALESCE(data->($2::text), 'null'::jsonb)) IN ('string', 'null')
		  AND COALESCE(data->>($2::text), '') = $3::text
		ORDER BY id`, collection, field, value)
}

func (s *Store) All(ctx context.Context, collection string) ([]store.Document, error) {
	return s.query(ctx, `SELECT id, data FROM documents WHERE collection = $1 ORDER BY id`, collection)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]store.Document, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, store.Document{ID: id, Data: data})
	}
	return out, rows.Err()
}

func (s *Store) Put(ctx context.Context, collection, id string, data []byte) error {
	if id == "" {
		return store.ErrInvalidID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, id, string(data))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) Update(ctx context.Context, collection, id string, patch store.Patch) error {
	return update(ctx, s.pool, collection, id, patch)
}

// Batch applies all ops in one transaction.
func (s *Store) Batch(ctx context.Context, ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, op := range ops {
			if err := update(ctx, tx, op.Collection, op.ID, op.Patch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func update(ctx context.Context, db execer, collection, id string, patch store.Patch) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	tag, err := db.Exec(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2`,
		collection, id, string(patchJSON))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
