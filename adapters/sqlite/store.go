// Package sqlite implements the document store port on a local SQLite
// database, for single-node deployments and the demo.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jcikl/ledgersync/ports/store"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps all collections in one table with the document as JSON text.
// Updates read, merge and write inside a transaction; the pool holds a
// single connection so writers never contend.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return store.Document{ID: id, Data: []byte(data)}, nil
}

// Find matches string fields only; a missing or null field equals "".
func (s *Store) Find(ctx context.Context, collection, field, value string) ([]store.Document, error) {
	if err := store.ValidateField(field); err != nil {
		return nil, err
	}
	path := "$." + field
	return s.query(ctx, `
		SELECT id, data FROM documents
		WHERE collection = ?
		  AND COALESCE(json_type(data, ?), 'null') IN ('text', 'null')
		  AND COALESCE(json_extract(data, ?), '') = ?
		ORDER BY id`, collection, path, path, value)
}

func (s *Store) All(ctx context.Context, collection string) ([]store.Document, error) {
	return s.query(ctx, `SELECT id, data FROM documents WHERE collection = ? ORDER BY id`, collection)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, store.Document{ID: id, Data: []byte(data)})
	}
	return out, rows.Err()
}

func (s *Store) Put(ctx context.Context, collection, id string, data []byte) error {
	if id == "" {
		return store.ErrInvalidID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, json(?), unixepoch())
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, string(data))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patch store.Patch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return update(ctx, tx, collection, id, patch)
	})
}

// Batch applies all ops in one transaction.
func (s *Store) Batch(ctx context.Context, ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
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
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func update(ctx context.Context, tx *sql.Tx, collection, id string, patch store.Patch) error {
	var data string
	err := tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	merged, err := store.Merge([]byte(data), patch)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", collection, id, err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE documents SET data = ?, updated_at = unixepoch() WHERE collection = ? AND id = ?`,
		string(merged), collection, id)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
