// Package store defines the document store port the sync engine reads and
// writes through, and an in-memory implementation.
//
// Documents are JSON objects addressed by collection and id. Find matches a
// top-level string field; a missing field matches the empty string. Update
// and Batch merge a Patch into the top level of the document.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidField = errors.New("invalid field name")
	ErrInvalidID    = errors.New("invalid document id")
)

type Document struct {
	ID   string
	Data json.RawMessage
}

// Patch maps top-level fields to their new values.
type Patch map[string]any

// Op is one document patch of a batch.
type Op struct {
	Collection string
	ID         string
	Patch      Patch
}

type Store interface {
	// Get reads one document. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Find reads all documents whose field equals value, ordered by id.
	Find(ctx context.Context, collection, field, value string) ([]Document, error)
	// All reads every document of a collection, ordered by id.
	All(ctx context.Context, collection string) ([]Document, error)
	// Put creates or replaces a document.
	Put(ctx context.Context, collection, id string, data []byte) error
	// Update merges patch into an existing document.
	Update(ctx context.Context, collection, id string, patch Patch) error
	// Batch applies all ops or none of them, where the backend supports it.
	Batch(ctx context.Context, ops []Op) error
	Delete(ctx context.Context, collection, id string) error
}

func Get[T any](ctx context.Context, s Store, collection, id string) (out T, err error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return
	}
	err = json.Unmarshal(doc.Data, &out)
	if err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return
}

func Find[T any](ctx context.Context, s Store, collection, field, value string) ([]T, error) {
	docs, err := s.Find(ctx, collection, field, value)
	if err != nil {
		return nil, err
	}
	return Decode[T](collection, docs)
}

func All[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	docs, err := s.All(ctx, collection)
	if err != nil {
		return nil, err
	}
	return Decode[T](collection, docs)
}

func Put[T any](ctx context.Context, s Store, collection, id string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, collection, id, data)
}

// Decode unmarshals every document into a T.
func Decode[T any](collection string, docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, doc.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateField rejects field names that are not plain identifiers.
// Backends embedding the name in a query rely on it.
func ValidateField(field string) error {
	if !fieldRe.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

// Merge applies patch to the top level of a JSON object.
func Merge(data []byte, patch Patch) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	for field, v := range patch {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", field, err)
		}
		doc[field] = raw
	}
	return json.Marshal(doc)
}

// Matches reports whether the top-level string field of a JSON object equals
// value. A missing or null field equals "".
func Matches(data []byte, field, value string) (bool, error) {
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return value == "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// not a string field
		return false, nil
	}
	return s == value, nil
}
