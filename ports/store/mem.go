package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Operation names passed to a FaultFunc.
const (
	OpGet    = "get"
	OpFind   = "find"
	OpAll    = "all"
	OpPut    = "put"
	OpUpdate = "update"
	OpBatch  = "batch"
	OpDelete = "delete"
)

// FaultFunc is consulted before every MemStore operation. A non-nil error
// fails the operation without touching the data.
type FaultFunc func(op, collection, id string) error

type MemStore struct {
	mu    sync.RWMutex
	data  map[string]map[string][]byte
	fault FaultFunc
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]map[string][]byte{}}
}

// SetFault installs f, or removes the current one if f is nil.
func (m *MemStore) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *MemStore) check(op, collection, id string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, collection, id)
}

func (m *MemStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(OpGet, collection, id); err != nil {
		return Document{}, err
	}

	data, ok := m.data[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: clone(data)}, nil
}

func (m *MemStore) Find(_ context.Context, collection, field, value string) ([]Document, error) {
	if err := ValidateField(field); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(OpFind, collection, ""); err != nil {
		return nil, err
	}

	var out []Document
	for _, id := range m.idsLocked(collection) {
		data := m.data[collection][id]
		ok, err := Matches(data, field, value)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		if ok {
			out = append(out, Document{ID: id, Data: clone(data)})
		}
	}
	return out, nil
}

func (m *MemStore) All(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(OpAll, collection, ""); err != nil {
		return nil, err
	}

	ids := m.idsLocked(collection)
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, Document{ID: id, Data: clone(m.data[collection][id])})
	}
	return out, nil
}

func (m *MemStore) Put(_ context.Context, collection, id string, data []byte) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpPut, collection, id); err != nil {
		return err
	}

	if m.data[collection] == nil {
		m.data[collection] = map[string][]byte{}
	}
	m.data[collection][id] = clone(data)
	return nil
}

func (m *MemStore) Update(_ context.Context, collection, id string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpUpdate, collection, id); err != nil {
		return err
	}

	merged, err := m.mergeLocked(collection, id, patch)
	if err != nil {
		return err
	}
	m.data[collection][id] = merged
	return nil
}

// Batch validates every op first and applies them only if all succeed.
func (m *MemStore) Batch(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpBatch, "", ""); err != nil {
		return err
	}

	type write struct {
		collection, id string
		data           []byte
	}
	staged := make(map[string]write, len(ops))
	for _, op := range ops {
		key := op.Collection + "/" + op.ID

		var (
			merged []byte
			err    error
		)
		if prev, ok := staged[key]; ok {
			merged, err = Merge(prev.data, op.Patch)
		} else {
			merged, err = m.mergeLocked(op.Collection, op.ID, op.Patch)
		}
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		staged[key] = write{collection: op.Collection, id: op.ID, data: merged}
	}

	for _, w := range staged {
		m.data[w.collection][w.id] = w.data
	}
	return nil
}

func (m *MemStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpDelete, collection, id); err != nil {
		return err
	}
	delete(m.data[collection], id)
	return nil
}

func (m *MemStore) mergeLocked(collection, id string, patch Patch) ([]byte, error) {
	data, ok := m.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	merged, err := Merge(data, patch)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return merged, nil
}

func (m *MemStore) idsLocked(collection string) []string {
	ids := make([]string, 0, len(m.data[collection]))
	for id := range m.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

var _ Store = (*MemStore)(nil)
