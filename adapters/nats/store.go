package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/jcikl/ledgersync/ports/store"
)

const (
	defaultBucket        = "ledgersync"
	defaultUpdateRetries = 5
)

// DocumentStoreConfig configures a DocumentStore.
type DocumentStoreConfig struct {
	Connect Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log     *slog.Logger // Log for diagnostics (optional)
	Bucket  string       // Bucket is the KV bucket holding all collections (default: "ledgersync").
	// Replicas of the bucket (default: 1).
	Replicas int
	// UpdateRetries bounds the compare-and-set attempts of one Update.
	UpdateRetries int
}

// DocumentStore implements store.Store on a JetStream key-value bucket.
// Documents live under the key "<collection>.<id>".
//
// Update is a compare-and-set on the entry revision and retried on conflict.
// Batch is NOT atomic: JetStream KV has no multi-key transactions, so ops are
// applied one after another and a failure leaves the earlier ones applied.
type DocumentStore struct {
	kv      jetstream.KeyValue
	closeNc func()
	log     *slog.Logger
	retries int
}

// NewDocumentStore connects and creates the bucket if it does not exist.
func NewDocumentStore(ctx context.Context, cfg DocumentStoreConfig) (*DocumentStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	retries := cfg.UpdateRetries
	if retries <= 0 {
		retries = defaultUpdateRetries
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "ledgersync documents",
		Storage:     jetstream.FileStorage,
		Replicas:    replicas,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("nats: create bucket %s: %w", bucket, err)
	}

	return &DocumentStore{
		kv:      kv,
		closeNc: closeNc,
		log:     log.With(slog.String("store", "nats"), slog.String("bucket", bucket)),
		retries: retries,
	}, nil
}

// Close releases the NATS connection.
func (s *DocumentStore) Close() { s.closeNc() }

var tokenRe = regexp.MustCompile(`^[-/_=a-zA-Z0-9]+$`)

func key(collection, id string) (string, error) {
	if !tokenRe.MatchString(collection) {
		return "", fmt.Errorf("%w: collection %q", store.ErrInvalidID, collection)
	}
	if !tokenRe.MatchString(id) {
		return "", fmt.Errorf("%w: %q", store.ErrInvalidID, id)
	}
	return collection + "." + id, nil
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (store.Document, error) {
	k, err := key(collection, id)
	if err != nil {
		return store.Document{}, err
	}
	entry, err := s.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		return store.Document{}, fmt.Errorf("nats: get %s: %w", k, err)
	}
	return store.Document{ID: id, Data: entry.Value()}, nil
}

// Find scans the collection; KV buckets have no secondary indexes.
func (s *DocumentStore) Find(ctx context.Context, collection, field, value string) ([]store.Document, error) {
	if err := store.ValidateField(field); err != nil {
		return nil, err
	}
	docs, err := s.All(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, doc := range docs {
		ok, err := store.Matches(doc.Data, field, value)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, doc.ID, err)
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *DocumentStore) All(ctx context.Context, collection string) ([]store.Document, error) {
	if !tokenRe.MatchString(collection) {
		return nil, fmt.Errorf("%w: collection %q", store.ErrInvalidID, collection)
	}

	w, err := s.kv.Watch(ctx, collection+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("nats: watch %s: %w", collection, err)
	}
	defer func() { _ = w.Stop() }()

	prefix := collection + "."
	var out []store.Document
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok {
				return nil, fmt.Errorf("nats: watch %s: closed", collection)
			}
			// nil marks the end of the initial values
			if entry == nil {
				sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
				return out, nil
			}
			out = append(out, store.Document{
				ID:   strings.TrimPrefix(entry.Key(), prefix),
				Data: entry.Value(),
			})
		}
	}
}

func (s *DocumentStore) Put(ctx context.Context, collection, id string, data []byte) error {
	k, err := key(collection, id)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, k, data); err != nil {
		return fmt.Errorf("nats: put %s: %w", k, err)
	}
	return nil
}

func (s *DocumentStore) Update(ctx context.Context, collection, id string, patch store.Patch) error {
	k, err := key(collection, id)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		entry, err := s.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
			}
			return fmt.Errorf("nats: get %s: %w", k, err)
		}

		merged, err := store.Merge(entry.Value(), patch)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", collection, id, err)
		}

		_, err = s.kv.Update(ctx, k, merged, entry.Revision())
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) || attempt >= s.retries {
			return fmt.Errorf("nats: update %s: %w", k, err)
		}
		s.log.Debug("update conflict, retrying", slog.String("key", k), slog.Int("attempt", attempt))
	}
}

func (s *DocumentStore) Batch(ctx context.Context, ops []store.Op) error {
	for _, op := range ops {
		if err := s.Update(ctx, op.Collection, op.ID, op.Patch); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	k, err := key(collection, id)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("nats: delete %s: %w", k, err)
	}
	return nil
}

var _ store.Store = (*DocumentStore)(nil)
