package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jcikl/ledgersync/ports/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := t.Context()

	pgC, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "ledgersync",
			"POSTGRES_PASSWORD": "ledgersync",
			"POSTGRES_DB":       "ledgersync",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := pgC.PortEndpoint(ctx, "5432/tcp", "")
	require.NoError(t, err)

	pool, err := Connect(ctx, "postgres://ledgersync:ledgersync@"+endpoint+"/ledgersync?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.EnsureTable(ctx))
	require.NoError(t, s.EnsureTable(ctx), "idempotent")
	return s
}

type doc struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId,omitempty"`
	Count     int    `json:"count"`
}

func TestPostgres_Store(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Get(ctx, "people", "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, store.Put(ctx, s, "people", "b", doc{ID: "b", Name: "B", ProjectID: "X"}))
	require.NoError(t, store.Put(ctx, s, "people", "a", doc{ID: "a", Name: "A", ProjectID: "X", Count: 1}))
	require.NoError(t, store.Put(ctx, s, "people", "c", doc{ID: "c", Name: "C"}))
	require.NoError(t, store.Put(ctx, s, "other", "a", doc{ID: "a"}))

	all, err := store.All[doc](ctx, s, "people")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].ID)

	found, err := store.Find[doc](ctx, s, "people", "projectId", "X")
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = store.Find[doc](ctx, s, "people", "projectId", "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "c", found[0].ID)

	found, err = store.Find[doc](ctx, s, "people", "count", "1")
	require.NoError(t, err)
	require.Empty(t, found, "numbers never match a string value")

	require.NoError(t, s.Update(ctx, "people", "a", store.Patch{"name": "A2", "extra": true}))
	got, err := s.Get(ctx, "people", "a")
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(got.Data, &m))
	require.Equal(t, "A2", m["name"])
	require.Equal(t, "X", m["projectId"])
	require.Equal(t, true, m["extra"])

	require.ErrorIs(t, s.Update(ctx, "people", "nobody", store.Patch{"name": "x"}), store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "people", "c"))
	_, err = s.Get(ctx, "people", "c")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgres_BatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Put(ctx, s, "people", "a", doc{ID: "a", Name: "A"}))
	require.NoError(t, store.Put(ctx, s, "people", "b", doc{ID: "b", Name: "B"}))

	err := s.Batch(ctx, []store.Op{
		{Collection: "people", ID: "a", Patch: store.Patch{"name": "A2"}},
		{Collection: "people", ID: "missing", Patch: store.Patch{"name": "X"}},
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	a, err := store.Get[doc](ctx, s, "people", "a")
	require.NoError(t, err)
	require.Equal(t, "A", a.Name, "rolled back")

	require.NoError(t, s.Batch(ctx, []store.Op{
		{Collection: "people", ID: "a", Patch: store.Patch{"name": "A2"}},
		{Collection: "people", ID: "b", Patch: store.Patch{"name": "B2"}},
	}))
	b, err := store.Get[doc](ctx, s, "people", "b")
	require.NoError(t, err)
	require.Equal(t, "B2", b.Name)
}
