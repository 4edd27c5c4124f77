package nats

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcikl/ledgersync/ports/store"
)

type doc struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId,omitempty"`
	Count     int    `json:"count"`
}

func TestNats_DocumentStore(t *testing.T) {
	connectNatsC := RunTestServer(t)

	s, err := NewDocumentStore(t.Context(), DocumentStoreConfig{
		Connect: connectNatsC,
		Bucket:  "docs",
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	ctx := t.Context()

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "people", "nobody")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.Update(ctx, "people", "nobody", store.Patch{"name": "x"}), store.ErrNotFound)
	})

	t.Run("put get all find", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, s, "people", "b", doc{ID: "b", Name: "B", ProjectID: "X"}))
		require.NoError(t, store.Put(ctx, s, "people", "a", doc{ID: "a", Name: "A", ProjectID: "X"}))
		require.NoError(t, store.Put(ctx, s, "people", "c", doc{ID: "c", Name: "C"}))
		require.NoError(t, store.Put(ctx, s, "other", "a", doc{ID: "a", Name: "not a person"}))

		a, err := store.Get[doc](ctx, s, "people", "a")
		require.NoError(t, err)
		require.Equal(t, "A", a.Name)

		all, err := store.All[doc](ctx, s, "people")
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

		found, err := store.Find[doc](ctx, s, "people", "projectId", "X")
		require.NoError(t, err)
		require.Len(t, found, 2)

		found, err = store.Find[doc](ctx, s, "people", "projectId", "")
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.Equal(t, "c", found[0].ID)

		empty, err := s.All(ctx, "nothing")
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("update merges", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "people", "a", store.Patch{"count": 3}))

		got, err := s.Get(ctx, "people", "a")
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(got.Data, &m))
		require.Equal(t, "A", m["name"])
		require.Equal(t, float64(3), m["count"])
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, s, "people", "race", doc{ID: "race"}))

		var wg sync.WaitGroup
		for _, field := range []string{"f1", "f2", "f3"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NoError(t, s.Update(ctx, "people", "race", store.Patch{field: true}))
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "people", "race")
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(got.Data, &m))
		require.Equal(t, true, m["f1"])
		require.Equal(t, true, m["f2"])
		require.Equal(t, true, m["f3"])
	})

	t.Run("batch", func(t *testing.T) {
		require.NoError(t, s.Batch(ctx, []store.Op{
			{Collection: "people", ID: "a", Patch: store.Patch{"name": "A2"}},
			{Collection: "people", ID: "b", Patch: store.Patch{"name": "B2"}},
		}))
		b, err := store.Get[doc](ctx, s, "people", "b")
		require.NoError(t, err)
		require.Equal(t, "B2", b.Name)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "people", "c"))
		_, err := s.Get(ctx, "people", "c")
		require.ErrorIs(t, err, store.ErrNotFound)

		all, err := s.All(ctx, "people")
		require.NoError(t, err)
		for _, d := range all {
			require.NotEqual(t, "c", d.ID)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		require.ErrorIs(t, s.Put(ctx, "people", "a.b", []byte(`{}`)), store.ErrInvalidID)
		require.ErrorIs(t, s.Put(ctx, "people", "", []byte(`{}`)), store.ErrInvalidID)
		_, err := s.Find(ctx, "people", "bad field", "x")
		require.ErrorIs(t, err, store.ErrInvalidField)
	})
}
