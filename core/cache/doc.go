// Package cache provides a key-value cache with per-entry TTL, usage-based
// eviction and a throttled background preload queue.
//
// The package defines two interfaces:
//
//   - [Cache]: Untyped cache storing values as any
//   - [TypedCache]: Generic type-safe wrapper via [NewTyped]
//
// # Implementations
//
// [Memory] is an in-memory cache that is safe for concurrent use. When it is
// full, inserting a new key evicts exactly one entry: the one read least
// often, and among those the one read least recently.
//
//	c := cache.New(cache.Options{Capacity: 1000})
//	c.Start(ctx) // periodic expiry sweep
//	defer c.Close()
//
//	c.Put("transactions", txs, cache.WithTTL(30*time.Second))
//	if val, ok := c.Get("transactions"); ok {
//	    // Use val
//	}
//
// [Nop] never stores anything.
//
// # TTL
//
// An entry is logically absent once its TTL elapsed: Get reports a miss and
// drops it. Entries nobody reads are removed by [Memory.Cleanup], which
// [Memory.Start] runs on a timer.
//
// # Read-through and preload
//
// [Memory.GetOrFetch] (and the typed [Fetch]) load a missing key and cache
// it; concurrent misses for the same key share one fetch.
//
// [Memory.Preload] warms keys ahead of use. High priority preloads run
// inline, medium and low priority preloads are queued and drained one at a
// time with a fixed delay so a burst does not saturate the store:
//
//	c.Preload(ctx, "projects", fetchProjects, cache.PriorityLow)
package cache
