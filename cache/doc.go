// Package cache provides a two-tier time-to-live cache: a process-local map
// of entries in front of a durable string key/value [Storage].
//
// # Store
//
// [NewStore] wraps a [Storage] and adds expiry, access bookkeeping,
// compression of large values, tag based invalidation and a size budget
// enforced by a periodic [Store.Cleanup].
//
//	store := cache.NewStore(ctx, storage, cache.WithDefaultTTL(10*time.Minute))
//	defer store.Close()
//
//	store.Set(ctx, "user_profile", profile, 0)
//	val := store.Get(ctx, "user_profile")
//
// Writes land in both tiers unless [MemoryOnly] is passed. Reads consult
// memory first. On a memory miss the durable tier is read; a valid durable
// entry is promoted into memory so the next read for the key stays in
// process. Every [Store.Lookup] (and therefore [Store.Get]) counts as one
// operation in [Store.Stats], so the hit rate reflects cold starts as well as
// warm reads.
//
// Expiry is strict: an entry is valid while less than or exactly TTL has
// passed since it was created. Reading an expired durable entry deletes it.
//
// # Durable format
//
// Each entry is written under prefix+key (prefix defaults to
// [DefaultPrefix]) as a JSON document:
//
//	{"data": <value>, "timestamp": <created ms>, "ttl": <ms>, "compressed": false}
//
// When an entry's estimated size exceeds the compression threshold, the value
// is stored as a JSON string holding base64 of its JSON form and compressed
// is true. Size is estimated as two bytes per UTF-16 code unit of the JSON
// text.
//
// Tag indexes live under prefix+"tag_"+tag as {"keys": [...]}. Keys starting
// with "tag_" are therefore reserved.
//
// # Typed access
//
// Values set in-process come back as the same Go value, compressed or not.
// Values promoted from the durable tier come back decoded the way
// [encoding/json] decodes into any (map[string]any, []any, float64, string,
// bool or nil). [Get] and [GetOrSet] convert either form into a concrete type:
//
//	found, profile, err := cache.Get[Profile](ctx, store, "user_profile")
//
// # Storage backends
//
//   - [NewMemoryStorage] keeps everything in a map. Nothing survives a restart.
//   - [NewSQLiteStorage] uses [modernc.org/sqlite] (pure Go). File databases
//     run in WAL mode; ":memory:" is limited to one connection.
//   - [NewRedisStorage] uses plain Redis strings via
//     [github.com/redis/go-redis/v9]. The caller owns the client.
//
// I/O-backed storage applies a per-operation timeout ([DefaultQueryTimeout]).
//
// # Failure handling
//
// Storage failures never escape the read and write paths. They are logged
// and surface as a miss or a false result. Only [Store.GetOrSet] returns an
// error, and only the factory's, when no [WithFallback] value was given.
//
// # Cleanup
//
// Unless [WithoutBackgroundCleanup] is given, a goroutine runs
// [Store.Cleanup] [DefaultInitialCleanupDelay] after construction and every
// [DefaultCleanupInterval] after that, until [Store.Close]. A pass removes
// expired memory entries, removes expired or corrupt durable entries and,
// when [Store.Size] exceeds the budget, evicts the least recently used keys
// from both tiers. Durable entries with no memory copy are ranked by their
// creation time.
//
// # Metrics
//
// [NewCollector] exports [Store.Stats] as Prometheus metrics.
package cache
