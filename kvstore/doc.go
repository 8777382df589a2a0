// Package kvstore defines the ordered key-value store that backs a vat.
//
// All persistent vat state (refcounts, export status, virtual object state,
// collection entries and metadata) lives in a Store. The interface is
// deliberately narrow:
//
//	Get(ctx, key)          value or absent
//	Set(ctx, key, value)
//	Delete(ctx, key)
//	GetNextKey(ctx, prior) smallest key strictly greater than prior
//
// GetNextKey is the only ordering primitive. Scan builds prefix iteration on
// top of it, so collections of any size can be walked without holding their
// keys in memory. Iteration tolerates deletion of the current key.
//
// # Backends
//
//   - MemoryStore: sorted in-memory store, used by tests and ephemeral vats
//   - sqlstore: SQLite (modernc.org/sqlite) and Postgres (lib/pq)
//   - redisstore: Redis sorted set with lexicographic range queries
//   - dynamostore: DynamoDB table with the key as sort key
//
// # Snapshots
//
// Export streams every key in order into a compressed blob; Import restores a
// snapshot into an empty store. A durable vat is fully reconstructable from a
// snapshot.
package kvstore
