// Package collection implements virtual Map, Set, WeakMap and WeakSet
// stores on top of the vat's ordered key-value store.
//
// Every collection C owns the key range "vc.<C>.". Entries are stored
// under an encoded key that sorts in the collection's iteration order:
//
//	b<false|true>              booleans
//	f<16 hex>                  floats, order-preserving
//	n<16 hex>                  integers, order-preserving
//	r<10-digit ordinal>:<vref> object references
//	s<string>                  strings
//
// Object keys are numbered with a per-collection ordinal when first added,
// recorded under "vc.<C>.|<vref>". Ordinals come from a monotonic counter
// and are never reused. Collection metadata ("|nextOrdinal", "|entryCount",
// "|schemata") sorts after every entry so entry scans can stop at the
// first "|".
//
// Strong collections hold a refcount on each object key and on every slot
// of every value. Weak collections hold value slots the same way but record
// a recognizer link for object keys instead of a refcount.
package collection
