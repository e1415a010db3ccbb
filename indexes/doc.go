// Package indexes provides the ordered index subsystem.
//
// # Overview
//
// An Index is a sorted mapping from a typed key to object refs. It
// lives entirely inside Pebble: the key is run through an
// order-preserving codec (package keys), so Pebble's native key order
// is the index order, and range, prefix and directional scans are
// plain Pebble iterator scans. Two modes exist:
//
//  1. Unique: at most one ref per key; inserting a duplicate key
//     returns ErrDuplicateKey and the first entry is retained.
//
//  2. Non-unique: a key maps to a bucket of refs, ordered by ref,
//     which doubles as the deterministic secondary sort order.
//
// A FieldIndex binds an Index to one field of one class and derives
// the key through the class descriptor's accessor. On its own it is a
// manual-mode index: the caller owns the remove-before-mutate
// discipline, and the index performs no validation against current
// field values. The catalog layer (root package) wraps the same
// primitive with write-path hooks that keep managed indices in sync.
//
// # Key layout in Pebble
//
// All keys start with 'I'.
//
//   - Non-unique entry: "I" + index_id(u32, BE) + enc(key) + ref(u64, BE)
//     -> empty value
//
//   - Unique entry:     "I" + index_id(u32, BE) + enc(key)
//     -> ref(u64, BE)
//
// enc is prefix-free, so concatenating the ref suffix keeps the
// entries sorted by (key, ref).
//
// # Integration with writes
//
// Index updates travel in the same Pebble batch as the object change
// that caused them: a write commits object and index together or not
// at all. Standalone Put/Remove calls wrap themselves in a one-shot
// indexed batch.
//
// # Iterator semantics
//
// Range and prefix iterators are snapshot-at-open: the sequence reads
// from a Pebble snapshot acquired when iteration starts, so concurrent
// inserts and removes are consistently ignored and a tombstoned entry
// is never returned.
package indexes
