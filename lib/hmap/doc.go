// Package hmap provides a standardized interface for fixed-capacity concurrent
// hash maps with byte-string keys and values.
// It defines the Map interface that allows collaborators (marshalling layers,
// stores, command line tools) to work with a map without knowing which engine
// or variant backs it.
//
// The package focuses on:
//   - A unified interface for lookup, update, delete and iteration
//   - Batch operations that bound the time any single lock is held
//   - Feature discovery through capability flags
//   - Typed errors that callers match with errors.Is
//
// Key Components:
//
//   - Map Interface: The core interface every engine satisfies. Keys and values
//     have a fixed size chosen at creation. Lookups never block and never fail,
//     writes report failures as values of type *Error.
//
//   - Update Modes: Upsert, CreateOnly and UpdateOnly select the precondition
//     of an update (no precondition, key must be absent, key must be present).
//
//   - Variants and Allocation: A Plain map rejects inserts once full, an LRU map
//     evicts the least recently used entry instead. Element storage is either
//     preallocated and recycled through a freelist, or allocated dynamically and
//     reclaimed after concurrent readers have moved on.
//
//   - Errors: ErrAlreadyExists, ErrNotFound, ErrOutOfCapacity, ErrBusy (also
//     named ErrWouldDeadlock), ErrInvalidArgument, ErrNoSpace and ErrClosed.
//     None of them is fatal: a map stays usable after any failed operation.
//     ErrBusy is an admission-control signal and should be retried by the caller.
//
// Note on Iteration:
//   - NextKey, ForEach and the batch operations walk the buckets in index order.
//     They give a weak consistency guarantee: entries inserted or deleted during
//     the walk may be skipped or, rarely, returned twice.
//   - Batch cursors are bucket indices. A batch never splits a bucket, so a
//     maxCount smaller than the first non-empty bucket fails with ErrNoSpace.
//
// Related Packages:
//
// The engines/htab package (github.com/ValentinKolb/htab/lib/hmap/engines/htab)
// implements Map with bucket-level locking, lock-free readers, a preallocated
// or dynamic element allocator, an optional CLOCK based LRU and per-CPU values.
//
// The util package (github.com/ValentinKolb/htab/lib/hmap/util) provides
// hashing, seed generation, a lock-free MPSC queue and distribution statistics.
//
// The testing package (github.com/ValentinKolb/htab/lib/hmap/testing) provides
// standardized tests and benchmarks for Map implementations.
package hmap
