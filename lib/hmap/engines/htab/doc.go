// Package htab implements a fixed-capacity concurrent hash table with
// byte-string keys and values of fixed size. It provides a complete
// implementation of the hmap.Map interface.
//
// The package focuses on:
//   - Lookups that never lock and never block
//   - Writers that lock only the bucket they modify
//   - Element storage that is either preallocated once or allocated on demand
//   - An LRU variant that evicts instead of rejecting inserts into a full table
//   - Per-CPU values that writers on different CPUs update without contention
//
// Key Components:
//
//   - Table: The central structure implementing hmap.Map. It owns a power of
//     two number of buckets, the element allocator, the optional LRU engine and
//     the execution contexts. The number of buckets never changes.
//
//   - Bucket: A mutex and a singly linked list of elements. Every list ends in
//     a sentinel that names its bucket. New elements are published at the head,
//     so a reader racing with a replacing update sees the new value first.
//
//   - CPU: An execution context leased with Pin and returned with Unpin. A CPU
//     selects the value slot of per-CPU tables, the freelist partition an insert
//     draws from and the spare element of replacing updates. It also counts the
//     bucket locks it holds per lock stripe; an operation that would take a lock
//     of a stripe its CPU already holds fails with hmap.ErrBusy.
//
//   - Allocators: A preallocated pool carves all elements out of one array and
//     recycles them through lock-free per-CPU stacks. The dynamic allocator
//     creates elements on insert and reuses released ones only after a grace
//     period of the epoch domain. LRU tables draw from the LRU engine.
//
//   - LRU Engine: A second chance (CLOCK) list per table or per CPU. Lookups set
//     a referenced bit without taking a lock. When no free element is left the
//     engine sweeps from the oldest entry, clearing referenced bits and moving
//     those entries to the head, and evicts the first unreferenced entry.
//
// Lock Order:
//
//   - The LRU lock is always taken before a bucket lock, never after. Every
//     entry point of the LRU engine refuses to run on a CPU that holds a lock
//     and returns hmap.ErrWouldDeadlock instead. Elements freed by a delete are
//     therefore handed back to the LRU engine after the bucket lock is released.
//
//   - A CPU that already holds a bucket lock never waits for a second one. It
//     fails with hmap.ErrBusy when the second bucket is locked.
//
// Concurrent Readers:
//
//   - Keys and values are stored in words that are read and written atomically.
//     A sequence counter per element lets a reader detect that the element was
//     rewritten while it copied it and retry.
//
//   - Preallocated elements are reused immediately. A reader that follows a
//     reused element into another bucket ends on a foreign sentinel and restarts.
//
//   - Elements of dynamic tables are reused only after every reader that entered
//     before their removal has left (epoch based reclamation). Retired elements
//     travel through a util.LockFreeMPSC queue to a single reclaimer goroutine.
//
// Capacity:
//
//   - Plain preallocated tables hold MaxEntries entries. One extra element per
//     CPU lets a replacing update of a full table succeed.
//   - Dynamic tables enforce MaxEntries with an atomic reservation. A replacing
//     update does not count against the limit.
//   - LRU tables evict the least recently used entry when full.
//
// Usage Example:
//
//	t, err := htab.NewTable(&htab.Options{
//		KeySize:    8,
//		ValueSize:  16,
//		MaxEntries: 4096,
//		Variant:    hmap.LRU,
//	})
//	if err != nil {
//		return err
//	}
//	defer t.Close()
//
//	if err := t.Update(key, value, hmap.Upsert); err != nil {
//		return err
//	}
//	v, ok := t.Lookup(key)
//
// Related Packages:
//
// The hmap package (github.com/ValentinKolb/htab/lib/hmap) defines the Map
// interface, update modes and error kinds.
//
// The testing package (github.com/ValentinKolb/htab/lib/hmap/testing) provides
// the conformance tests every variant of the table is run against.
package htab
