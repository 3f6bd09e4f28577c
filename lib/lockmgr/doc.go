// Package lockmgr implements named ownership locks on top of key-value stores
// that implement the store.IStore interface. A lock is an entry of the store
// whose value is the random owner ID of the holder.
//
// Core Functionality:
//   - Lock acquisition with ownership verification
//   - Lock expiration through optional timeouts
//   - Safe release operations that verify ownership
//
// Implementation Approach:
//
//	- Lock Acquisition: Attempts to create a key using SetIfUnset, which
//	  guarantees that only one requester can successfully create the key.
//	  The value contains a randomly generated owner ID that fills the whole
//	  value of the entry.
//
//	- Lock Verification: A SetIfUnset operation is followed by a Get
//	  operation to confirm the lock was acquired by checking that the stored
//	  value matches the owner ID.
//
//	- Timeouts: Deadlines are kept in a util.MapHeap inside the manager.
//	  Expired locks are released lazily at the start of the next AcquireLock
//	  or ReleaseLock call, and only if the entry still holds the owner ID that
//	  set the deadline. Use one manager per store when timeouts are needed.
//
//	- Safe Release: The ReleaseLock operation first verifies that the
//	  requester is the legitimate owner of the lock by comparing owner IDs
//	  before executing the Delete operation.
//
// Capacity:
//
//	Every held lock occupies one entry of the underlying map. On a plain map
//	AcquireLock fails with RetCOutOfCapacity when the map is full. On an LRU
//	map a new lock can evict an old one, so LRU maps only suit advisory locks.
//
// Usage Example:
//
//	locks, err := lockmgr.NewLockManager(store)
//	if err != nil {
//	    // value size of the store is below 8 bytes
//	}
//
//	acquired, ownerID, err := locks.AcquireLock("res:123", 30*time.Second)
//	if err != nil {
//	    // Handle error
//	}
//
//	if acquired {
//	    // Use the resource safely
//	    // ...
//	    released, err := locks.ReleaseLock("res:123", ownerID)
//	}
package lockmgr
