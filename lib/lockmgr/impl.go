package lockmgr

import (
	"bytes"
	"sync"
	"time"

	"github.com/ValentinKolb/htab/lib/hmap/util"
	"github.com/ValentinKolb/htab/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	store       store.IStore
	ownerLength int

	mu        sync.Mutex
	deadlines *util.MapHeap[string] // expiry of locks with a timeout, unix nanos
	owners    map[string][]byte     // owner of every lock in deadlines
	now       func() time.Time
}

// NewLockManager creates a lock manager on top of s.
// Owner IDs fill the whole value of an entry, so the value size of the
// store's map must be at least 8 bytes.
func NewLockManager(s store.IStore) (ILockManager, error) {
	info, err := s.GetMapInfo()
	if err != nil {
		return nil, err
	}
	if info.ValueSize < minOwnerIDLength {
		return nil, store.NewError(store.RetCInvalidOperation, "value size of the store is too small for owner ids")
	}
	return &lockMgrImpl{
		store:       s,
		ownerLength: info.ValueSize,
		deadlines:   util.NewMapHeap[string](),
		owners:      make(map[string][]byte),
		now:         time.Now,
	}, nil
}

// expire releases every lock whose deadline has passed. Must be called with mu held.
func (lm *lockMgrImpl) expire() {
	now := lm.now().UnixNano()
	for {
		key, deadline, ok := lm.deadlines.Peek()
		if !ok || deadline > now {
			return
		}
		lm.deadlines.PopMin()
		owner := lm.owners[key]
		delete(lm.owners, key)

		// only delete if nobody re-acquired the key in the meantime
		value, found, err := lm.store.Get(key)
		if err != nil || !found || !bytes.Equal(value, owner) {
			continue
		}
		if err := lm.store.Delete(key); err != nil {
			Logger.Warningf("failed to release expired lock %q: %v", key, err)
		} else {
			Logger.Debugf("released expired lock %q", key)
		}
	}
}

func (lm *lockMgrImpl) AcquireLock(key string, timeout time.Duration) (bool, []byte, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.expire()

	ownerID, err := generateOwnerID(lm.ownerLength)
	if err != nil {
		return false, nil, err
	}

	// Try to acquire the lock (by setting the value only if it doesn't exist)
	if err := lm.store.SetIfUnset(key, ownerID); err != nil {
		return false, nil, err
	}

	// Check if the lock was acquired
	value, found, err := lm.store.Get(key)
	if err != nil {
		return false, nil, err
	}
	if !found || !bytes.Equal(value, ownerID) {
		// held by someone else
		return false, nil, nil
	}

	if timeout > 0 {
		lm.deadlines.AddItem(key, lm.now().Add(timeout).UnixNano())
		lm.owners[key] = ownerID
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.expire()

	// Check if the lock exists
	value, ok, err := lm.store.Get(key)
	if err != nil || !ok {
		return err == nil, err
	}

	// Check if the lock is owned by us
	if !bytes.Equal(ownerID, value) {
		return false, nil
	}

	if err := lm.store.Delete(key); err != nil {
		return false, err
	}
	lm.deadlines.RemoveByKey(key)
	delete(lm.owners, key)
	return true, nil
}
