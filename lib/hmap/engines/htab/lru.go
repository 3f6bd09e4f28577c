package htab

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/htab/lib/hmap"
)

// --------------------------------------------------------------------------
// LRU Engine (second chance / CLOCK)
// --------------------------------------------------------------------------

// lruNode is the recency metadata embedded in every element of an LRU table.
// prev, next and list are guarded by the lock of the owning lruList,
// ref is set by lookups without any lock.
type lruNode struct {
	prev, next *element
	list       uint8 // lruOnFree or lruOnUsed
	owner      int   // index of the owning lruList, -1 if none
	ref        atomic.Uint32
}

const (
	lruOnFree uint8 = iota + 1 // not in the table
	lruOnUsed                  // in the table, or handed out by popFree
)

// lruRing is a circular doubly linked list of elements, head is the newest
type lruRing struct {
	head *element
	n    int
}

func (r *lruRing) pushHead(e *element) {
	if r.head == nil {
		e.lru.prev, e.lru.next = e, e
	} else {
		tail := r.head.lru.prev
		e.lru.prev, e.lru.next = tail, r.head
		tail.lru.next = e
		r.head.lru.prev = e
	}
	r.head = e
	r.n++
}

func (r *lruRing) remove(e *element) {
	if e.lru.next == e {
		r.head = nil
	} else {
		e.lru.prev.lru.next = e.lru.next
		e.lru.next.lru.prev = e.lru.prev
		if r.head == e {
			r.head = e.lru.next
		}
	}
	e.lru.prev, e.lru.next = nil, nil
	r.n--
}

// tail returns the oldest element or nil
func (r *lruRing) tail() *element {
	if r.head == nil {
		return nil
	}
	return r.head.lru.prev
}

// lruList is one recency domain: a free list and a used list behind one lock
type lruList struct {
	mu   sync.Mutex
	free lruRing
	used lruRing
}

// move transfers e to the head of the list named by to
func (l *lruList) move(e *element, to uint8) {
	if e.lru.list == lruOnFree {
		l.free.remove(e)
	} else {
		l.used.remove(e)
	}
	e.lru.list = to
	if to == lruOnFree {
		l.free.pushHead(e)
	} else {
		l.used.pushHead(e)
	}
}

// evictFunc unlinks e from its bucket on behalf of c. It returns false if e
// is no longer in the table or its bucket could not be locked.
type evictFunc func(c *CPU, e *element) bool

// lruEngine hands out elements of an LRU table, evicting when no free element is left.
//
// Lock order: an LRU list lock is taken before bucket locks, never after.
// Entry points therefore refuse to run on a CPU that holds any lock.
type lruEngine struct {
	lists  []*lruList
	perCPU bool
	evict  evictFunc
}

func newLRUEngine(lists int, perCPU bool, evict evictFunc) *lruEngine {
	l := &lruEngine{
		lists:  make([]*lruList, lists),
		perCPU: perCPU,
		evict:  evict,
	}
	for i := range l.lists {
		l.lists[i] = &lruList{}
	}
	return l
}

// populate distributes the pool evenly over the free lists
func (l *lruEngine) populate(pool []element) {
	for i := range pool {
		e := &pool[i]
		owner := i % len(l.lists)
		e.lru.owner = owner
		e.lru.list = lruOnFree
		l.lists[owner].free.pushHead(e)
	}
}

// listFor returns the list an insert on c draws from
func (l *lruEngine) listFor(c *CPU) *lruList {
	if l.perCPU {
		return l.lists[c.id%len(l.lists)]
	}
	return l.lists[0]
}

// touch marks e as recently used
func touch(e *element) {
	if e.lru.ref.Load() == 0 {
		e.lru.ref.Store(1)
	}
}

// popFree returns an element for a new entry, evicting the coldest entry of
// c's list if no free element is left. Referenced entries get a second
// chance: their bit is cleared and they are moved to the head. If a full
// sweep finds no victim a second sweep ignores the bits. ErrOutOfCapacity is
// returned when nothing could be evicted (every bucket busy).
func (l *lruEngine) popFree(c *CPU) (owned, error) {
	if c.holdsLocks() {
		return owned{}, hmap.ErrWouldDeadlock
	}

	list := l.listFor(c)
	c.inLRU = true
	list.mu.Lock()
	defer func() {
		list.mu.Unlock()
		c.inLRU = false
	}()

	if e := list.free.head; e != nil {
		list.move(e, lruOnUsed)
		e.lru.ref.Store(0)
		return claim(e)
	}

	for pass := 0; pass < 2; pass++ {
		for scanned, n := 0, list.used.n; scanned < n; scanned++ {
			e := list.used.tail()
			if pass == 0 && e.lru.ref.Load() != 0 {
				e.lru.ref.Store(0)
				list.move(e, lruOnUsed)
				continue
			}
			if l.evict(c, e) {
				list.move(e, lruOnUsed)
				e.lru.ref.Store(0)
				return owned{e: e}, nil
			}
			// in flight or bucket busy, look further
			list.move(e, lruOnUsed)
		}
	}

	return owned{}, hmap.NewError(hmap.KindOutOfCapacity, "no element could be evicted")
}

// pushFree returns an element that is not in the table to its free list.
// The caller must not hold any bucket lock.
func (l *lruEngine) pushFree(c *CPU, o owned) error {
	if c.holdsLocks() {
		return hmap.ErrWouldDeadlock
	}
	if err := o.e.transition(memberOwned, memberFree); err != nil {
		return err
	}

	list := l.lists[o.e.lru.owner]
	c.inLRU = true
	list.mu.Lock()
	list.move(o.e, lruOnFree)
	list.mu.Unlock()
	c.inLRU = false
	return nil
}

// free counts the free elements of all lists
func (l *lruEngine) free() int {
	n := 0
	for _, list := range l.lists {
		list.mu.Lock()
		n += list.free.n
		list.mu.Unlock()
	}
	return n
}
