package htab

import (
	"sync/atomic"

	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/ValentinKolb/htab/lib/hmap/engines/htab/internal"
)

// --------------------------------------------------------------------------
// Element Membership
// --------------------------------------------------------------------------

// membership is the state of an element. Every transition is a CAS, so an
// element can never be linked twice or released while still in a bucket.
//
//	memberFree --acquire--> memberOwned --link--> memberInTable
//	memberFree <--release-- memberOwned <--unlink-- memberInTable
type membership = uint32

const (
	memberFree    membership = iota // held by the freelist, the LRU free list or the reclaimer
	memberOwned                     // held by exactly one operation, not reachable from a bucket
	memberInTable                   // linked into exactly one bucket list
)

// owned is an element held by one operation. Only the allocator and unlink
// produce it, only link and the allocator consume it.
type owned struct {
	e *element
}

// --------------------------------------------------------------------------
// Element
// --------------------------------------------------------------------------

// element stores one entry. Elements of preallocated tables are reused in
// place, so lock-free readers may observe an element while it is rewritten;
// seq tells them when to retry.
type element struct {
	next  atomic.Pointer[element] // bucket list link, ends in a bucket sentinel
	seq   internal.SeqLock        // guards hash, key and value
	hash  atomic.Uint32
	state atomic.Uint32

	key   internal.Words
	value internal.Words // one slot per CPU for per-CPU tables

	// bucket sentinels only
	nulls    bool
	nullsIdx uint32

	slot     uint32        // pool index + 1, 0 for dynamically allocated elements
	freeNext atomic.Uint32 // freelist link (pool index + 1)

	lru lruNode
}

// transition moves e from one membership state to another
func (e *element) transition(from, to membership) error {
	if !e.state.CompareAndSwap(from, to) {
		return hmap.NewError(hmap.KindInternal, "element membership is %d, expected %d", e.state.Load(), from)
	}
	return nil
}

// claim hands a free element to the calling operation
func claim(e *element) (owned, error) {
	if err := e.transition(memberFree, memberOwned); err != nil {
		return owned{}, err
	}
	return owned{e: e}, nil
}

// --------------------------------------------------------------------------
// Value Layout
// --------------------------------------------------------------------------

// valueSource describes what an update writes into an element
type valueSource struct {
	one  []byte   // single value
	all  [][]byte // one value per CPU (per-CPU tables only)
	cpu  int      // CPU slot written by one on per-CPU tables
	init bool     // the element is new, other CPU slots are cleared
}

// slot returns the value words of one CPU
func (t *Table) slot(e *element, cpu int) internal.Words {
	return e.value[cpu*t.valueWords : (cpu+1)*t.valueWords]
}

// fill writes key and value into an element owned by the caller
func (t *Table) fill(o owned, hash uint32, key []byte, src valueSource) {
	e := o.e
	e.seq.BeginWrite()
	e.hash.Store(hash)
	e.key.Store(key)
	t.storeValue(e, src)
	e.seq.EndWrite()
}

// overwrite replaces the value of an element in the table, bucket lock held
func (t *Table) overwrite(e *element, src valueSource) {
	e.seq.BeginWrite()
	t.storeValue(e, src)
	e.seq.EndWrite()
}

// storeValue copies src into e. The caller holds the write side of e.seq.
func (t *Table) storeValue(e *element, src valueSource) {
	if !t.perCPU {
		e.value.Store(src.one)
		return
	}
	if src.all != nil {
		for i := 0; i < t.nCPU; i++ {
			t.slot(e, i).Store(src.all[i])
		}
		return
	}
	if src.init {
		// a new element starts with zero on every CPU but the writer's
		for i := 0; i < t.nCPU; i++ {
			if i != src.cpu {
				t.slot(e, i).Zero()
			}
		}
	}
	t.slot(e, src.cpu).Store(src.one)
}

// newElement allocates an unpooled element in the free state
func (t *Table) newElement() *element {
	e := &element{
		key:   make(internal.Words, t.keyWords),
		value: make(internal.Words, t.valueWords*t.valueSlots()),
	}
	e.lru.owner = -1
	return e
}

// valueSlots returns the number of value slots per element
func (t *Table) valueSlots() int {
	if t.perCPU {
		return t.nCPU
	}
	return 1
}
