package htab

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/ValentinKolb/htab/lib/hmap/engines/htab/internal"
)

// --------------------------------------------------------------------------
// Element Allocators
// --------------------------------------------------------------------------

// allocator owns the elements that are not in the table
type allocator interface {
	// acquire hands out an element. replacing is true when the element will
	// supersede one that is already in the table.
	acquire(c *CPU, replacing bool) (owned, error)

	// release takes back an element that left the table or never entered it.
	// replaced is true when it was superseded by an element acquired with
	// replacing=true. The caller must not hold a bucket lock.
	release(c *CPU, o owned, replaced bool) error

	// early reports whether acquire must run before the bucket lock is taken
	early() bool

	// free returns the number of elements ready to be handed out, or -1 if unbounded
	free() int

	close()
}

// acquire obtains an element for c and charges the live count for new entries.
// Tables with a hard capacity reserve the count before allocating.
func (t *Table) acquire(c *CPU, replacing bool) (owned, error) {
	if replacing {
		return t.alloc.acquire(c, true)
	}

	if t.hardCap {
		if n := t.count.Add(1); n > int64(t.maxEntries) {
			t.count.Add(-1)
			return owned{}, hmap.NewError(hmap.KindOutOfCapacity, "table holds %d entries", t.maxEntries)
		}
		o, err := t.alloc.acquire(c, false)
		if err != nil {
			t.count.Add(-1)
		}
		return o, err
	}

	o, err := t.alloc.acquire(c, false)
	if err == nil {
		t.count.Add(1)
	}
	return o, err
}

// release returns an element to the allocator and uncharges the live count
func (t *Table) release(c *CPU, o owned, replaced bool) error {
	if !replaced {
		t.count.Add(-1)
	}
	return t.alloc.release(c, o, replaced)
}

// --------------------------------------------------------------------------
// Preallocated Pool
// --------------------------------------------------------------------------

// newPool allocates n elements with their key and value words carved out of
// one backing array
func (t *Table) newPool(n int) []element {
	width := t.keyWords + t.valueWords*t.valueSlots()
	backing := make([]atomic.Uint64, n*width)
	words := internal.Carve(backing, n, width)

	pool := make([]element, n)
	for i := range pool {
		e := &pool[i]
		e.slot = uint32(i + 1)
		e.key = words[i][:t.keyWords:t.keyWords]
		e.value = words[i][t.keyWords:]
		e.lru.owner = -1
	}
	return pool
}

// poolAllocator recycles a preallocated pool through a partitioned freelist.
// Plain tables without per-CPU values keep one extra element per CPU that a
// replacing update swaps with the element it supersedes.
type poolAllocator struct {
	list   *freelist
	spares bool
}

func newPoolAllocator(pool []element, cpus []*CPU, spares bool) *poolAllocator {
	p := &poolAllocator{
		list:   newFreelist(pool, len(cpus)),
		spares: spares,
	}

	next := 0
	if spares {
		for _, c := range cpus {
			c.spare = &pool[next]
			next++
		}
	}
	for i := next; i < len(pool); i++ {
		p.list.push(i%len(cpus), &pool[i])
	}
	return p
}

func (p *poolAllocator) acquire(c *CPU, replacing bool) (owned, error) {
	if replacing && p.spares {
		e := c.spare
		if e == nil {
			return owned{}, hmap.NewError(hmap.KindInternal, "cpu %d has no spare element", c.id)
		}
		c.spare = nil
		return claim(e)
	}

	e := p.list.pop(c.id)
	if e == nil {
		return owned{}, hmap.NewError(hmap.KindOutOfCapacity, "no free element")
	}
	return claim(e)
}

func (p *poolAllocator) release(c *CPU, o owned, replaced bool) error {
	if err := o.e.transition(memberOwned, memberFree); err != nil {
		return err
	}
	if replaced && p.spares && c.spare == nil {
		c.spare = o.e
		return nil
	}
	p.list.push(c.id, o.e)
	return nil
}

func (p *poolAllocator) early() bool { return false }
func (p *poolAllocator) free() int   { return p.list.len() }
func (p *poolAllocator) close()      {}

// --------------------------------------------------------------------------
// LRU Allocator
// --------------------------------------------------------------------------

// lruAllocator draws elements from the LRU engine, evicting when it runs dry
type lruAllocator struct {
	lru *lruEngine
}

func (a *lruAllocator) acquire(c *CPU, _ bool) (owned, error) {
	return a.lru.popFree(c)
}

func (a *lruAllocator) release(c *CPU, o owned, _ bool) error {
	return a.lru.pushFree(c, o)
}

func (a *lruAllocator) early() bool { return true }
func (a *lruAllocator) free() int   { return a.lru.free() }
func (a *lruAllocator) close()      {}

// --------------------------------------------------------------------------
// Dynamic Allocator
// --------------------------------------------------------------------------

// dynamicAllocator allocates elements on demand. Released elements are
// reused only after a grace period of the epoch domain.
type dynamicAllocator struct {
	t        *Table
	epoch    *epochDomain
	recycled sync.Pool
	closed   atomic.Bool
}

func newDynamicAllocator(t *Table, shards int) *dynamicAllocator {
	a := &dynamicAllocator{t: t}
	a.epoch = newEpochDomain(shards, func(e *element) {
		a.recycled.Put(e)
	})
	return a
}

func (a *dynamicAllocator) acquire(_ *CPU, _ bool) (owned, error) {
	e, _ := a.recycled.Get().(*element)
	if e == nil {
		e = a.t.newElement()
	}
	return claim(e)
}

func (a *dynamicAllocator) release(_ *CPU, o owned, _ bool) error {
	if err := o.e.transition(memberOwned, memberFree); err != nil {
		return err
	}
	// once the domain is closed the element is left to the garbage collector
	if a.closed.Load() {
		return nil
	}
	a.epoch.retire(o.e)
	return nil
}

func (a *dynamicAllocator) early() bool { return false }
func (a *dynamicAllocator) free() int   { return -1 }

func (a *dynamicAllocator) close() {
	if a.closed.CompareAndSwap(false, true) {
		a.epoch.close()
	}
}
