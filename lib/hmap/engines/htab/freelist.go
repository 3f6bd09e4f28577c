package htab

import (
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/fastrand"
	"golang.org/x/sys/cpu"
)

// --------------------------------------------------------------------------
// Freelist (lock-free, partitioned per CPU)
// --------------------------------------------------------------------------

// freelist is a set of Treiber stacks over the element pool, one per CPU.
// Elements are referenced by pool index + 1 so a stack top fits into one word
// together with a tag that changes on every push and pop (ABA protection).
type freelist struct {
	pool  []element
	parts []freelistHead
}

type freelistHead struct {
	top atomic.Uint64 // tag<<32 | slot
	_   cpu.CacheLinePad
}

func newFreelist(pool []element, parts int) *freelist {
	return &freelist{
		pool:  pool,
		parts: make([]freelistHead, parts),
	}
}

// push adds e to partition part
func (f *freelist) push(part int, e *element) {
	h := &f.parts[part]
	for {
		old := h.top.Load()
		e.freeNext.Store(uint32(old))
		if h.top.CompareAndSwap(old, nextTag(old)|uint64(e.slot)) {
			return
		}
	}
}

// popFrom removes the top of partition part, or returns nil if it is empty
func (f *freelist) popFrom(part int) *element {
	h := &f.parts[part]
	for {
		old := h.top.Load()
		slot := uint32(old)
		if slot == 0 {
			return nil
		}
		e := &f.pool[slot-1]
		next := e.freeNext.Load()
		if h.top.CompareAndSwap(old, nextTag(old)|uint64(next)) {
			return e
		}
	}
}

// pop removes an element, preferring partition part and stealing from the
// others when it is empty. It returns nil if every partition is empty.
func (f *freelist) pop(part int) *element {
	if e := f.popFrom(part); e != nil {
		return e
	}
	n := len(f.parts)
	start := fastrand.Intn(n)
	for i := 0; i < n; i++ {
		p := (start + i) % n
		if p == part {
			continue
		}
		if e := f.popFrom(p); e != nil {
			return e
		}
	}
	return nil
}

// len counts the free elements. The count is only exact when the freelist is quiescent.
func (f *freelist) len() int {
	n := 0
	for i := range f.parts {
		for slot := uint32(f.parts[i].top.Load()); slot != 0; slot = f.pool[slot-1].freeNext.Load() {
			n++
			if n > len(f.pool) {
				return len(f.pool)
			}
		}
	}
	return n
}

// nextTag increments the tag half of a stack top
func nextTag(top uint64) uint64 {
	return (top>>32 + 1) << 32
}
