package htab

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/htab/lib/hmap"
)

// --------------------------------------------------------------------------
// Buckets
// --------------------------------------------------------------------------

// bucket holds the list of elements whose hash selects it. The list ends in
// the bucket's own sentinel, so a lock-free reader that was carried into
// another bucket by a recycled element notices it at the end of its walk.
//
// Writers hold mu. Readers only use atomic loads.
type bucket struct {
	mu    sync.Mutex
	head  atomic.Pointer[element]
	nulls element
}

// newBuckets creates n empty buckets
func newBuckets(n int) []bucket {
	buckets := make([]bucket, n)
	for i := range buckets {
		b := &buckets[i]
		b.nulls.nulls = true
		b.nulls.nullsIdx = uint32(i)
		b.head.Store(&b.nulls)
	}
	return buckets
}

// bucketFor returns the bucket of a hash
func (t *Table) bucketFor(hash uint32) *bucket {
	return &t.buckets[hash&t.mask]
}

// --------------------------------------------------------------------------
// Bucket Locking
// --------------------------------------------------------------------------

// bucketGuard is a held bucket lock. unlock must be called exactly once.
type bucketGuard struct {
	c      *CPU
	b      *bucket
	stripe uint32
}

// lockStripe returns the reentrancy stripe of the bucket hash maps to.
// hash may also be a bucket index, so every bucket has exactly one stripe.
func (t *Table) lockStripe(hash uint32) uint32 {
	return hash & t.mask & lockStripeMask
}

// lockBucket locks b on behalf of c.
// It fails with ErrBusy if c already holds a lock of the same stripe. A
// CPU that holds another bucket lock does not wait for b but fails with
// ErrBusy when b is taken, so two nested operations never wait on each other.
func (t *Table) lockBucket(c *CPU, b *bucket, hash uint32) (bucketGuard, error) {
	stripe := t.lockStripe(hash)
	c.locked[stripe]++
	if c.locked[stripe] != 1 {
		c.locked[stripe]--
		t.stats.busy.Inc()
		return bucketGuard{}, hmap.ErrBusy
	}

	if c.held > 0 {
		if !b.mu.TryLock() {
			c.locked[stripe]--
			t.stats.busy.Inc()
			return bucketGuard{}, hmap.ErrBusy
		}
	} else {
		b.mu.Lock()
	}
	c.held++

	return bucketGuard{c: c, b: b, stripe: stripe}, nil
}

func (g bucketGuard) unlock() {
	g.b.mu.Unlock()
	g.c.held--
	g.c.locked[g.stripe]--
}

// --------------------------------------------------------------------------
// List Operations (bucket lock held)
// --------------------------------------------------------------------------

// find returns the element holding key and the link that points to it
func (b *bucket) find(hash uint32, key []byte) (*element, *atomic.Pointer[element]) {
	link := &b.head
	for {
		e := link.Load()
		if e.nulls {
			return nil, nil
		}
		if e.hash.Load() == hash && e.key.Equal(key) {
			return e, link
		}
		link = &e.next
	}
}

// linkTo returns the link that points to e, or nil if e is not in b
func (b *bucket) linkTo(e *element) *atomic.Pointer[element] {
	link := &b.head
	for {
		cur := link.Load()
		if cur.nulls {
			return nil
		}
		if cur == e {
			return link
		}
		link = &cur.next
	}
}

// link publishes an owned element at the head of b
func (b *bucket) link(o owned) error {
	if err := o.e.transition(memberOwned, memberInTable); err != nil {
		return err
	}
	o.e.next.Store(b.head.Load())
	b.head.Store(o.e)
	return nil
}

// unlink removes e, which link points to, from b.
// The next pointer of e is left intact so readers standing on e can continue.
func (b *bucket) unlink(link *atomic.Pointer[element], e *element) (owned, error) {
	if err := e.transition(memberInTable, memberOwned); err != nil {
		return owned{}, err
	}
	link.Store(e.next.Load())
	return owned{e: e}, nil
}

// replace publishes n at the head of b and unlinks old, which link points to
func (b *bucket) replace(link *atomic.Pointer[element], old *element, n owned) (owned, error) {
	if err := b.link(n); err != nil {
		return owned{}, err
	}
	if link == &b.head {
		link = &n.e.next
	}
	return b.unlink(link, old)
}

// length counts the elements of b
func (b *bucket) length() int {
	n := 0
	for e := b.head.Load(); e != nil && !e.nulls; e = e.next.Load() {
		n++
	}
	return n
}
