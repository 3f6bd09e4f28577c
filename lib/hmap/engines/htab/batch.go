package htab

import (
	"runtime"

	"github.com/ValentinKolb/htab/lib/hmap"
)

// Number of times a batch retries a busy bucket before giving up
const batchRetries = 3

// --------------------------------------------------------------------------
// Batch Operations
// --------------------------------------------------------------------------

// LookupBatch copies the entries of whole buckets, starting at bucket cursor,
// until the next bucket would exceed maxCount entries. It returns the
// bucket to continue from. Reaching the end of the table returns ErrNotFound
// together with the entries of the last buckets. If the first non-empty
// bucket alone holds more than maxCount entries the call fails with ErrNoSpace.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// Each bucket is locked while it is copied.
func (t *Table) LookupBatch(cursor uint32, maxCount int) ([]hmap.Entry, uint32, error) {
	if t.closed.Load() {
		return nil, cursor, hmap.ErrClosed
	}
	c := t.Pin()
	defer c.Unpin()
	return t.batch(c, cursor, maxCount, false)
}

// LookupAndDeleteBatch works like LookupBatch and removes the returned entries
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) LookupAndDeleteBatch(cursor uint32, maxCount int) ([]hmap.Entry, uint32, error) {
	if t.closed.Load() {
		return nil, cursor, hmap.ErrClosed
	}
	c := t.Pin()
	defer c.Unpin()
	return t.batch(c, cursor, maxCount, true)
}

// LookupBatch runs a batch lookup on behalf of this CPU
func (c *CPU) LookupBatch(cursor uint32, maxCount int) ([]hmap.Entry, uint32, error) {
	if c.t.closed.Load() {
		return nil, cursor, hmap.ErrClosed
	}
	return c.t.batch(c, cursor, maxCount, false)
}

// LookupAndDeleteBatch runs a batch lookup and delete on behalf of this CPU
func (c *CPU) LookupAndDeleteBatch(cursor uint32, maxCount int) ([]hmap.Entry, uint32, error) {
	if c.t.closed.Load() {
		return nil, cursor, hmap.ErrClosed
	}
	return c.t.batch(c, cursor, maxCount, true)
}

func (t *Table) batch(c *CPU, cursor uint32, maxCount int, del bool) ([]hmap.Entry, uint32, error) {
	if maxCount <= 0 {
		return nil, cursor, hmap.NewError(hmap.KindInvalidArgument, "batch size must be positive, got %d", maxCount)
	}
	nBuckets := uint32(len(t.buckets))
	if cursor >= nBuckets {
		return nil, cursor, hmap.ErrNotFound
	}
	if del && t.lru != nil && c.holdsLocks() {
		return nil, cursor, hmap.ErrWouldDeadlock
	}

	entries := make([]hmap.Entry, 0, min(maxCount, 64))
	var freed []owned

	for idx := cursor; idx < nBuckets; idx++ {
		b := &t.buckets[idx]
		if b.head.Load().nulls {
			continue
		}

		g, err := t.lockBucketRetry(c, b, idx)
		if err != nil {
			return entries, idx, err
		}

		n := b.length()
		if n == 0 {
			g.unlock()
			continue
		}
		if len(entries)+n > maxCount {
			g.unlock()
			if len(entries) == 0 {
				return nil, idx, hmap.NewError(hmap.KindNoSpace, "bucket %d holds %d entries, batch size is %d", idx, n, maxCount)
			}
			return entries, idx, nil
		}

		link := &b.head
		for e := link.Load(); !e.nulls; e = link.Load() {
			entries = append(entries, t.entryOf(e))
			if !del {
				link = &e.next
				continue
			}
			o, err := b.unlink(link, e)
			if err != nil {
				g.unlock()
				return entries, idx, err
			}
			freed = append(freed, o)
		}
		g.unlock()

		// elements are released only after the bucket lock is dropped
		for _, o := range freed {
			if err := t.release(c, o, false); err != nil {
				return entries, idx + 1, err
			}
			t.stats.deletes.Inc()
		}
		freed = freed[:0]
	}

	return entries, nBuckets, hmap.ErrNotFound
}

// lockBucketRetry locks bucket idx, retrying a few times when it is busy
func (t *Table) lockBucketRetry(c *CPU, b *bucket, idx uint32) (bucketGuard, error) {
	for attempt := 0; ; attempt++ {
		g, err := t.lockBucket(c, b, idx)
		if err == nil || attempt >= batchRetries {
			return g, err
		}
		runtime.Gosched()
	}
}

// entryOf copies an element, bucket lock held
func (t *Table) entryOf(e *element) hmap.Entry {
	entry := hmap.Entry{Key: make([]byte, t.keySize)}
	e.key.Load(entry.Key)
	if t.perCPU {
		entry.Values = t.newValueBuffers()
		t.loadSlots(e, entry.Values)
	} else {
		entry.Value = make([]byte, t.valueSize)
		e.value.Load(entry.Value)
	}
	return entry
}

// --------------------------------------------------------------------------
// ForEach
// --------------------------------------------------------------------------

// walk visits every entry without locks. copyOut copies the entry into
// buffers owned by the caller and visit consumes them; visit is only called
// for copies that were not torn by a concurrent rewrite.
func (t *Table) walk(key []byte, copyOut func(e *element), visit func() bool) int {
	if t.closed.Load() {
		return 0
	}

	tok := t.readBegin()
	defer t.readEnd(tok)

	visited := 0
	for idx := range t.buckets {
		b := &t.buckets[idx]
		for e := b.head.Load(); e != nil && !e.nulls; e = e.next.Load() {
			seq := e.seq.BeginRead()
			e.key.Load(key)
			copyOut(e)
			home := e.hash.Load()&t.mask == uint32(idx) && e.state.Load() == memberInTable
			if e.seq.Retry(seq) || !home {
				continue
			}
			visited++
			if !visit() {
				return visited
			}
		}
	}
	return visited
}

// ForEach calls fn for every entry until fn returns false and returns the
// number of entries visited. Per-CPU tables pass the values of all CPUs
// concatenated. fn must not retain key or value.
//
// Thread-safety: This method is thread-safe and never locks. Entries
// inserted or deleted during the walk may be skipped.
func (t *Table) ForEach(fn func(key, value []byte) bool) int {
	key := make([]byte, t.keySize)
	size := t.valueSize
	if t.perCPU {
		size = t.concatSize()
	}
	value := make([]byte, size)

	return t.walk(key,
		func(e *element) { e.value.Load(value) },
		func() bool { return fn(key, value) })
}

// ForEachPerCPU calls fn for every entry with one value per CPU
func (t *Table) ForEachPerCPU(fn func(key []byte, values [][]byte) bool) int {
	key := make([]byte, t.keySize)
	values := t.newValueBuffers()

	return t.walk(key,
		func(e *element) { t.loadSlots(e, values) },
		func() bool { return fn(key, values) })
}

// ForEach calls fn for every entry with the value of this CPU
func (c *CPU) ForEach(fn func(key, value []byte) bool) int {
	t := c.t
	key := make([]byte, t.keySize)
	value := make([]byte, t.valueSize)

	return t.walk(key,
		func(e *element) {
			if t.perCPU {
				t.slot(e, c.id).Load(value)
			} else {
				e.value.Load(value)
			}
		},
		func() bool { return fn(key, value) })
}
