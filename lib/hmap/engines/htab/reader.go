package htab

// --------------------------------------------------------------------------
// Concurrent Reader Protocol
// --------------------------------------------------------------------------
//
// Readers never lock. They depend on three rules kept by the writers:
//
//   - An element is fully written (hash, key, value) before it is published
//     at a bucket head with an atomic store.
//   - An element that is rewritten while it may still be reachable, which
//     happens when a preallocated element is reused, is rewritten inside
//     its seqlock. A reader validates every copy against the seqlock.
//   - Every list ends in the sentinel of its bucket. A reader carried into
//     another bucket by a reused element ends on a foreign sentinel and
//     restarts.
//
// Dynamic tables additionally announce readers to the epoch domain, so an
// unlinked element is not reused while a reader may stand on it.

// readBegin enters a read-side critical section
func (t *Table) readBegin() readToken {
	if t.epoch != nil {
		return t.epoch.enter()
	}
	return readToken{}
}

// readEnd leaves a read-side critical section
func (t *Table) readEnd(tok readToken) {
	if t.epoch != nil {
		t.epoch.exit(tok)
	}
}

// lookupElem returns the element holding key, or nil.
// read, if set, is called with the element while its seqlock is held for
// reading and is repeated when the element was rewritten meanwhile.
// The caller must be inside a read-side critical section.
func (t *Table) lookupElem(hash uint32, key []byte, read func(e *element)) *element {
	idx := hash & t.mask
	b := &t.buckets[idx]

restart:
	for {
		e := b.head.Load()
		for !e.nulls {
			seq := e.seq.BeginRead()
			if e.hash.Load() == hash && e.key.Equal(key) {
				if read != nil {
					read(e)
				}
				if !e.seq.Retry(seq) {
					return e
				}
				t.stats.restarts.Inc()
				continue restart
			}
			next := e.next.Load()
			if next == nil {
				t.stats.restarts.Inc()
				continue restart
			}
			e = next
		}
		if e.nullsIdx == idx {
			return nil
		}
		t.stats.restarts.Inc()
	}
}

// copyKey copies the key of e into dst if e still belongs to bucket idx.
// It returns false if e moved or was rewritten during the copy.
func (t *Table) copyKey(e *element, idx uint32, dst []byte) bool {
	seq := e.seq.BeginRead()
	e.key.Load(dst)
	home := e.hash.Load()&t.mask == idx && e.state.Load() == memberInTable
	return !e.seq.Retry(seq) && home
}

// firstKey copies the first key of bucket idx. It returns false if the bucket is empty.
func (t *Table) firstKey(idx uint32, dst []byte) bool {
	b := &t.buckets[idx]
	for {
		e := b.head.Load()
		if e.nulls {
			return false
		}
		if t.copyKey(e, idx, dst) {
			return true
		}
	}
}

// --------------------------------------------------------------------------
// Iteration (NextKey)
// --------------------------------------------------------------------------

// NextKey returns the key following prev in iteration order.
// A nil prev, or a prev that is no longer in the table, yields the first key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// Entries inserted or deleted during an iteration may be skipped.
func (t *Table) NextKey(prev []byte) ([]byte, bool) {
	if t.closed.Load() {
		return nil, false
	}

	tok := t.readBegin()
	defer t.readEnd(tok)

	next := make([]byte, t.keySize)
	start := uint32(0)

	if prev != nil && len(prev) == t.keySize {
		hash := t.hashKey(prev)
		idx := hash & t.mask
		if e := t.lookupElem(hash, prev, nil); e != nil {
			// the rest of prev's bucket comes first
			for n := e.next.Load(); n != nil && !n.nulls; n = n.next.Load() {
				if t.copyKey(n, idx, next) {
					return next, true
				}
			}
			start = idx + 1
		}
	}

	for i := start; i < uint32(len(t.buckets)); i++ {
		if t.firstKey(i, next) {
			return next, true
		}
	}
	return nil, false
}
