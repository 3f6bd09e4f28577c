package htab

import (
	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/ValentinKolb/htab/lib/hmap/util"
)

// --------------------------------------------------------------------------
// Argument Checks
// --------------------------------------------------------------------------

// checkMode applies the precondition of an update mode
func checkMode(mode hmap.UpdateMode, exists bool) error {
	switch {
	case mode == hmap.CreateOnly && exists:
		return hmap.ErrAlreadyExists
	case mode == hmap.UpdateOnly && !exists:
		return hmap.ErrNotFound
	}
	return nil
}

// checkWrite validates the arguments common to every write
func (t *Table) checkWrite(key []byte, mode hmap.UpdateMode) error {
	if t.closed.Load() {
		return hmap.ErrClosed
	}
	if len(key) != t.keySize {
		return hmap.NewError(hmap.KindInvalidArgument, "key has %d bytes, expected %d", len(key), t.keySize)
	}
	if mode > hmap.UpdateOnly {
		return hmap.NewError(hmap.KindInvalidArgument, "unknown update mode %d", mode)
	}
	return nil
}

// concatSize returns the size of all per-CPU values laid out back to back
func (t *Table) concatSize() int {
	return t.nCPU * util.RoundUp8(t.valueSize)
}

// tableValue builds the value source of a table level update.
// Per-CPU tables accept either one value, stored on every CPU, or the
// values of all CPUs concatenated as returned by Lookup.
func (t *Table) tableValue(value []byte) (valueSource, error) {
	if !t.perCPU {
		if len(value) != t.valueSize {
			return valueSource{}, hmap.NewError(hmap.KindInvalidArgument, "value has %d bytes, expected %d", len(value), t.valueSize)
		}
		return valueSource{one: value}, nil
	}

	switch len(value) {
	case t.valueSize:
		all := make([][]byte, t.nCPU)
		for i := range all {
			all[i] = value
		}
		return valueSource{all: all}, nil
	case t.concatSize():
		stride := util.RoundUp8(t.valueSize)
		all := make([][]byte, t.nCPU)
		for i := range all {
			all[i] = value[i*stride : i*stride+t.valueSize]
		}
		return valueSource{all: all}, nil
	default:
		return valueSource{}, hmap.NewError(hmap.KindInvalidArgument,
			"value has %d bytes, expected %d or %d", len(value), t.valueSize, t.concatSize())
	}
}

// perCPUValues builds the value source of an update with one value per CPU
func (t *Table) perCPUValues(values [][]byte) (valueSource, error) {
	if !t.perCPU {
		if len(values) != 1 {
			return valueSource{}, hmap.NewError(hmap.KindInvalidArgument, "got %d values for a table without per-cpu values", len(values))
		}
		if len(values[0]) != t.valueSize {
			return valueSource{}, hmap.NewError(hmap.KindInvalidArgument, "value has %d bytes, expected %d", len(values[0]), t.valueSize)
		}
		return valueSource{one: values[0]}, nil
	}

	if len(values) != t.nCPU {
		return valueSource{}, hmap.NewError(hmap.KindInvalidArgument, "got %d values for %d cpus", len(values), t.nCPU)
	}
	for i, v := range values {
		if len(v) != t.valueSize {
			return valueSource{}, hmap.NewError(hmap.KindInvalidArgument, "value of cpu %d has %d bytes, expected %d", i, len(v), t.valueSize)
		}
	}
	return valueSource{all: values}, nil
}

// --------------------------------------------------------------------------
// Lookup
// --------------------------------------------------------------------------

// lookup runs read on the element holding key and reports whether it was found
func (t *Table) lookup(key []byte, read func(e *element)) bool {
	if t.closed.Load() || len(key) != t.keySize {
		return false
	}

	hash := t.hashKey(key)
	tok := t.readBegin()
	e := t.lookupElem(hash, key, read)
	t.readEnd(tok)

	if e == nil {
		t.stats.misses.Inc()
		return false
	}
	if t.lru != nil {
		touch(e)
	}
	t.stats.hits.Inc()
	return true
}

// Lookup returns a copy of the value stored for key.
// Per-CPU tables return the values of all CPUs concatenated, each padded to
// a multiple of 8 bytes.
//
// Thread-safety: This method is thread-safe and never blocks.
func (t *Table) Lookup(key []byte) ([]byte, bool) {
	size := t.valueSize
	if t.perCPU {
		size = t.concatSize()
	}

	var out []byte
	ok := t.lookup(key, func(e *element) {
		if out == nil {
			out = make([]byte, size)
		}
		e.value.Load(out)
	})
	if !ok {
		return nil, false
	}
	return out, true
}

// LookupPerCPU returns one copy of the value per CPU.
// Tables without per-CPU values return a single buffer.
//
// Thread-safety: This method is thread-safe and never blocks.
func (t *Table) LookupPerCPU(key []byte) ([][]byte, bool) {
	var out [][]byte
	ok := t.lookup(key, func(e *element) {
		if out == nil {
			out = t.newValueBuffers()
		}
		t.loadSlots(e, out)
	})
	if !ok {
		return nil, false
	}
	return out, true
}

func (t *Table) newValueBuffers() [][]byte {
	out := make([][]byte, t.valueSlots())
	for i := range out {
		out[i] = make([]byte, t.valueSize)
	}
	return out
}

// loadSlots copies every value slot of e into out
func (t *Table) loadSlots(e *element, out [][]byte) {
	if !t.perCPU {
		e.value.Load(out[0])
		return
	}
	for i := range out {
		t.slot(e, i).Load(out[i])
	}
}

// Lookup returns a copy of the value of key. On per-CPU tables it returns
// the value of this CPU only.
func (c *CPU) Lookup(key []byte) ([]byte, bool) {
	t := c.t
	var out []byte
	ok := t.lookup(key, func(e *element) {
		if out == nil {
			out = make([]byte, t.valueSize)
		}
		if t.perCPU {
			t.slot(e, c.id).Load(out)
		} else {
			e.value.Load(out)
		}
	})
	if !ok {
		return nil, false
	}
	return out, true
}

// --------------------------------------------------------------------------
// Update
// --------------------------------------------------------------------------

// Update stores value for key subject to mode.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// It pins a CPU for the duration of the call.
func (t *Table) Update(key, value []byte, mode hmap.UpdateMode) error {
	if err := t.checkWrite(key, mode); err != nil {
		return err
	}
	src, err := t.tableValue(value)
	if err != nil {
		return err
	}

	c := t.Pin()
	defer c.Unpin()
	return t.update(c, key, src, mode)
}

// UpdatePerCPU stores one value per CPU for key subject to mode
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) UpdatePerCPU(key []byte, values [][]byte, mode hmap.UpdateMode) error {
	if err := t.checkWrite(key, mode); err != nil {
		return err
	}
	src, err := t.perCPUValues(values)
	if err != nil {
		return err
	}

	c := t.Pin()
	defer c.Unpin()
	return t.update(c, key, src, mode)
}

// Update stores value for key subject to mode. On per-CPU tables only the
// slot of this CPU is written; a new entry starts with zero on other CPUs.
func (c *CPU) Update(key, value []byte, mode hmap.UpdateMode) error {
	t := c.t
	if err := t.checkWrite(key, mode); err != nil {
		return err
	}
	if len(value) != t.valueSize {
		return hmap.NewError(hmap.KindInvalidArgument, "value has %d bytes, expected %d", len(value), t.valueSize)
	}
	return t.update(c, key, valueSource{one: value, cpu: c.id}, mode)
}

// update is the write path shared by all update variants
func (t *Table) update(c *CPU, key []byte, src valueSource, mode hmap.UpdateMode) error {
	hash := t.hashKey(key)
	b := t.bucketFor(hash)

	if t.lru != nil {
		return t.updateLRU(c, b, hash, key, src, mode)
	}

	g, err := t.lockBucket(c, b, hash)
	if err != nil {
		return err
	}

	old, link := b.find(hash, key)
	if err := checkMode(mode, old != nil); err != nil {
		g.unlock()
		return err
	}

	// per-CPU values are updated in place
	if old != nil && t.perCPU {
		t.overwrite(old, src)
		g.unlock()
		t.stats.updates.Inc()
		return nil
	}

	n, err := t.acquire(c, old != nil)
	if err != nil {
		g.unlock()
		return err
	}
	created := src
	created.init = true
	t.fill(n, hash, key, created)

	var retired owned
	if old != nil {
		retired, err = b.replace(link, old, n)
	} else {
		err = b.link(n)
	}
	g.unlock()
	if err != nil {
		return err
	}

	if old != nil {
		if err := t.release(c, retired, true); err != nil {
			return err
		}
	}
	t.stats.updates.Inc()
	return nil
}

// updateLRU is the write path of LRU tables. The element for a new entry is
// obtained before the bucket lock is taken, because obtaining it may evict
// and the LRU lock must never be taken while a bucket lock is held.
func (t *Table) updateLRU(c *CPU, b *bucket, hash uint32, key []byte, src valueSource, mode hmap.UpdateMode) error {
	if c.holdsLocks() {
		return hmap.ErrWouldDeadlock
	}

	// the mode is checked before an element is obtained, since obtaining one
	// may evict. An existing entry is updated in place without touching the LRU.
	if t.lookupElem(hash, key, nil) != nil {
		if mode == hmap.CreateOnly {
			return hmap.ErrAlreadyExists
		}
		g, err := t.lockBucket(c, b, hash)
		if err != nil {
			return err
		}
		if cur, _ := b.find(hash, key); cur != nil {
			t.overwrite(cur, src)
			touch(cur)
			g.unlock()
			t.stats.updates.Inc()
			return nil
		}
		g.unlock()
	} else if mode == hmap.UpdateOnly {
		return hmap.ErrNotFound
	}

	n, err := t.acquire(c, false)
	if err != nil {
		return err
	}
	created := src
	created.init = true
	t.fill(n, hash, key, created)

	g, err := t.lockBucket(c, b, hash)
	if err != nil {
		return joinErr(err, t.release(c, n, false))
	}

	old, link := b.find(hash, key)
	if err := checkMode(mode, old != nil); err != nil {
		g.unlock()
		return joinErr(err, t.release(c, n, false))
	}

	if old != nil && t.perCPU {
		t.overwrite(old, src)
		touch(old)
		g.unlock()
		t.stats.updates.Inc()
		return t.release(c, n, false)
	}

	var retired owned
	if old != nil {
		retired, err = b.replace(link, old, n)
		touch(n.e)
	} else {
		err = b.link(n)
	}
	g.unlock()
	if err != nil {
		return err
	}

	if old != nil {
		if err := t.release(c, retired, false); err != nil {
			return err
		}
	}
	t.stats.updates.Inc()
	return nil
}

// joinErr returns err, or internal if it reports a broken invariant
func joinErr(err, internal error) error {
	if internal != nil {
		return internal
	}
	return err
}

// --------------------------------------------------------------------------
// Delete
// --------------------------------------------------------------------------

// Delete removes key. It returns ErrNotFound if the key is absent.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Delete(key []byte) error {
	if err := t.checkWrite(key, hmap.Upsert); err != nil {
		return err
	}
	c := t.Pin()
	defer c.Unpin()
	return t.delete(c, key)
}

// Delete removes key on behalf of this CPU
func (c *CPU) Delete(key []byte) error {
	if err := c.t.checkWrite(key, hmap.Upsert); err != nil {
		return err
	}
	return c.t.delete(c, key)
}

func (t *Table) delete(c *CPU, key []byte) error {
	// freed LRU elements go back through the LRU lock
	if t.lru != nil && c.holdsLocks() {
		return hmap.ErrWouldDeadlock
	}

	hash := t.hashKey(key)
	b := t.bucketFor(hash)
	g, err := t.lockBucket(c, b, hash)
	if err != nil {
		return err
	}

	e, link := b.find(hash, key)
	if e == nil {
		g.unlock()
		return hmap.ErrNotFound
	}
	o, err := b.unlink(link, e)
	g.unlock()
	if err != nil {
		return err
	}

	t.stats.deletes.Inc()
	return t.release(c, o, false)
}

// --------------------------------------------------------------------------
// Eviction (LRU)
// --------------------------------------------------------------------------

// evictElement unlinks e from its bucket on behalf of the LRU engine, which
// holds the LRU lock of e. It reports false if e is not in the table or its
// bucket is busy.
func (t *Table) evictElement(c *CPU, e *element) bool {
	hash := e.hash.Load()
	b := t.bucketFor(hash)
	g, err := t.lockBucket(c, b, hash)
	if err != nil {
		return false
	}

	link := b.linkTo(e)
	if link == nil {
		g.unlock()
		return false
	}
	if _, err := b.unlink(link, e); err != nil {
		g.unlock()
		Logger.Warningf("table %q: evicting element failed: %v", t.name, err)
		return false
	}

	if t.evictHook != nil {
		key := make([]byte, t.keySize)
		e.key.Load(key)
		value := make([]byte, t.valueSize)
		if t.perCPU {
			value = make([]byte, t.concatSize())
		}
		e.value.Load(value)
		t.evictHook(c, key, value)
	}
	g.unlock()

	t.count.Add(-1)
	t.stats.evictions.Inc()
	return true
}
