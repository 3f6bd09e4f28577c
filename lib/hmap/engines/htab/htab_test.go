package htab

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// key pads s to a key of 8 bytes
func key(s string) []byte {
	k := make([]byte, 8)
	copy(k, s)
	return k
}

// val encodes v as a value of 8 bytes
func val(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// newTestTable creates a table with 8 byte keys and values
func newTestTable(t *testing.T, modify func(o *Options)) *Table {
	t.Helper()
	opts := DefaultOptions()
	opts.Name = "test"
	opts.KeySize = 8
	opts.ValueSize = 8
	if modify != nil {
		modify(opts)
	}
	tbl, err := NewTable(opts)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	t.Cleanup(func() {
		tbl.Close()
	})
	return tbl
}

func mustUpdate(t *testing.T, tbl *Table, k []byte, v uint64, mode hmap.UpdateMode) {
	t.Helper()
	if err := tbl.Update(k, val(v), mode); err != nil {
		t.Fatalf("Update(%q) failed: %v", k, err)
	}
}

func expectValue(t *testing.T, tbl *Table, k []byte, want uint64) {
	t.Helper()
	got, ok := tbl.Lookup(k)
	if !ok {
		t.Fatalf("Lookup(%q): key not found", k)
	}
	if !bytes.Equal(got, val(want)) {
		t.Errorf("Lookup(%q) = %v, want %v", k, got, val(want))
	}
}

// --------------------------------------------------------------------------
// Capacity and Eviction
// --------------------------------------------------------------------------

func TestPlainCapacity(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 2
	})

	mustUpdate(t, tbl, key("a"), 1, hmap.Upsert)
	mustUpdate(t, tbl, key("b"), 2, hmap.Upsert)

	if err := tbl.Update(key("c"), val(3), hmap.Upsert); !errors.Is(err, hmap.ErrOutOfCapacity) {
		t.Fatalf("Expected ErrOutOfCapacity, got %v", err)
	}
	if err := tbl.Delete(key("a")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	mustUpdate(t, tbl, key("c"), 3, hmap.Upsert)

	expectValue(t, tbl, key("b"), 2)
	expectValue(t, tbl, key("c"), 3)
	if _, ok := tbl.Lookup(key("a")); ok {
		t.Error("Deleted key a is still present")
	}
}

func TestReplaceInFullTable(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 4
		o.NumCPU = 1
	})

	for i := 0; i < 4; i++ {
		mustUpdate(t, tbl, val(uint64(i)), uint64(i), hmap.CreateOnly)
	}

	// every replacement swaps the spare element with the replaced one
	for round := 0; round < 10; round++ {
		for i := 0; i < 4; i++ {
			mustUpdate(t, tbl, val(uint64(i)), uint64(round*10+i), hmap.Upsert)
		}
	}
	for i := 0; i < 4; i++ {
		expectValue(t, tbl, val(uint64(i)), uint64(90+i))
	}

	if tbl.Len() != 4 {
		t.Errorf("Expected 4 entries, got %d", tbl.Len())
	}
	if free := tbl.Info().Metadata.(Metadata).FreeElements; free != 0 {
		t.Errorf("Expected no free elements, got %d", free)
	}
}

func TestLRUSecondChance(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 2
		o.Variant = hmap.LRU
	})

	mustUpdate(t, tbl, key("a"), 1, hmap.Upsert)
	mustUpdate(t, tbl, key("b"), 2, hmap.Upsert)

	// a is referenced and survives, b is evicted
	expectValue(t, tbl, key("a"), 1)
	mustUpdate(t, tbl, key("c"), 3, hmap.Upsert)

	expectValue(t, tbl, key("a"), 1)
	expectValue(t, tbl, key("c"), 3)
	if _, ok := tbl.Lookup(key("b")); ok {
		t.Error("Expected b to be evicted")
	}
	if n := tbl.Info().Metadata.(Metadata).Counters.Evictions; n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}
}

func TestLRUUpdateOnlyAbsent(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 2
		o.Variant = hmap.LRU
	})

	mustUpdate(t, tbl, key("a"), 1, hmap.Upsert)
	mustUpdate(t, tbl, key("b"), 2, hmap.Upsert)

	// a rejected update must not evict anything
	if err := tbl.Update(key("x"), val(9), hmap.UpdateOnly); !errors.Is(err, hmap.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if err := tbl.Update(key("a"), val(9), hmap.CreateOnly); !errors.Is(err, hmap.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	expectValue(t, tbl, key("a"), 1)
	expectValue(t, tbl, key("b"), 2)
}

func TestLRUCreateOnlyExisting(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 2
		o.NumCPU = 1
		o.Variant = hmap.LRU
	})

	mustUpdate(t, tbl, key("a"), 1, hmap.CreateOnly)
	mustUpdate(t, tbl, key("b"), 2, hmap.CreateOnly)

	// the table is full, so obtaining an element would evict a
	if err := tbl.Update(key("a"), val(9), hmap.CreateOnly); !errors.Is(err, hmap.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	expectValue(t, tbl, key("a"), 1)
	expectValue(t, tbl, key("b"), 2)
	if n := tbl.Info().Metadata.(Metadata).Counters.Evictions; n != 0 {
		t.Errorf("Expected no evictions, got %d", n)
	}
}

func TestLRUConcurrentInserts(t *testing.T) {
	const maxEntries = 256
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = maxEntries
		o.Variant = hmap.LRU
		o.NumCPU = 4
	})

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				k := val(uint64(w<<16 | i))
				if err := tbl.Update(k, k, hmap.Upsert); err != nil {
					return err
				}
				if i%3 == 0 {
					tbl.Lookup(val(uint64(w<<16 | i/2)))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Concurrent insert failed: %v", err)
	}

	if n := tbl.Len(); n != maxEntries {
		t.Errorf("Expected %d live entries, got %d", maxEntries, n)
	}
	visited := tbl.ForEach(func(k, v []byte) bool {
		if !bytes.Equal(k, v) {
			t.Errorf("Entry %v holds value %v", k, v)
		}
		return true
	})
	if visited != maxEntries {
		t.Errorf("ForEach visited %d entries, expected %d", visited, maxEntries)
	}
}

func TestDynamicHardCap(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 3
		o.Allocation = hmap.Dynamic
	})

	for i := 0; i < 3; i++ {
		mustUpdate(t, tbl, val(uint64(i)), uint64(i), hmap.Upsert)
	}
	if err := tbl.Update(val(3), val(3), hmap.Upsert); !errors.Is(err, hmap.ErrOutOfCapacity) {
		t.Fatalf("Expected ErrOutOfCapacity, got %v", err)
	}
	if tbl.Len() != 3 {
		t.Errorf("A failed insert changed the live count to %d", tbl.Len())
	}

	// replacing does not count against the limit
	mustUpdate(t, tbl, val(0), 10, hmap.Upsert)
	expectValue(t, tbl, val(0), 10)
}

func TestDynamicReclaim(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEntries = 16
	opts.Allocation = hmap.Dynamic
	tbl, err := NewTable(opts)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	const rounds = 100
	for i := 0; i < rounds; i++ {
		mustUpdate(t, tbl, val(1), uint64(i), hmap.Upsert)
		if err := tbl.Delete(val(1)); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
	}

	// Close waits for the reclaimer to drain the retire queue
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	meta := tbl.Info().Metadata.(Metadata)
	if meta.Reclaimed != rounds {
		t.Errorf("Expected %d reclaimed elements, got %d", rounds, meta.Reclaimed)
	}
	if meta.GracePeriods == 0 {
		t.Error("Expected at least one grace period")
	}
}

// --------------------------------------------------------------------------
// Execution Contexts
// --------------------------------------------------------------------------

func TestPinUnpin(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.NumCPU = 2
	})

	c1 := tbl.Pin()
	c2, ok := tbl.TryPin()
	if !ok {
		t.Fatal("TryPin should succeed while a CPU is idle")
	}
	if c1.ID() == c2.ID() {
		t.Errorf("Both pins returned CPU %d", c1.ID())
	}
	if c1.Table() != tbl {
		t.Error("CPU reports the wrong table")
	}

	if _, ok := tbl.TryPin(); ok {
		t.Fatal("TryPin should fail while all CPUs are pinned")
	}

	c1.Unpin()
	c1.Unpin() // no-op
	c3, ok := tbl.TryPin()
	if !ok || c3 != c1 {
		t.Fatal("Expected the unpinned CPU back")
	}
	if _, ok := tbl.TryPin(); ok {
		t.Error("Double Unpin must not make a CPU available twice")
	}
	c2.Unpin()
	c3.Unpin()
}

func TestPerCPUValues(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.PerCPU = true
		o.NumCPU = 3
	})
	k := key("k")

	c := tbl.Pin()
	if err := c.Update(k, val(7), hmap.CreateOnly); err != nil {
		t.Fatalf("CPU update failed: %v", err)
	}
	own := c.ID()
	c.Unpin()

	values, ok := tbl.LookupPerCPU(k)
	if !ok || len(values) != 3 {
		t.Fatalf("LookupPerCPU returned %d values, ok=%v", len(values), ok)
	}
	for i, v := range values {
		want := val(0)
		if i == own {
			want = val(7)
		}
		if !bytes.Equal(v, want) {
			t.Errorf("CPU %d: expected %v, got %v", i, want, v)
		}
	}

	// a second CPU writes its own slot and leaves the others alone
	c = tbl.Pin()
	for c.ID() == own {
		other := tbl.Pin()
		c.Unpin()
		c = other
	}
	if err := c.Update(k, val(8), hmap.UpdateOnly); err != nil {
		t.Fatalf("CPU update failed: %v", err)
	}
	if v, _ := c.Lookup(k); !bytes.Equal(v, val(8)) {
		t.Errorf("CPU %d sees %v, expected its own value", c.ID(), v)
	}
	second := c.ID()
	c.Unpin()

	values, _ = tbl.LookupPerCPU(k)
	if !bytes.Equal(values[own], val(7)) || !bytes.Equal(values[second], val(8)) {
		t.Errorf("Unexpected per-CPU values %v", values)
	}

	// a single value is written to every CPU
	mustUpdate(t, tbl, k, 9, hmap.Upsert)
	concat, _ := tbl.Lookup(k)
	if !bytes.Equal(concat, bytes.Repeat(val(9), 3)) {
		t.Errorf("Expected value 9 on every CPU, got %v", concat)
	}
}

func TestUpdatePerCPUPlainTable(t *testing.T) {
	tbl := newTestTable(t, nil)

	if err := tbl.UpdatePerCPU(key("k"), [][]byte{val(1)}, hmap.Upsert); err != nil {
		t.Fatalf("UpdatePerCPU with one value failed: %v", err)
	}
	if err := tbl.UpdatePerCPU(key("k"), [][]byte{val(1), val(2)}, hmap.Upsert); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	values, ok := tbl.LookupPerCPU(key("k"))
	if !ok || len(values) != 1 || !bytes.Equal(values[0], val(1)) {
		t.Errorf("Unexpected values %v", values)
	}
}

// --------------------------------------------------------------------------
// Reentrancy
// --------------------------------------------------------------------------

func TestLockBucketReentrancy(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 16
		o.NumCPU = 1
	})
	c := tbl.Pin()
	defer c.Unpin()

	b0, b1, b8 := &tbl.buckets[0], &tbl.buckets[1], &tbl.buckets[8]

	g0, err := tbl.lockBucket(c, b0, 0)
	if err != nil {
		t.Fatalf("First lock failed: %v", err)
	}

	// same stripe, different bucket
	if _, err := tbl.lockBucket(c, b8, 8); !errors.Is(err, hmap.ErrBusy) {
		t.Errorf("Expected ErrBusy for a held stripe, got %v", err)
	}

	// a nested lock does not wait for a bucket held elsewhere
	b1.mu.Lock()
	if _, err := tbl.lockBucket(c, b1, 1); !errors.Is(err, hmap.ErrBusy) {
		t.Errorf("Expected ErrBusy for a taken bucket, got %v", err)
	}
	b1.mu.Unlock()

	g1, err := tbl.lockBucket(c, b1, 1)
	if err != nil {
		t.Fatalf("Nested lock of a free bucket failed: %v", err)
	}
	if c.held != 2 {
		t.Errorf("Expected 2 held locks, got %d", c.held)
	}

	g1.unlock()
	g0.unlock()
	if c.holdsLocks() {
		t.Error("CPU still holds locks after unlock")
	}
	if busy := tbl.stats.busy.Value(); busy != 2 {
		t.Errorf("Expected 2 busy events, got %d", busy)
	}
}

func TestLockStripePerBucket(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 4
		o.BucketCountHint = 4
		o.NumCPU = 1
	})

	// point operations lock by hash, batches by bucket index
	for h := uint32(0); h < 256; h++ {
		if got, want := tbl.lockStripe(h), tbl.lockStripe(h&tbl.mask); got != want {
			t.Fatalf("Hash %d uses stripe %d, its bucket uses stripe %d", h, got, want)
		}
	}

	c := tbl.Pin()
	defer c.Unpin()

	hash := tbl.mask + 2
	idx := hash & tbl.mask
	g, err := tbl.lockBucket(c, tbl.bucketFor(hash), hash)
	if err != nil {
		t.Fatalf("Lock by hash failed: %v", err)
	}
	if c.locked[idx&lockStripeMask] != 1 {
		t.Errorf("Expected stripe %d to be held", idx&lockStripeMask)
	}
	if _, err := tbl.lockBucket(c, &tbl.buckets[idx], idx); !errors.Is(err, hmap.ErrBusy) {
		t.Errorf("Expected ErrBusy when locking the held bucket by index, got %v", err)
	}
	g.unlock()
	if c.holdsLocks() {
		t.Error("CPU still holds locks after unlock")
	}
}

func TestEvictHook(t *testing.T) {
	type evicted struct {
		key, value []byte
	}
	var got []evicted
	var nested []error
	var tbl *Table

	tbl = newTestTable(t, func(o *Options) {
		o.MaxEntries = 2
		o.BucketCountHint = 1
		o.NumCPU = 1
		o.Variant = hmap.LRU
		o.EvictHook = func(c *CPU, k, v []byte) {
			got = append(got, evicted{append([]byte(nil), k...), append([]byte(nil), v...)})

			if _, ok := c.Lookup(key("b")); !ok {
				t.Error("Lookup inside the hook should find b")
			}
			nested = append(nested,
				c.Delete(key("b")),
				c.Update(key("x"), val(0), hmap.Upsert),
			)
			_, _, err := c.LookupBatch(0, 10)
			nested = append(nested, err)
		}
	})

	mustUpdate(t, tbl, key("a"), 1, hmap.Upsert)
	mustUpdate(t, tbl, key("b"), 2, hmap.Upsert)
	mustUpdate(t, tbl, key("c"), 3, hmap.Upsert)

	if len(got) != 1 {
		t.Fatalf("Expected one eviction, got %d", len(got))
	}
	if !bytes.Equal(got[0].key, key("a")) || !bytes.Equal(got[0].value, val(1)) {
		t.Errorf("Unexpected evicted entry %v=%v", got[0].key, got[0].value)
	}
	for i, err := range nested {
		if !errors.Is(err, hmap.ErrBusy) {
			t.Errorf("Nested operation %d: expected ErrBusy, got %v", i, err)
		}
	}

	expectValue(t, tbl, key("b"), 2)
	expectValue(t, tbl, key("c"), 3)
}

func TestLRURefusesWhileLocked(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.Variant = hmap.LRU
		o.NumCPU = 1
	})
	c := tbl.Pin()
	defer c.Unpin()

	g, err := tbl.lockBucket(c, &tbl.buckets[0], 0)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer g.unlock()

	if _, err := tbl.lru.popFree(c); !errors.Is(err, hmap.ErrWouldDeadlock) {
		t.Errorf("popFree: expected ErrWouldDeadlock, got %v", err)
	}
	if _, _, err := c.LookupAndDeleteBatch(0, 10); !errors.Is(err, hmap.ErrWouldDeadlock) {
		t.Errorf("LookupAndDeleteBatch: expected ErrWouldDeadlock, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Element Membership
// --------------------------------------------------------------------------

func TestMembershipTransitions(t *testing.T) {
	tbl := newTestTable(t, nil)
	e := tbl.newElement()

	o, err := claim(e)
	if err != nil {
		t.Fatalf("claim of a free element failed: %v", err)
	}
	if _, err := claim(e); err == nil {
		t.Error("An owned element must not be claimed twice")
	}

	b := &tbl.buckets[0]
	if err := b.link(o); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if err := b.link(o); err == nil {
		t.Error("An element must not be linked twice")
	}
	if err := e.transition(memberOwned, memberFree); err == nil {
		t.Error("An element in the table must not be released")
	} else if !errors.Is(err, &hmap.Error{Kind: hmap.KindInternal}) {
		t.Errorf("Expected an internal error, got %v", err)
	}

	if _, err := b.unlink(&b.head, e); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if b.head.Load() != &b.nulls {
		t.Error("Bucket should be empty after unlink")
	}
}

// --------------------------------------------------------------------------
// Iteration and Batches
// --------------------------------------------------------------------------

func TestNextKeyAbsentPrev(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.ZeroSeed = true
	})
	for i := 0; i < 10; i++ {
		mustUpdate(t, tbl, val(uint64(i)), uint64(i), hmap.Upsert)
	}

	first, ok := tbl.NextKey(nil)
	if !ok {
		t.Fatal("NextKey(nil) found nothing")
	}
	again, ok := tbl.NextKey(key("missing"))
	if !ok || !bytes.Equal(first, again) {
		t.Errorf("NextKey of an absent key should restart: %v != %v", again, first)
	}
}

func TestBatchWholeBuckets(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.BucketCountHint = 1
	})
	for i := 0; i < 3; i++ {
		mustUpdate(t, tbl, val(uint64(i)), uint64(i), hmap.Upsert)
	}

	entries, cursor, err := tbl.LookupBatch(0, 2)
	if !errors.Is(err, hmap.ErrNoSpace) || entries != nil || cursor != 0 {
		t.Fatalf("Expected ErrNoSpace without entries, got %d entries, cursor %d, err %v", len(entries), cursor, err)
	}

	entries, cursor, err = tbl.LookupBatch(0, 3)
	if !errors.Is(err, hmap.ErrNotFound) || len(entries) != 3 || cursor != 1 {
		t.Fatalf("Expected the whole bucket and ErrNotFound, got %d entries, cursor %d, err %v", len(entries), cursor, err)
	}

	if _, _, err := tbl.LookupBatch(1, 3); !errors.Is(err, hmap.ErrNotFound) {
		t.Errorf("Cursor past the end: expected ErrNotFound, got %v", err)
	}
	if _, _, err := tbl.LookupBatch(0, 0); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Zero batch size: expected ErrInvalidArgument, got %v", err)
	}

	entries, _, _ = tbl.LookupAndDeleteBatch(0, 3)
	if len(entries) != 3 || tbl.Len() != 0 {
		t.Errorf("LookupAndDeleteBatch returned %d entries and left %d", len(entries), tbl.Len())
	}
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
	}{
		{"ZeroKeySize", func(o *Options) { o.KeySize = 0 }},
		{"HugeKeySize", func(o *Options) { o.KeySize = maxKeySize + 1 }},
		{"ZeroValueSize", func(o *Options) { o.ValueSize = 0 }},
		{"ZeroMaxEntries", func(o *Options) { o.MaxEntries = 0 }},
		{"NegativeBucketHint", func(o *Options) { o.BucketCountHint = -1 }},
		{"NegativeCPUs", func(o *Options) { o.NumCPU = -1 }},
		{"UnknownVariant", func(o *Options) { o.Variant = 7 }},
		{"UnknownAllocation", func(o *Options) { o.Allocation = 7 }},
		{"DynamicLRU", func(o *Options) { o.Variant = hmap.LRU; o.Allocation = hmap.Dynamic }},
		{"PerCPULRUWithoutLRU", func(o *Options) { o.PerCPULRU = true }},
		{"EvictHookWithoutLRU", func(o *Options) { o.EvictHook = func(*CPU, []byte, []byte) {} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(opts)
			if _, err := NewTable(opts); !errors.Is(err, hmap.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	tbl, err := NewTable(nil)
	if err != nil {
		t.Fatalf("NewTable(nil) failed: %v", err)
	}
	defer tbl.Close()

	if tbl.KeySize() != 8 || tbl.ValueSize() != 8 || tbl.NumCPU() < 1 {
		t.Errorf("Unexpected defaults: key %d, value %d, cpus %d", tbl.KeySize(), tbl.ValueSize(), tbl.NumCPU())
	}
	if n := len(tbl.buckets); n != 1024 {
		t.Errorf("Expected 1024 buckets, got %d", n)
	}

	// per-cpu lru lists round the capacity up to a multiple of the cpu count
	lru := newTestTable(t, func(o *Options) {
		o.MaxEntries = 5
		o.NumCPU = 4
		o.Variant = hmap.LRU
		o.PerCPULRU = true
	})
	if n := lru.Options().MaxEntries; n != 8 {
		t.Errorf("Expected capacity 8, got %d", n)
	}
	if n := lru.Info().MaxEntries; n != 8 {
		t.Errorf("Info reports capacity %d, expected 8", n)
	}
}

func TestOptionsString(t *testing.T) {
	opts := DefaultOptions()
	opts.Variant = hmap.LRU
	s := opts.String()

	for _, want := range []string{"TABLE", "SIZES", "CONCURRENCY", "lru", "Per-CPU LRU Lists", "1024"} {
		if !strings.Contains(s, want) {
			t.Errorf("Options string lacks %q:\n%s", want, s)
		}
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

func TestInfo(t *testing.T) {
	tbl := newTestTable(t, func(o *Options) {
		o.MaxEntries = 100
	})
	mustUpdate(t, tbl, key("a"), 1, hmap.Upsert)
	tbl.Lookup(key("a"))
	tbl.Lookup(key("b"))

	info := tbl.Info()
	if info.MapType != hmap.ImplHTab || info.Variant != "plain" || info.Allocation != "preallocated" {
		t.Errorf("Unexpected type information %+v", info)
	}
	if info.Buckets != 128 || info.MaxEntries != 100 || info.LiveCount != 1 {
		t.Errorf("Unexpected sizes: buckets %d, max %d, live %d", info.Buckets, info.MaxEntries, info.LiveCount)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("Expected a positive size, got %d", info.SizeBytes)
	}
	if tbl.SupportsFeature(hmap.FeatureEviction) || !tbl.SupportsFeature(hmap.FeatureBatch|hmap.FeatureNextKey) {
		t.Error("Unexpected feature set")
	}

	meta := info.Metadata.(Metadata)
	if meta.Counters.Hits != 1 || meta.Counters.Misses != 1 || meta.Counters.Updates != 1 {
		t.Errorf("Unexpected counters %+v", meta.Counters)
	}
	if meta.LongestChain != 1 {
		t.Errorf("Expected longest chain 1, got %d", meta.LongestChain)
	}
}

func TestWritePrometheus(t *testing.T) {
	tbl := newTestTable(t, nil)
	mustUpdate(t, tbl, key("a"), 1, hmap.Upsert)
	tbl.Lookup(key("a"))

	var buf bytes.Buffer
	tbl.WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		`htab_lookups_total{map="test",result="hit"} 1`,
		`htab_lookups_total{map="test",result="miss"} 0`,
		`htab_updates_total{map="test"} 1`,
		`htab_live_entries{map="test"} 1`,
		`htab_max_entries{map="test"} 1024`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Metrics lack %q:\n%s", want, out)
		}
	}
}

// --------------------------------------------------------------------------
// Differential test
// --------------------------------------------------------------------------

// TestAgainstModel runs random operations from several goroutines, each on its
// own key range, and compares the table with a concurrent reference map
func TestAgainstModel(t *testing.T) {
	for _, v := range variants {
		if v.name == "LRU" || v.name == "LRUPerCPU" || v.name == "LRUPerCPULists" {
			continue
		}
		t.Run(v.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.KeySize = 8
			opts.ValueSize = 8
			opts.MaxEntries = 1024
			v.modify(opts)
			tbl, err := NewTable(opts)
			if err != nil {
				t.Fatalf("NewTable failed: %v", err)
			}
			defer tbl.Close()

			model := xsync.NewMapOf[uint64, uint64]()

			var g errgroup.Group
			for w := 0; w < 4; w++ {
				w := w
				g.Go(func() error {
					rnd := uint64(w)*0x9e3779b97f4a7c15 + 1
					for i := 0; i < 2000; i++ {
						rnd ^= rnd << 13
						rnd ^= rnd >> 7
						rnd ^= rnd << 17
						k := uint64(w)<<32 | rnd%64
						switch rnd % 3 {
						case 0:
							if err := tbl.Delete(val(k)); err == nil {
								model.Delete(k)
							} else if !errors.Is(err, hmap.ErrNotFound) {
								return err
							}
						default:
							if err := tbl.Update(val(k), val(rnd), hmap.Upsert); err != nil {
								return err
							}
							model.Store(k, rnd)
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("Operation failed: %v", err)
			}

			if tbl.Len() != model.Size() {
				t.Errorf("Table holds %d entries, model %d", tbl.Len(), model.Size())
			}
			model.Range(func(k, want uint64) bool {
				got, ok := tbl.LookupPerCPU(val(k))
				if !ok {
					t.Errorf("Key %x missing", k)
					return true
				}
				for i := range got {
					if !bytes.Equal(got[i], val(want)) {
						t.Errorf("Key %x on CPU %d: got %v, want %v", k, i, got[i], val(want))
					}
				}
				return true
			})
			tbl.ForEach(func(k, _ []byte) bool {
				if _, ok := model.Load(binary.LittleEndian.Uint64(k)); !ok {
					t.Errorf("Table holds key %v unknown to the model", k)
				}
				return true
			})
		})
	}
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

func TestFreelist(t *testing.T) {
	pool := make([]element, 10)
	for i := range pool {
		pool[i].slot = uint32(i + 1)
	}
	f := newFreelist(pool, 3)
	for i := range pool {
		f.push(0, &pool[i])
	}
	if n := f.len(); n != 10 {
		t.Fatalf("Expected 10 free elements, got %d", n)
	}

	// partition 2 is empty and steals
	seen := make(map[*element]bool)
	for i := 0; i < 10; i++ {
		e := f.pop(2)
		if e == nil {
			t.Fatalf("pop %d returned nil", i)
		}
		if seen[e] {
			t.Fatalf("Element %d handed out twice", e.slot)
		}
		seen[e] = true
	}
	if e := f.pop(1); e != nil {
		t.Errorf("Empty freelist returned element %d", e.slot)
	}
}

func TestFreelistConcurrent(t *testing.T) {
	pool := make([]element, 64)
	for i := range pool {
		pool[i].slot = uint32(i + 1)
	}
	f := newFreelist(pool, 4)
	for i := range pool {
		f.push(i%4, &pool[i])
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				if e := f.pop(part); e != nil {
					f.push(part, e)
				}
			}
		}(w)
	}
	wg.Wait()

	if n := f.len(); n != 64 {
		t.Errorf("Expected 64 free elements after churn, got %d", n)
	}
}

func TestEpochSynchronize(t *testing.T) {
	d := newEpochDomain(2, func(*element) {})
	defer d.close()

	tok := d.enter()
	done := make(chan struct{})
	go func() {
		d.synchronize()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("synchronize returned while a reader was active")
	case <-time.After(20 * time.Millisecond):
	}

	d.exit(tok)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("synchronize did not return after the reader exited")
	}

	// readers entering after the advance do not hold up the next grace period
	tok = d.enter()
	d.exit(tok)
	d.synchronize()
	if g := d.grace.Load(); g != 2 {
		t.Errorf("Expected 2 grace periods, got %d", g)
	}
}
