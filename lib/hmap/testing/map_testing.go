package testing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/htab/lib/hmap"
	"golang.org/x/sync/errgroup"
)

// MapFactory creates a new, empty map with the given sizes and capacity
type MapFactory func(keySize, valueSize, maxEntries int) hmap.Map

// Sizes used by the conformance tests
const (
	testKeySize   = 8
	testValueSize = 16
)

// RunMapTests runs a comprehensive test suite for a Map implementation.
func RunMapTests(t *testing.T, name string, factory MapFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Update&Lookup", func(t *testing.T) {
			testUpdateLookup(t, factory(testKeySize, testValueSize, 64))
		})

		t.Run("UpdateModes", func(t *testing.T) {
			testUpdateModes(t, factory(testKeySize, testValueSize, 64))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(testKeySize, testValueSize, 64))
		})

		t.Run("Idempotence", func(t *testing.T) {
			testIdempotence(t, factory(testKeySize, testValueSize, 64))
		})

		t.Run("InvalidArguments", func(t *testing.T) {
			testInvalidArguments(t, factory(testKeySize, testValueSize, 64))
		})

		t.Run("Capacity", func(t *testing.T) {
			testCapacity(t, factory(testKeySize, testValueSize, 32))
		})

		t.Run("Eviction", func(t *testing.T) {
			testEviction(t, factory(testKeySize, testValueSize, 32))
		})

		t.Run("NextKey", func(t *testing.T) {
			testNextKey(t, factory(testKeySize, testValueSize, 512))
		})

		t.Run("ForEach", func(t *testing.T) {
			testForEach(t, factory(testKeySize, testValueSize, 512))
		})

		t.Run("LookupBatch", func(t *testing.T) {
			testLookupBatch(t, factory(testKeySize, testValueSize, 512))
		})

		t.Run("BatchConservation", func(t *testing.T) {
			testBatchConservation(t, factory(testKeySize, testValueSize, 512))
		})

		t.Run("PerCPU", func(t *testing.T) {
			testPerCPU(t, factory(testKeySize, testValueSize, 64))
		})

		t.Run("ConcurrentSameKey", func(t *testing.T) {
			testConcurrentSameKey(t, factory(testKeySize, testValueSize, 64))
		})

		t.Run("ConcurrentMixed", func(t *testing.T) {
			testConcurrentMixed(t, factory(testKeySize, testValueSize, 1024))
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory(testKeySize, testValueSize, 16))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the map supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, m hmap.Map, feature hmap.Feature) {
	if !m.SupportsFeature(feature) {
		t.Skip()
	}
}

// Skip the test if the map supports the specified feature
func forbidFeature(t testing.TB, m hmap.Map, feature hmap.Feature) {
	if m.SupportsFeature(feature) {
		t.Skip()
	}
}

// makeKey encodes i as a key of the map's key size
func makeKey(m hmap.Map, i int) []byte {
	key := make([]byte, m.KeySize())
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(i))
	copy(key, tmp[:])
	return key
}

// makeValue fills a value of the map's value size with the byte pattern of v.
// Every byte equals the low byte of v, so a torn value is easy to detect.
func makeValue(m hmap.Map, v int) []byte {
	return bytes.Repeat([]byte{byte(v)}, m.ValueSize())
}

// uniform reports whether all bytes of b are equal
func uniform(b []byte) bool {
	for _, c := range b {
		if c != b[0] {
			return false
		}
	}
	return true
}

// lookupValue returns the value of key. For per-CPU maps it checks that all
// CPUs hold the same value and returns it.
func lookupValue(t testing.TB, m hmap.Map, key []byte) ([]byte, bool) {
	if !m.SupportsFeature(hmap.FeaturePerCPU) {
		return m.Lookup(key)
	}
	values, ok := m.LookupPerCPU(key)
	if !ok {
		return nil, false
	}
	for i := range values {
		if !bytes.Equal(values[i], values[0]) {
			t.Errorf("Per-CPU value %d differs from value 0: %v != %v", i, values[i], values[0])
		}
	}
	return values[0], true
}

// entryValue returns the value of a batch entry, checking per-CPU consistency
func entryValue(t testing.TB, e hmap.Entry) []byte {
	if e.Values == nil {
		return e.Value
	}
	for i := range e.Values {
		if !bytes.Equal(e.Values[i], e.Values[0]) {
			t.Errorf("Per-CPU value %d of batch entry differs", i)
		}
	}
	return e.Values[0]
}

// fill inserts the keys [0, n) with value i+1
func fill(t testing.TB, m hmap.Map, n int) {
	for i := 0; i < n; i++ {
		if err := m.Update(makeKey(m, i), makeValue(m, i+1), hmap.Upsert); err != nil {
			t.Fatalf("Failed to insert key %d: %v", i, err)
		}
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpdateLookup(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureUpdate|hmap.FeatureLookup)

	key := makeKey(m, 1)
	value1 := makeValue(m, 1)
	value2 := makeValue(m, 2)

	if err := m.Update(key, value1, hmap.Upsert); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	result, exists := lookupValue(t, m, key)
	if !exists {
		t.Errorf("Expected key to exist after Upsert")
	}
	if !bytes.Equal(result, value1) {
		t.Errorf("Expected value %v, got %v", value1, result)
	}

	if err := m.Update(key, value2, hmap.Upsert); err != nil {
		t.Fatalf("Upsert of existing key failed: %v", err)
	}

	result, exists = lookupValue(t, m, key)
	if !exists {
		t.Errorf("Expected key to exist after second Upsert")
	}
	if !bytes.Equal(result, value2) {
		t.Errorf("Expected value %v, got %v", value2, result)
	}

	if _, exists := m.Lookup(makeKey(m, 999)); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrieved, _ := m.Lookup(key)
	retrieved[0] = 'X'

	original, _ := lookupValue(t, m, key)
	if !bytes.Equal(original, value2) {
		t.Errorf("Lookup should return a copy, not a reference to the stored value")
	}
}

func testUpdateModes(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureUpdate|hmap.FeatureLookup)

	key := makeKey(m, 7)

	if err := m.Update(key, makeValue(m, 1), hmap.UpdateOnly); !errors.Is(err, hmap.ErrNotFound) {
		t.Errorf("UpdateOnly of absent key: expected ErrNotFound, got %v", err)
	}
	if _, exists := m.Lookup(key); exists {
		t.Errorf("Failed UpdateOnly must not create the key")
	}

	if err := m.Update(key, makeValue(m, 1), hmap.CreateOnly); err != nil {
		t.Fatalf("CreateOnly of absent key failed: %v", err)
	}

	if err := m.Update(key, makeValue(m, 2), hmap.CreateOnly); !errors.Is(err, hmap.ErrAlreadyExists) {
		t.Errorf("CreateOnly of existing key: expected ErrAlreadyExists, got %v", err)
	}
	if v, _ := lookupValue(t, m, key); !bytes.Equal(v, makeValue(m, 1)) {
		t.Errorf("Failed CreateOnly must not change the value, got %v", v)
	}

	if err := m.Update(key, makeValue(m, 3), hmap.UpdateOnly); err != nil {
		t.Errorf("UpdateOnly of existing key failed: %v", err)
	}
	if v, _ := lookupValue(t, m, key); !bytes.Equal(v, makeValue(m, 3)) {
		t.Errorf("Expected value after UpdateOnly %v, got %v", makeValue(m, 3), v)
	}
}

func testDelete(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureUpdate|hmap.FeatureDelete)

	key := makeKey(m, 3)
	if err := m.Update(key, makeValue(m, 3), hmap.Upsert); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := m.Delete(key); err != nil {
		t.Errorf("Delete of existing key failed: %v", err)
	}
	if _, exists := m.Lookup(key); exists {
		t.Errorf("Key should not exist after Delete")
	}
	if err := m.Delete(key); !errors.Is(err, hmap.ErrNotFound) {
		t.Errorf("Second Delete: expected ErrNotFound, got %v", err)
	}

	// the freed element can be used again
	if err := m.Update(key, makeValue(m, 4), hmap.CreateOnly); err != nil {
		t.Errorf("CreateOnly after Delete failed: %v", err)
	}

	fill(t, m, 40)
	for i := 0; i < 40; i += 2 {
		if err := m.Delete(makeKey(m, i)); err != nil {
			t.Errorf("Delete of key %d failed: %v", i, err)
		}
	}
	for i := 0; i < 40; i++ {
		_, exists := m.Lookup(makeKey(m, i))
		if i%2 == 0 && exists {
			t.Errorf("Key %d should be deleted", i)
		}
		if i%2 == 1 && !exists {
			t.Errorf("Key %d should still exist", i)
		}
	}
	if live := m.Info().LiveCount; live != 20 {
		t.Errorf("Expected 20 live entries, got %d", live)
	}
}

func testIdempotence(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureUpdate|hmap.FeatureForEach)

	key := makeKey(m, 5)
	value := makeValue(m, 5)
	for i := 0; i < 2; i++ {
		if err := m.Update(key, value, hmap.Upsert); err != nil {
			t.Fatalf("Upsert %d failed: %v", i, err)
		}
	}

	if visited := m.ForEach(func(_, _ []byte) bool { return true }); visited != 1 {
		t.Errorf("Expected exactly one entry, got %d", visited)
	}
	if live := m.Info().LiveCount; live != 1 {
		t.Errorf("Expected live count 1, got %d", live)
	}
	if v, _ := lookupValue(t, m, key); !bytes.Equal(v, value) {
		t.Errorf("Expected value %v, got %v", value, v)
	}
}

func testInvalidArguments(t *testing.T, m hmap.Map) {
	defer m.Close()

	shortKey := make([]byte, m.KeySize()-1)
	longKey := make([]byte, m.KeySize()+1)

	if err := m.Update(shortKey, makeValue(m, 1), hmap.Upsert); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Short key: expected ErrInvalidArgument, got %v", err)
	}
	if err := m.Update(longKey, makeValue(m, 1), hmap.Upsert); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Long key: expected ErrInvalidArgument, got %v", err)
	}
	if err := m.Update(makeKey(m, 1), make([]byte, m.ValueSize()+3), hmap.Upsert); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Wrong value size: expected ErrInvalidArgument, got %v", err)
	}
	if err := m.Update(makeKey(m, 1), makeValue(m, 1), hmap.UpdateMode(42)); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Unknown mode: expected ErrInvalidArgument, got %v", err)
	}
	if err := m.Delete(shortKey); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Delete with short key: expected ErrInvalidArgument, got %v", err)
	}
	if _, exists := m.Lookup(shortKey); exists {
		t.Errorf("Lookup with short key must report exists=false")
	}
	if _, _, err := m.LookupBatch(0, 0); !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Batch size 0: expected ErrInvalidArgument, got %v", err)
	}
	if live := m.Info().LiveCount; live != 0 {
		t.Errorf("Failed updates must not create entries, live count is %d", live)
	}
}

func testCapacity(t *testing.T, m hmap.Map) {
	defer m.Close()

	forbidFeature(t, m, hmap.FeatureEviction)

	n := m.Info().MaxEntries
	for i := 0; i < n; i++ {
		if err := m.Update(makeKey(m, i), makeValue(m, i), hmap.CreateOnly); err != nil {
			t.Fatalf("CreateOnly %d of %d failed: %v", i+1, n, err)
		}
	}

	if err := m.Update(makeKey(m, n), makeValue(m, n), hmap.CreateOnly); !errors.Is(err, hmap.ErrOutOfCapacity) {
		t.Errorf("Insert into full map: expected ErrOutOfCapacity, got %v", err)
	}

	// replacing an existing entry of a full map is allowed
	if err := m.Update(makeKey(m, 0), makeValue(m, 99), hmap.Upsert); err != nil {
		t.Errorf("Upsert of existing key in full map failed: %v", err)
	}
	if v, _ := lookupValue(t, m, makeKey(m, 0)); !bytes.Equal(v, makeValue(m, 99)) {
		t.Errorf("Expected replaced value, got %v", v)
	}

	if err := m.Delete(makeKey(m, 1)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Update(makeKey(m, n), makeValue(m, n), hmap.CreateOnly); err != nil {
		t.Errorf("Insert after Delete failed: %v", err)
	}
	if live := m.Info().LiveCount; live != n {
		t.Errorf("Expected live count %d, got %d", n, live)
	}
}

func testEviction(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureEviction)

	n := m.Info().MaxEntries
	for i := 0; i < n; i++ {
		if err := m.Update(makeKey(m, i), makeValue(m, i), hmap.CreateOnly); err != nil {
			t.Fatalf("CreateOnly %d of %d failed: %v", i+1, n, err)
		}
	}

	for i := n; i < 3*n; i++ {
		if err := m.Update(makeKey(m, i), makeValue(m, i), hmap.CreateOnly); err != nil {
			t.Fatalf("Insert %d into full LRU map failed: %v", i, err)
		}
		if _, exists := m.Lookup(makeKey(m, i)); !exists {
			t.Errorf("Key %d not found right after insert", i)
		}
		if live := m.Info().LiveCount; live != n {
			t.Fatalf("Expected live count %d after eviction, got %d", n, live)
		}
	}

	present := 0
	for i := 0; i < 3*n; i++ {
		if _, exists := m.Lookup(makeKey(m, i)); exists {
			present++
		}
	}
	if present != n {
		t.Errorf("Expected %d reachable keys, got %d", n, present)
	}
}

func testNextKey(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureNextKey)

	if _, ok := m.NextKey(nil); ok {
		t.Errorf("NextKey of empty map should report ok=false")
	}

	const n = 300
	fill(t, m, n)

	seen := make(map[uint64]bool, n)
	var prev []byte
	for {
		next, ok := m.NextKey(prev)
		if !ok {
			break
		}
		id := binary.LittleEndian.Uint64(next)
		if seen[id] {
			t.Fatalf("NextKey returned key %d twice on a stable map", id)
		}
		seen[id] = true
		prev = next
	}

	if len(seen) != n {
		t.Errorf("NextKey visited %d keys, expected %d", len(seen), n)
	}

	// an absent prev restarts the iteration
	first, _ := m.NextKey(nil)
	restart, ok := m.NextKey(makeKey(m, 100000))
	if !ok || !bytes.Equal(first, restart) {
		t.Errorf("NextKey of absent key should return the first key")
	}
}

func testForEach(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureForEach)

	const n = 200
	fill(t, m, n)

	seen := make(map[uint64]bool, n)
	visited := m.ForEach(func(key, value []byte) bool {
		id := binary.LittleEndian.Uint64(key)
		seen[id] = true
		if value[0] != byte(id+1) {
			t.Errorf("Key %d has value %v", id, value[:m.ValueSize()])
		}
		return true
	})
	if visited != n || len(seen) != n {
		t.Errorf("ForEach visited %d entries (%d distinct), expected %d", visited, len(seen), n)
	}

	stopAfter := 10
	visited = m.ForEach(func(_, _ []byte) bool {
		stopAfter--
		return stopAfter > 0
	})
	if visited != 10 {
		t.Errorf("ForEach should stop after 10 entries, visited %d", visited)
	}
}

// drainBatches collects all entries batch by batch, growing the batch size on ErrNoSpace
func drainBatches(t *testing.T, batch func(cursor uint32, maxCount int) ([]hmap.Entry, uint32, error)) []hmap.Entry {
	var all []hmap.Entry
	cursor := uint32(0)
	maxCount := 4

	for rounds := 0; rounds < 100000; rounds++ {
		entries, next, err := batch(cursor, maxCount)
		all = append(all, entries...)
		switch {
		case errors.Is(err, hmap.ErrNotFound):
			return all
		case errors.Is(err, hmap.ErrNoSpace):
			if len(entries) != 0 {
				t.Fatalf("ErrNoSpace returned together with %d entries", len(entries))
			}
			maxCount *= 2
		case err != nil:
			t.Fatalf("Batch failed: %v", err)
		case next <= cursor:
			t.Fatalf("Batch cursor did not advance: %d -> %d", cursor, next)
		}
		cursor = next
	}
	t.Fatalf("Batch iteration did not terminate")
	return nil
}

func testLookupBatch(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureBatch)

	const n = 250
	fill(t, m, n)

	entries := drainBatches(t, m.LookupBatch)
	if len(entries) != n {
		t.Errorf("LookupBatch returned %d entries, expected %d", len(entries), n)
	}
	for _, e := range entries {
		id := binary.LittleEndian.Uint64(e.Key)
		if v := entryValue(t, e); !bytes.Equal(v, makeValue(m, int(id)+1)) {
			t.Errorf("Key %d has value %v", id, v)
		}
	}
	if live := m.Info().LiveCount; live != n {
		t.Errorf("LookupBatch must not delete, live count is %d", live)
	}
}

func testBatchConservation(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureBatch)

	const n = 300
	fill(t, m, n)

	entries := drainBatches(t, m.LookupAndDeleteBatch)

	seen := make(map[uint64]bool, n)
	for _, e := range entries {
		id := binary.LittleEndian.Uint64(e.Key)
		if seen[id] {
			t.Errorf("Key %d returned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("LookupAndDeleteBatch returned %d keys, expected %d", len(seen), n)
	}

	if live := m.Info().LiveCount; live != 0 {
		t.Errorf("Map should be empty, live count is %d", live)
	}
	for i := 0; i < n; i++ {
		if _, exists := m.Lookup(makeKey(m, i)); exists {
			t.Errorf("Key %d still reachable after LookupAndDeleteBatch", i)
		}
	}

	// all elements are usable again
	fill(t, m, n)
}

func testPerCPU(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeaturePerCPU)

	cpus := m.Info().CPUs
	key := makeKey(m, 11)
	values := make([][]byte, cpus)
	for i := range values {
		values[i] = makeValue(m, i+1)
	}

	if err := m.UpdatePerCPU(key, values, hmap.Upsert); err != nil {
		t.Fatalf("UpdatePerCPU failed: %v", err)
	}
	got, ok := m.LookupPerCPU(key)
	if !ok || len(got) != cpus {
		t.Fatalf("LookupPerCPU returned %d values, ok=%v", len(got), ok)
	}
	for i := range got {
		if !bytes.Equal(got[i], values[i]) {
			t.Errorf("CPU %d: expected %v, got %v", i, values[i], got[i])
		}
	}

	if err := m.UpdatePerCPU(key, values[:cpus-1], hmap.Upsert); cpus > 1 && !errors.Is(err, hmap.ErrInvalidArgument) {
		t.Errorf("Too few values: expected ErrInvalidArgument, got %v", err)
	}

	// Lookup concatenates the values of all CPUs
	concat, ok := m.Lookup(key)
	stride := (m.ValueSize() + 7) &^ 7
	if !ok || len(concat) != cpus*stride {
		t.Fatalf("Lookup returned %d bytes, expected %d", len(concat), cpus*stride)
	}
	for i := 0; i < cpus; i++ {
		if !bytes.Equal(concat[i*stride:i*stride+m.ValueSize()], values[i]) {
			t.Errorf("CPU %d in concatenated value differs", i)
		}
	}
}

func testConcurrentSameKey(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureUpdate|hmap.FeatureLookup|hmap.FeatureForEach)

	key := makeKey(m, 42)
	const writers = 16
	const rounds = 200

	var g errgroup.Group
	for w := 1; w <= writers; w++ {
		w := w
		g.Go(func() error {
			value := makeValue(m, w)
			for i := 0; i < rounds; i++ {
				if err := m.Update(key, value, hmap.Upsert); err != nil {
					return fmt.Errorf("writer %d: %w", w, err)
				}
				if v, ok := m.Lookup(key); ok && !uniform(v[:m.ValueSize()]) {
					return fmt.Errorf("writer %d observed torn value %v", w, v)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	v, ok := lookupValue(t, m, key)
	if !ok {
		t.Fatalf("Key missing after concurrent updates")
	}
	if !uniform(v) || v[0] < 1 || v[0] > writers {
		t.Errorf("Final value %v is not one of the written values", v)
	}
	if visited := m.ForEach(func(_, _ []byte) bool { return true }); visited != 1 {
		t.Errorf("Expected exactly one entry for the key, found %d", visited)
	}
}

func testConcurrentMixed(t *testing.T, m hmap.Map) {
	defer m.Close()

	requireFeature(t, m, hmap.FeatureUpdate|hmap.FeatureLookup|hmap.FeatureDelete)

	const workers = 8
	const keysPerWorker = 64
	const rounds = 50

	var torn atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// readers check every value they see for tearing
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				if v, ok := m.Lookup(makeKey(m, i%(workers*keysPerWorker))); ok && !uniform(v[:m.ValueSize()]) {
					torn.Add(1)
				}
			}
		}()
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			base := w * keysPerWorker
			for r := 0; r < rounds; r++ {
				for k := base; k < base+keysPerWorker; k++ {
					if err := m.Update(makeKey(m, k), makeValue(m, r), hmap.Upsert); err != nil {
						return fmt.Errorf("update key %d: %w", k, err)
					}
				}
				for k := base; k < base+keysPerWorker; k += 2 {
					if err := m.Delete(makeKey(m, k)); err != nil {
						return fmt.Errorf("delete key %d: %w", k, err)
					}
				}
			}
			return nil
		})
	}
	err := g.Wait()
	close(stop)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}

	if n := torn.Load(); n > 0 {
		t.Errorf("Readers observed %d torn values", n)
	}

	// every worker ends with its odd keys holding the last round's value
	for k := 0; k < workers*keysPerWorker; k++ {
		v, ok := lookupValue(t, m, makeKey(m, k))
		if k%2 == 0 {
			if ok {
				t.Errorf("Key %d should be deleted", k)
			}
			continue
		}
		if !ok || !bytes.Equal(v, makeValue(m, rounds-1)) {
			t.Errorf("Key %d: expected value of round %d, got %v (ok=%v)", k, rounds-1, v, ok)
		}
	}
	if live := m.Info().LiveCount; live != workers*keysPerWorker/2 {
		t.Errorf("Expected live count %d, got %d", workers*keysPerWorker/2, live)
	}
}

func testClose(t *testing.T, m hmap.Map) {
	key := makeKey(m, 1)
	if err := m.Update(key, makeValue(m, 1), hmap.Upsert); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := m.Update(key, makeValue(m, 2), hmap.Upsert); !errors.Is(err, hmap.ErrClosed) {
		t.Errorf("Update after Close: expected ErrClosed, got %v", err)
	}
	if err := m.Delete(key); !errors.Is(err, hmap.ErrClosed) {
		t.Errorf("Delete after Close: expected ErrClosed, got %v", err)
	}
	if _, exists := m.Lookup(key); exists {
		t.Errorf("Lookup after Close should report exists=false")
	}
	if err := m.Close(); !errors.Is(err, hmap.ErrClosed) {
		t.Errorf("Second Close: expected ErrClosed, got %v", err)
	}
}
