package testing

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/htab/lib/hmap"
)

// Capacity of the maps created for benchmarks
const benchEntries = 1 << 16

// RunMapBenchmarks runs all benchmarks for a Map implementation
func RunMapBenchmarks(b *testing.B, name string, factory MapFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Insert", func(b *testing.B) {
			benchmarkInsert(b, factory(testKeySize, testValueSize, benchEntries))
		})

		b.Run("UpdateExisting", func(b *testing.B) {
			benchmarkUpdateExisting(b, factory(testKeySize, testValueSize, benchEntries))
		})

		b.Run("Lookup", func(b *testing.B) {
			benchmarkLookup(b, factory(testKeySize, testValueSize, benchEntries))
		})

		b.Run("Lookup(miss)", func(b *testing.B) {
			benchmarkLookupMiss(b, factory(testKeySize, testValueSize, benchEntries))
		})

		b.Run("Delete", func(b *testing.B) {
			benchmarkDelete(b, factory(testKeySize, testValueSize, benchEntries))
		})

		b.Run("LookupBatch", func(b *testing.B) {
			benchmarkLookupBatch(b, factory(testKeySize, testValueSize, benchEntries))
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory(testKeySize, testValueSize, benchEntries))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for inserting fresh keys. Keys wrap around at capacity, so a plain
// map sees replacing updates once full and an LRU map keeps evicting.
func benchmarkInsert(b *testing.B, m hmap.Map) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, hmap.FeatureUpdate)

	var counter int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		value := makeValue(m, 1)
		for pb.Next() {
			i := int(atomic.AddInt64(&counter, 1)-1) % benchEntries
			_ = m.Update(makeKey(m, i), value, hmap.Upsert)
		}
	})
}

// Benchmark for overwriting existing keys
func benchmarkUpdateExisting(b *testing.B, m hmap.Map) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, hmap.FeatureUpdate)

	// Prepare data
	numKeys := 10000
	fill(b, m, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_ = m.Update(makeKey(m, counter%numKeys), makeValue(m, counter), hmap.UpdateOnly)
			counter++
		}
	})
}

// Parallel benchmarking for Lookup operation
func benchmarkLookup(b *testing.B, m hmap.Map) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, hmap.FeatureUpdate|hmap.FeatureLookup)

	// Prepare data
	numKeys := 10000
	fill(b, m, numKeys)

	keys := make([][]byte, numKeys)
	for i := range keys {
		keys[i] = makeKey(m, i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := rand.Intn(numKeys)
		for pb.Next() {
			m.Lookup(keys[counter%numKeys])
			counter++
		}
	})
}

// Parallel benchmarking for Lookup operation (with key miss)
func benchmarkLookupMiss(b *testing.B, m hmap.Map) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, hmap.FeatureLookup)
	key := makeKey(m, 1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Lookup(key)
		}
	})
}

// Parallel benchmarking for Delete operation
func benchmarkDelete(b *testing.B, m hmap.Map) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, hmap.FeatureUpdate|hmap.FeatureDelete)

	numKeys := benchEntries / 2
	if b.N < numKeys {
		numKeys = b.N
	}
	fill(b, m, numKeys)

	keys := make([][]byte, numKeys)
	for i := range keys {
		keys[i] = makeKey(m, i)
	}

	// Counter for atomic access
	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			_ = m.Delete(keys[idx])
		}
	})
}

// Benchmark for a full table scan with LookupBatch
func benchmarkLookupBatch(b *testing.B, m hmap.Map) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, hmap.FeatureUpdate|hmap.FeatureBatch)
	fill(b, m, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cursor := uint32(0)
		for {
			_, next, err := m.LookupBatch(cursor, 256)
			if err != nil {
				break
			}
			cursor = next
		}
	}
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, m hmap.Map) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, hmap.FeatureUpdate|hmap.FeatureLookup|hmap.FeatureDelete)

	// Number of pre-populated keys
	numKeys := benchEntries / 2
	fill(b, m, numKeys)

	// Counter for atomic access
	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		value := makeValue(m, 7)
		for pb.Next() {
			i := int(atomic.AddInt64(&counter, 1) - 1)
			key := makeKey(m, i%numKeys)

			// 70% lookups, 20% updates, 10% deletes
			switch i % 10 {
			case 0:
				_ = m.Delete(key)
			case 1, 2:
				_ = m.Update(key, value, hmap.Upsert)
			default:
				m.Lookup(key)
			}
		}
	})
}
