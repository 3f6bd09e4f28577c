// Package testing provides standardised tests and benchmarks for
// map implementations that satisfy the hmap.Map interface.
//
// The package contains:
//   - testing: A comprehensive test suite for validating conformance to the Map interface contract
//     (update modes, capacity, eviction, iteration, batches, per-CPU values, concurrency)
//   - benchmark: Performance tests for measuring throughput of common map operations
//
// This package is particularly useful for:
//   - Comparing table variants (plain, LRU, dynamic, per-CPU) based on performance characteristics
//   - Map developers implementing the Map interface
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(keySize, valueSize, maxEntries int) hmap.Map {
//		return NewMyMap(keySize, valueSize, maxEntries)
//	}
//
//	// Running the standard test suite
//	testing.RunMapTests(t, "MyMap", factory)
//
//	// Running performance benchmarks
//	testing.RunMapBenchmarks(b, "MyMap", factory)
package testing
