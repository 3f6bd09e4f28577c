// Package util provides utility components for
// map implementations that satisfy the hmap.Map interface.
//
// The package contains:
//   - statistics: Summary and distribution statistics (bucket chain lengths)
//   - functions: Seed generation, seeded hash functions (FNV-1a, xxHash) and size helpers
//   - lockfreempsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue implementation build for high throughput and low latency
//   - mapheap: A min-heap with O(1) access by key, used to track deadlines of keyed resources
//
// This package is particularly useful for:
//   - Map developers implementing the hmap.Map interface
//   - Deferred reclamation pipelines that hand retired objects to a single background consumer
//   - Monitoring systems that need to track how evenly a map distributes its entries
package util
