// Package lstore implements a local, in-memory key-value store based on the
// store.IStore interface. It provides a thin wrapper around any hmap.Map
// implementation that translates string keys and variable length values into
// the fixed-size byte strings of the map. Data is stored entirely in memory and
// is not persisted between process restarts.
//
// Key Features:
//   - String keys and short values, zero-padded to the sizes of the map
//   - Bounded retries with exponential backoff when the map reports ErrBusy
//   - Feature detection to handle unsupported operations gracefully
//   - Translation of hmap error kinds into store return codes
//
// Implementation Details:
//
//   - Key Padding: Keys are padded in scratch buffers taken from a
//     bytebufferpool, so a lookup does not allocate for the key. Keys are
//     returned by Keys and Drain with the padding stripped, so keys must not
//     end in zero bytes.
//
//   - Busy Retries: Writes that fail with hmap.ErrBusy are retried
//     Options.BusyRetries times, waiting Options.BusyBackoff before the first
//     retry and twice as long before every further one.
//
//   - Composition Architecture: The store.MapFactory function injects the
//     underlying hmap.Map implementation. Maps with per-CPU values are rejected,
//     since the store exposes one value per key.
//
// Thread Safety:
//
//	All operations in the local store are thread-safe. The underlying hmap.Map
//	implementation provides the thread safety of the actual storage operations.
//
// Usage Example:
//
//	factory := func() (hmap.Map, error) {
//		return htab.New(&htab.Options{KeySize: 32, ValueSize: 64, MaxEntries: 4096, Variant: hmap.LRU})
//	}
//	s, err := lstore.NewLocalStore(factory, nil)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	err = s.Set("session:123", sessionData)
//	value, exists, err := s.Get("session:123")
package lstore
