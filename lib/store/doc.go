// Package store provides a high-level interface for key-value storage operations
// on top of fixed-size concurrent maps, with string keys and unified error handling.
// It serves as an abstraction layer over the lower-level hmap.Map implementations.
//
// The package focuses on:
//   - A unified interface (IStore) for key-value operations across different maps
//   - Pluggable map architecture through the MapFactory pattern
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store. The interface methods return custom Error types that provide
//     detailed information about operation results.
//
//   - Error System: A structured error reporting mechanism using typed return codes
//     and descriptive messages. FromMapError translates the error kinds of the
//     hmap package into return codes, so callers do not depend on the map package.
//
//   - MapFactory: A function type that abstracts the creation of the underlying
//     hmap.Map, providing dependency injection and flexible configuration of the map.
//
// Implementations:
//
//	- Local Store (lstore): A single process implementation that directly
//	  utilizes a hmap.Map instance. Available in the
//	  "github.com/ValentinKolb/htab/lib/store/lstore" package.
package store
