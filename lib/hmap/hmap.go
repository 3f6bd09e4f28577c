package hmap

import "strings"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplHTab Implementation = "htab"
)

// UpdateMode selects the precondition an update must satisfy
type UpdateMode uint8

const (
	Upsert     UpdateMode = iota // Create the entry or overwrite an existing one
	CreateOnly                   // Fail with ErrAlreadyExists if the key is present
	UpdateOnly                   // Fail with ErrNotFound if the key is absent
)

func (m UpdateMode) String() string {
	switch m {
	case Upsert:
		return "Upsert"
	case CreateOnly:
		return "CreateOnly"
	case UpdateOnly:
		return "UpdateOnly"
	default:
		return "Unknown"
	}
}

// Variant selects the behaviour of a full table
type Variant uint8

const (
	Plain Variant = iota // Inserts fail with ErrOutOfCapacity once the table is full
	LRU                  // Inserts evict the least recently used entry once the table is full
)

func (v Variant) String() string {
	switch v {
	case Plain:
		return "plain"
	case LRU:
		return "lru"
	default:
		return "unknown"
	}
}

// Allocation selects how element storage is obtained
type Allocation uint8

const (
	Preallocated Allocation = iota // All elements are allocated up front and recycled through a freelist
	Dynamic                        // Elements are allocated on insert and reclaimed after a grace period
)

func (a Allocation) String() string {
	switch a {
	case Preallocated:
		return "preallocated"
	case Dynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Feature represents map features as bit flags
type Feature uint64

const (
	FeatureLookup          Feature = 1 << iota // Support for Lookup operations
	FeatureUpdate                              // Support for Update operations
	FeatureDelete                              // Support for Delete operations
	FeatureNextKey                             // Support for NextKey iteration
	FeatureBatch                               // Support for LookupBatch and LookupAndDeleteBatch
	FeatureForEach                             // Support for ForEach traversal
	FeaturePerCPU                              // Values are stored once per CPU
	FeatureEviction                            // Full tables evict instead of rejecting inserts
)

func (f Feature) String() string {
	switch f {
	case FeatureLookup:
		return "Lookup"
	case FeatureUpdate:
		return "Update"
	case FeatureDelete:
		return "Delete"
	case FeatureNextKey:
		return "NextKey"
	case FeatureBatch:
		return "Batch"
	case FeatureForEach:
		return "ForEach"
	case FeaturePerCPU:
		return "PerCPU"
	case FeatureEviction:
		return "Eviction"
	default:
		var names []string
		for bit := FeatureLookup; bit <= FeatureEviction; bit <<= 1 {
			if f&bit != 0 {
				names = append(names, bit.String())
			}
		}
		if len(names) == 0 {
			return "Unknown"
		}
		return strings.Join(names, "|")
	}
}

// Entry is a key-value pair copied out of a map.
// For per-CPU maps Values holds one buffer per CPU and Value is nil.
type Entry struct {
	Key    []byte   `json:"key"`
	Value  []byte   `json:"value,omitempty"`
	Values [][]byte `json:"values,omitempty"`
}

type MapInfo struct {
	MapType           Implementation `json:"map_type"`
	Variant           string         `json:"variant"`
	Allocation        string         `json:"allocation"`
	KeySize           int            `json:"key_size"`
	ValueSize         int            `json:"value_size"`
	MaxEntries        int            `json:"max_entries"`
	Buckets           int            `json:"buckets"`
	CPUs              int            `json:"cpus"`
	LiveCount         int            `json:"live_count"`
	SizeBytes         int            `json:"size_bytes"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Map Interface
// --------------------------------------------------------------------------

// Map defines the operations a fixed-capacity concurrent hash map exposes to
// its collaborators. Keys and values are fixed-size byte strings whose sizes
// are set when the map is created; every method rejects mismatching sizes.
// All methods are safe for concurrent use.
type Map interface {

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Lookup returns a copy of the value stored for key.
	// Lookup never blocks and never fails; a missing key or a key of the
	// wrong size reports loaded=false.
	// For per-CPU maps the values of all CPUs are returned concatenated,
	// each padded to a multiple of 8 bytes.
	Lookup(key []byte) (value []byte, loaded bool)

	// LookupPerCPU returns one copy of the value per CPU.
	// For maps without per-CPU values a single buffer is returned.
	LookupPerCPU(key []byte) (values [][]byte, loaded bool)

	// NextKey returns the key following prev in iteration order.
	// A nil prev (or a prev that is no longer present) restarts at the first key.
	// Iteration is best-effort under concurrent mutation: keys may be skipped or
	// repeated, but every key present for the whole walk is returned.
	NextKey(prev []byte) (next []byte, ok bool)

	// ForEach calls fn once for every live entry until fn returns false.
	// It returns the number of entries visited. fn must not retain its arguments.
	ForEach(fn func(key, value []byte) bool) (visited int)

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Update stores value for key subject to mode.
	Update(key, value []byte, mode UpdateMode) (err error)

	// UpdatePerCPU stores one value per CPU for key subject to mode.
	UpdatePerCPU(key []byte, values [][]byte, mode UpdateMode) (err error)

	// Delete removes key. It returns ErrNotFound if the key is absent.
	Delete(key []byte) (err error)

	// --------------------------------------------------------------------------
	// Batch Operations
	// --------------------------------------------------------------------------

	// LookupBatch copies up to maxCount entries starting at cursor.
	// It returns the cursor to continue from. When the end of the map is
	// reached the returned error is ErrNotFound, possibly alongside entries.
	LookupBatch(cursor uint32, maxCount int) (entries []Entry, next uint32, err error)

	// LookupAndDeleteBatch works like LookupBatch and additionally removes
	// every returned entry from the map.
	LookupAndDeleteBatch(cursor uint32, maxCount int) (entries []Entry, next uint32, err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the map supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// Info returns information about the map.
	Info() (info MapInfo)

	// KeySize returns the fixed key size.
	KeySize() int

	// ValueSize returns the fixed value size.
	ValueSize() int

	// Close releases all storage. Operations after Close fail with ErrClosed.
	Close() (err error)
}
