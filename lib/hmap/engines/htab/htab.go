package htab

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/ValentinKolb/htab/lib/hmap/engines/htab/internal"
	"github.com/ValentinKolb/htab/lib/hmap/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("htab")

var _ hmap.Map = (*Table)(nil)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	maxKeySize   = 512     // Largest supported key in bytes
	maxValueSize = 1 << 20 // Largest supported value (per CPU) in bytes
	maxBuckets   = 1 << 30 // Bucket indices must fit the batch cursor
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// EvictHook is called for every entry an LRU table evicts, while the bucket
// lock of the entry is held. c is the CPU performing the insert that caused
// the eviction. key and value are only valid during the call.
//
// The hook may use c for lookups. Updates, deletes and batch operations
// through c fail with ErrBusy. The hook must not pin another CPU of the
// table, which can deadlock when all CPUs are in use.
type EvictHook func(c *CPU, key, value []byte)

// Options configures a Table during creation
type Options struct {
	Name            string          // Name used in log messages and metric labels
	KeySize         int             // Fixed key size in bytes
	ValueSize       int             // Fixed value size in bytes (per CPU for per-CPU tables)
	MaxEntries      int             // Capacity of the table
	BucketCountHint int             // Number of buckets, rounded up to a power of two (0 = MaxEntries)
	PerCPU          bool            // Store one value per CPU
	Variant         hmap.Variant    // Plain or LRU
	Allocation      hmap.Allocation // Preallocated or Dynamic
	PerCPULRU       bool            // Give every CPU its own LRU list (LRU only)
	NumCPU          int             // Number of execution contexts (0 = runtime.GOMAXPROCS)
	ZeroSeed        bool            // Hash with seed 0 instead of a random seed (tests only)
	Hasher          util.Hasher     // Hash function (nil = util.HashXX)
	EvictHook       EvictHook       // Called for every evicted entry (LRU only, optional)
}

// DefaultOptions returns the default table options
func DefaultOptions() *Options {
	return &Options{
		Name:       "htab",
		KeySize:    8,
		ValueSize:  8,
		MaxEntries: 1024,
		Variant:    hmap.Plain,
		Allocation: hmap.Preallocated,
		NumCPU:     runtime.GOMAXPROCS(0),
		Hasher:     util.HashXX,
	}
}

// String returns a formatted string representation of the options
func (o *Options) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Table")
	addField("Name", o.Name)
	addField("Variant", o.Variant.String())
	addField("Allocation", o.Allocation.String())
	addField("Per-CPU Values", strconv.FormatBool(o.PerCPU))

	addSection("Sizes")
	addField("Key Size", fmt.Sprintf("%d bytes", o.KeySize))
	addField("Value Size", fmt.Sprintf("%d bytes", o.ValueSize))
	addField("Max Entries", strconv.Itoa(o.MaxEntries))
	if o.BucketCountHint > 0 {
		addField("Bucket Count Hint", strconv.Itoa(o.BucketCountHint))
	} else {
		addField("Bucket Count Hint", "max entries")
	}

	addSection("Concurrency")
	addField("CPUs", strconv.Itoa(o.NumCPU))
	if o.Variant == hmap.LRU {
		addField("Per-CPU LRU Lists", strconv.FormatBool(o.PerCPULRU))
	}
	addField("Zero Seed", strconv.FormatBool(o.ZeroSeed))

	return sb.String()
}

// validate checks the options and fills in defaults
func (o *Options) validate() error {
	if o.Name == "" {
		o.Name = "htab"
	}
	if o.NumCPU == 0 {
		o.NumCPU = runtime.GOMAXPROCS(0)
	}
	if o.Hasher == nil {
		o.Hasher = util.HashXX
	}

	switch {
	case o.KeySize <= 0 || o.KeySize > maxKeySize:
		return hmap.NewError(hmap.KindInvalidArgument, "key size %d not in [1, %d]", o.KeySize, maxKeySize)
	case o.ValueSize <= 0 || o.ValueSize > maxValueSize:
		return hmap.NewError(hmap.KindInvalidArgument, "value size %d not in [1, %d]", o.ValueSize, maxValueSize)
	case o.MaxEntries <= 0:
		return hmap.NewError(hmap.KindInvalidArgument, "max entries must be positive, got %d", o.MaxEntries)
	case o.BucketCountHint < 0 || o.BucketCountHint > maxBuckets:
		return hmap.NewError(hmap.KindInvalidArgument, "bucket count hint %d not in [0, %d]", o.BucketCountHint, maxBuckets)
	case o.NumCPU < 0:
		return hmap.NewError(hmap.KindInvalidArgument, "cpu count must not be negative, got %d", o.NumCPU)
	case o.Variant != hmap.Plain && o.Variant != hmap.LRU:
		return hmap.NewError(hmap.KindInvalidArgument, "unknown variant %d", o.Variant)
	case o.Allocation != hmap.Preallocated && o.Allocation != hmap.Dynamic:
		return hmap.NewError(hmap.KindInvalidArgument, "unknown allocation %d", o.Allocation)
	case o.Variant == hmap.LRU && o.Allocation == hmap.Dynamic:
		return hmap.NewError(hmap.KindInvalidArgument, "lru tables must be preallocated")
	case o.PerCPULRU && o.Variant != hmap.LRU:
		return hmap.NewError(hmap.KindInvalidArgument, "per-cpu lru lists require the lru variant")
	case o.EvictHook != nil && o.Variant != hmap.LRU:
		return hmap.NewError(hmap.KindInvalidArgument, "evict hooks require the lru variant")
	}

	if o.PerCPULRU && o.MaxEntries%o.NumCPU != 0 {
		o.MaxEntries += o.NumCPU - o.MaxEntries%o.NumCPU
	}
	if o.MaxEntries > maxBuckets {
		return hmap.NewError(hmap.KindInvalidArgument, "max entries %d exceeds %d", o.MaxEntries, maxBuckets)
	}
	return nil
}

// --------------------------------------------------------------------------
// Table
// --------------------------------------------------------------------------

// Table is a fixed-capacity concurrent hash table with byte-string keys and
// values of fixed size. It implements hmap.Map.
//
// Lookups never take a lock. Writers lock the one bucket they modify and
// draw element storage from the allocator selected by the options.
type Table struct {
	name       string
	opts       Options
	keySize    int
	valueSize  int
	keyWords   int
	valueWords int // words per value slot
	maxEntries int
	nCPU       int
	perCPU     bool
	variant    hmap.Variant

	buckets []bucket
	mask    uint32
	seed    uint64
	hasher  util.Hasher

	alloc   allocator
	lru     *lruEngine    // LRU tables only
	epoch   *epochDomain  // dynamic tables only
	pool    []element     // preallocated tables only
	cpus    []*CPU
	idle    chan *CPU
	count   atomic.Int64 // live entries
	hardCap bool

	evictHook EvictHook
	stats     stats
	metrics   *metrics.Set
	closed    atomic.Bool
}

// NewTable creates a table with the given options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// per table during initialization.
func NewTable(opts *Options) (*Table, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.validate(); err != nil {
		return nil, err
	}

	nBuckets := o.BucketCountHint
	if nBuckets == 0 {
		nBuckets = o.MaxEntries
	}
	nBuckets = util.NextPowerOfTwo(nBuckets)
	if nBuckets > maxBuckets {
		return nil, hmap.NewError(hmap.KindInvalidArgument, "bucket count %d exceeds %d", nBuckets, maxBuckets)
	}

	t := &Table{
		name:       o.Name,
		opts:       o,
		keySize:    o.KeySize,
		valueSize:  o.ValueSize,
		keyWords:   internal.WordsFor(o.KeySize),
		valueWords: internal.WordsFor(o.ValueSize),
		maxEntries: o.MaxEntries,
		nCPU:       o.NumCPU,
		perCPU:     o.PerCPU,
		variant:    o.Variant,
		buckets:    newBuckets(nBuckets),
		mask:       uint32(nBuckets - 1),
		hasher:     o.Hasher,
		evictHook:  o.EvictHook,
		stats:      newStats(),
	}
	if !o.ZeroSeed {
		t.seed = util.GenerateSeed()
	}
	t.cpus, t.idle = newCPUs(t, t.nCPU)

	switch {
	case o.Allocation == hmap.Dynamic:
		a := newDynamicAllocator(t, t.nCPU)
		t.alloc = a
		t.epoch = a.epoch
		t.hardCap = true

	case o.Variant == hmap.LRU:
		lists := 1
		if o.PerCPULRU {
			lists = t.nCPU
		}
		t.pool = t.newPool(t.maxEntries)
		t.lru = newLRUEngine(lists, o.PerCPULRU, t.evictElement)
		t.lru.populate(t.pool)
		t.alloc = &lruAllocator{lru: t.lru}

	default:
		// spare elements let replacing updates of a full table succeed
		spares := !o.PerCPU
		size := t.maxEntries
		if spares {
			size += t.nCPU
		}
		t.pool = t.newPool(size)
		t.alloc = newPoolAllocator(t.pool, t.cpus, spares)
	}

	t.metrics = newMetricSet(t)

	Logger.Infof("created table %q: %s/%s, %d entries, %d buckets, %d cpus",
		t.name, o.Variant, o.Allocation, t.maxEntries, nBuckets, t.nCPU)

	return t, nil
}

// New creates a table and returns it as hmap.Map
func New(opts *Options) (hmap.Map, error) {
	t, err := NewTable(opts)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// hashKey hashes a key with the table seed
func (t *Table) hashKey(key []byte) uint32 {
	return util.Fold32(t.hasher(key, t.seed))
}

// Close stops deferred reclamation and releases the storage of the table.
// Operations after Close fail with ErrClosed.
//
// Thread-safety: This method is thread-safe, but operations running
// concurrently with Close may or may not observe the closed table.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return hmap.ErrClosed
	}
	t.alloc.close()
	Logger.Debugf("closed table %q with %d live entries", t.name, t.count.Load())
	return nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Metadata is the engine specific part of hmap.MapInfo
type Metadata struct {
	Counters     Counters               `json:"counters"`
	Chains       util.DistributionStats `json:"chains"`
	LongestChain int                    `json:"longest_chain"`
	FreeElements int                    `json:"free_elements"`
	GracePeriods uint64                 `json:"grace_periods,omitempty"`
	Reclaimed    uint64                 `json:"reclaimed,omitempty"`
}

// KeySize returns the fixed key size
func (t *Table) KeySize() int {
	return t.keySize
}

// ValueSize returns the fixed value size (per CPU for per-CPU tables)
func (t *Table) ValueSize() int {
	return t.valueSize
}

// NumCPU returns the number of execution contexts
func (t *Table) NumCPU() int {
	return t.nCPU
}

// Len returns the number of live entries
func (t *Table) Len() int {
	return int(t.count.Load())
}

// Options returns the normalized options the table was created with
func (t *Table) Options() Options {
	return t.opts
}

// SupportsFeature checks if the table supports the specified feature(s)
func (t *Table) SupportsFeature(feature hmap.Feature) bool {
	return feature&t.features() == feature
}

func (t *Table) features() hmap.Feature {
	f := hmap.FeatureLookup | hmap.FeatureUpdate | hmap.FeatureDelete |
		hmap.FeatureNextKey | hmap.FeatureBatch | hmap.FeatureForEach
	if t.perCPU {
		f |= hmap.FeaturePerCPU
	}
	if t.variant == hmap.LRU {
		f |= hmap.FeatureEviction
	}
	return f
}

// Info returns configuration, size and health information of the table.
// Chain statistics are computed by walking every bucket without locks.
func (t *Table) Info() hmap.MapInfo {
	chains := make([]float64, len(t.buckets))
	longest := 0
	for i := range t.buckets {
		n := t.buckets[i].length()
		chains[i] = float64(n)
		if n > longest {
			longest = n
		}
	}

	var supported []hmap.Feature
	all := t.features()
	for f := hmap.FeatureLookup; f <= hmap.FeatureEviction; f <<= 1 {
		if all&f != 0 {
			supported = append(supported, f)
		}
	}

	meta := Metadata{
		Counters:     t.stats.snapshot(),
		Chains:       util.NewDistributionStats(chains),
		LongestChain: longest,
		FreeElements: t.alloc.free(),
	}
	if t.epoch != nil {
		meta.GracePeriods = t.epoch.grace.Load()
		meta.Reclaimed = t.epoch.reclaimed.Load()
	}

	return hmap.MapInfo{
		MapType:           hmap.ImplHTab,
		Variant:           t.variant.String(),
		Allocation:        t.opts.Allocation.String(),
		KeySize:           t.keySize,
		ValueSize:         t.valueSize,
		MaxEntries:        t.maxEntries,
		Buckets:           len(t.buckets),
		CPUs:              t.nCPU,
		LiveCount:         int(t.count.Load()),
		SizeBytes:         t.sizeBytes(),
		SupportedFeatures: supported,
		Metadata:          meta,
	}
}

// sizeBytes estimates the memory held by the table
func (t *Table) sizeBytes() int {
	elemSize := int(unsafe.Sizeof(element{})) + 8*(t.keyWords+t.valueWords*t.valueSlots())
	size := len(t.buckets) * int(unsafe.Sizeof(bucket{}))
	size += len(t.cpus) * int(unsafe.Sizeof(CPU{}))
	if t.pool != nil {
		size += len(t.pool) * elemSize
	} else {
		size += int(t.count.Load()) * elemSize
	}
	return size
}
