package htab

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// --------------------------------------------------------------------------
// Execution Contexts
// --------------------------------------------------------------------------

// Number of lock stripes a CPU tracks reentrancy for (bucket index & lockStripeMask)
const (
	lockStripes    = 8
	lockStripeMask = lockStripes - 1
)

// CPU is an execution context of a Table. At most one goroutine holds a CPU
// at a time: Pin leases it exclusively and Unpin hands it back.
//
// A CPU selects the value slot of per-CPU tables, the freelist partition and
// LRU list an insert draws from, and the spare element used by replacing
// updates. It also tracks which lock stripes it currently holds, so that an
// operation nested inside another one (an EvictHook calling back into the
// table) fails with ErrBusy instead of deadlocking on its own lock.
//
// Thread-safety: A CPU must only be used by the goroutine that pinned it.
type CPU struct {
	t  *Table
	id int

	locked [lockStripes]int32 // bucket locks held per stripe
	held   int32              // bucket locks held in total
	inLRU  bool               // the CPU holds an LRU list lock

	spare  *element // extra element for replacing updates (preallocated plain tables)
	pinned atomic.Bool

	_ cpu.CacheLinePad
}

// ID returns the index of the CPU in [0, NumCPU)
func (c *CPU) ID() int {
	return c.id
}

// Table returns the table the CPU belongs to
func (c *CPU) Table() *Table {
	return c.t
}

// Unpin returns the CPU to its table. Unpinning twice is a no-op.
func (c *CPU) Unpin() {
	if c.pinned.CompareAndSwap(true, false) {
		c.t.idle <- c
	}
}

// holdsLocks reports whether the CPU is inside a bucket or LRU critical section
func (c *CPU) holdsLocks() bool {
	return c.held > 0 || c.inLRU
}

// --------------------------------------------------------------------------
// Pinning
// --------------------------------------------------------------------------

// Pin leases an idle CPU of the table, waiting until one is available.
// The caller must call Unpin when done.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Pin() *CPU {
	c := <-t.idle
	c.pinned.Store(true)
	return c
}

// TryPin leases an idle CPU without waiting
func (t *Table) TryPin() (*CPU, bool) {
	select {
	case c := <-t.idle:
		c.pinned.Store(true)
		return c, true
	default:
		return nil, false
	}
}

// newCPUs creates the execution contexts of a table and parks them as idle
func newCPUs(t *Table, n int) ([]*CPU, chan *CPU) {
	cpus := make([]*CPU, n)
	idle := make(chan *CPU, n)
	for i := range cpus {
		cpus[i] = &CPU{t: t, id: i}
		idle <- cpus[i]
	}
	return cpus, idle
}
