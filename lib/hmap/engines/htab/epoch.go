package htab

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/htab/lib/hmap/util"
	"github.com/bytedance/gopkg/lang/fastrand"
	"golang.org/x/sys/cpu"
)

// --------------------------------------------------------------------------
// Epoch Based Reclamation
// --------------------------------------------------------------------------

// Maximum number of retired elements reclaimed after one grace period
const reclaimBatch = 256

// epochDomain delays the reuse of unlinked elements of dynamic tables until
// every lock-free reader that could still observe them has finished.
//
// Readers announce themselves in a shard counter of the current epoch's
// parity. The reclaimer advances the epoch and waits for the counters of the
// previous parity to drain. Elements retired before the advance can then no
// longer be reached by any reader.
type epochDomain struct {
	global  atomic.Uint64
	readers [2][]epochShard

	retired *util.LockFreeMPSC[element]
	recycle func(e *element)
	done    chan struct{}

	grace     atomic.Uint64 // completed grace periods
	reclaimed atomic.Uint64 // elements handed to recycle
}

type epochShard struct {
	n atomic.Int64
	_ cpu.CacheLinePad
}

// readToken identifies a read-side critical section
type readToken struct {
	epoch uint64
	shard int
}

func newEpochDomain(shards int, recycle func(e *element)) *epochDomain {
	d := &epochDomain{
		retired: util.NewLockFreeMPSC[element](),
		recycle: recycle,
		done:    make(chan struct{}),
	}
	d.readers[0] = make([]epochShard, shards)
	d.readers[1] = make([]epochShard, shards)
	go d.reclaim()
	return d
}

// enter starts a read-side critical section
func (d *epochDomain) enter() readToken {
	shards := len(d.readers[0])
	for {
		ep := d.global.Load()
		s := fastrand.Intn(shards)
		d.readers[ep&1][s].n.Add(1)
		if d.global.Load() == ep {
			return readToken{epoch: ep, shard: s}
		}
		// the epoch moved while announcing, announce again
		d.readers[ep&1][s].n.Add(-1)
	}
}

// exit ends a read-side critical section
func (d *epochDomain) exit(tok readToken) {
	d.readers[tok.epoch&1][tok.shard].n.Add(-1)
}

// retire queues an unlinked element for reclamation.
// It returns false if the domain is closed.
func (d *epochDomain) retire(e *element) bool {
	return d.retired.Push(e)
}

// synchronize waits until every reader that entered before the call has exited
func (d *epochDomain) synchronize() {
	old := d.global.Add(1) - 1
	counters := d.readers[old&1]
	for spins := 0; ; spins++ {
		var active int64
		for i := range counters {
			active += counters[i].n.Load()
		}
		if active == 0 {
			break
		}
		if spins < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(10 * time.Microsecond)
		}
	}
	d.grace.Add(1)
}

// reclaim is the single consumer of the retire queue
func (d *epochDomain) reclaim() {
	defer close(d.done)

	batch := make([]*element, 0, reclaimBatch)
	for e := range d.retired.Recv() {
		batch = append(batch[:0], e)

	drain:
		for len(batch) < reclaimBatch {
			select {
			case next, ok := <-d.retired.Recv():
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		d.synchronize()
		for _, r := range batch {
			d.recycle(r)
		}
		d.reclaimed.Add(uint64(len(batch)))
	}
}

// close stops accepting elements and waits until the queued ones are reclaimed
func (d *epochDomain) close() {
	d.retired.Close()
	<-d.done
}
