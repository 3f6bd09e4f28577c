package util

import (
	"runtime"
	"sync/atomic"
)

// LockFreeMPSC is an unbounded multi-producer single-consumer queue.
//
// Producers append to a linked list with a CAS on the tail and never block.
// One goroutine owned by the queue moves items from the list into the channel
// returned by Recv. The htab engine pushes unlinked elements here and its
// reclaimer receives them once readers have drained.
//
// Items pushed by one goroutine are delivered in push order. Items of
// different producers are delivered in the order their appends succeeded.
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[mpscNode[T]] // sentinel, only touched by the mover
	tail   atomic.Pointer[mpscNode[T]]
	count  atomic.Int64
	closed atomic.Bool

	wake chan struct{} // holds at most one pending wakeup
	out  chan *T
}

type mpscNode[T any] struct {
	value *T
	next  atomic.Pointer[mpscNode[T]]
}

// NewLockFreeMPSC creates a queue and starts the goroutine feeding Recv
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	q := &LockFreeMPSC[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan *T),
	}
	sentinel := &mpscNode[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.move()
	return q
}

// Push appends value. It returns false for a nil value or a closed queue.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	q.count.Add(1)
	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// another producer appended but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			break
		}
		if spins > 4 {
			runtime.Gosched()
		}
	}

	q.notify()
	return true
}

// notify leaves a wakeup token for the mover unless one is pending.
// A token survives until the mover takes it, so no wakeup is lost.
func (q *LockFreeMPSC[T]) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// move delivers items to out until the queue is closed and empty
func (q *LockFreeMPSC[T]) move() {
	defer close(q.out)

	for {
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			value := next.value
			next.value = nil
			q.head.Store(next)
			q.count.Add(-1)
			q.out <- value
		}

		if q.closed.Load() && q.head.Load().next.Load() == nil {
			return
		}
		<-q.wake
	}
}

// Recv returns the channel items are delivered on. It is closed after Close
// once every pushed item was received.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close rejects further pushes. Items already pushed are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.notify()
}

// IsClosed reports whether Close was called
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items not yet handed to the consumer
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.count.Load())
}
