// Package util
//
// This file provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
// The connection uses it as its outbox: any goroutine may Push an encoded
// frame, a single writer goroutine drains Recv and writes to the transport,
// so frames never interleave on the wire.
//
// Features and Guarantees:
//
//   - Lock-Free pushes: atomic operations only, producers never block each other
//   - Unbounded Size: limited only by available memory
//   - Single Consumer: values are delivered through the Recv() channel
//   - Per-producer order: values pushed by one goroutine arrive in push order.
//     Across producers the order is the order in which the pushes completed.
//   - Close delivers everything already queued, Abort drops it
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is a single element in the queue
type mpscNode[T any] struct {
	value *T
	next  atomic.Pointer[mpscNode[T]]
}

// MPSC is a lock-free multi-producer single-consumer queue backed by a linked
// list of nodes
type MPSC[T any] struct {
	head     atomic.Pointer[mpscNode[T]]
	tail     atomic.Pointer[mpscNode[T]]
	out      chan *T
	abort    chan struct{}
	consumer sync.WaitGroup
	closed   atomic.Bool
	aborted  atomic.Bool
	dropped  atomic.Uint64

	// condition variable used by the consumer to wait for new values
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSC creates a queue and starts its consumer goroutine
func NewMPSC[T any]() *MPSC[T] {
	sentinel := &mpscNode[T]{}

	q := &MPSC[T]{
		out:   make(chan *T),
		abort: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds a value to the queue.
// It returns false if the value is nil or the queue is closed.
func (q *MPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &mpscNode[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.signal()
				return true
			}
		} else {
			// help a producer that appended but did not advance the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin shortly under low contention, yield under high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Recv returns the channel the consumer reads values from.
// The channel is closed after Close once all values were delivered, or
// right after Abort.
func (q *MPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting values. Values already queued are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Abort stops accepting values and drops everything that was not delivered
// yet. It returns once the consumer goroutine has stopped.
func (q *MPSC[T]) Abort() {
	q.closed.Store(true)
	if q.aborted.CompareAndSwap(false, true) {
		close(q.abort)
	}
	q.signal()
	q.consumer.Wait()
}

// IsClosed returns true if the queue no longer accepts values
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Dropped returns the number of values discarded by Abort
func (q *MPSC[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns an approximate count of the queued values.
// This is O(n) and should only be used for debugging and metrics.
func (q *MPSC[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			return count
		}
		count++
		current = next
	}
}

// signal wakes the consumer. Taking the lock makes sure the wakeup can not
// slip in between the consumer's empty check and its Wait.
func (q *MPSC[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves values from the linked list to the output channel
func (q *MPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)

			select {
			case q.out <- value:
			case <-q.abort:
				q.dropped.Add(uint64(1 + q.Len()))
				return
			}
			next.value = nil // help the gc
		}

		if q.aborted.Load() {
			q.dropped.Add(uint64(q.Len()))
			return
		}
		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}
