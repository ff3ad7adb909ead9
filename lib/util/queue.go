package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// queueNode is a single element of the linked list backing a Queue
type queueNode[T any] struct {
	value T
	next  atomic.Pointer[queueNode[T]]
}

// Queue is a lock-free unbounded multi-producer single-consumer queue.
// Producers call Push from any goroutine; exactly one consumer reads from Recv.
// Items pushed by a single producer are delivered in the order they were pushed.
type Queue[T any] struct {
	head   atomic.Pointer[queueNode[T]]
	tail   atomic.Pointer[queueNode[T]]
	out    chan T
	closed atomic.Bool
	done   chan struct{}
	// stop makes the delivery goroutine give up on values nobody receives
	stop     chan struct{}
	stopOnce sync.Once

	// the consumer parks on cond when the list is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewQueue creates a queue and starts its delivery goroutine
func NewQueue[T any]() *Queue[T] {
	sentinel := &queueNode[T]{}
	q := &Queue[T]{
		out:  make(chan T),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.deliver()
	return q
}

// Push appends a value. It returns false once the queue is closed.
func (q *Queue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &queueNode[T]{value: value}
	var spins uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		} else if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)

			q.mu.Lock()
			q.cond.Signal()
			q.mu.Unlock()
			return true
		}

		// exponential backoff under contention
		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// deliver moves values from the list to the out channel until the queue is closed and drained
func (q *Queue[T]) deliver() {
	defer close(q.done)
	defer close(q.out)

	var zero T
	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)
			next.value = zero
			select {
			case q.out <- value:
			case <-q.stop:
				return
			}
			continue
		}

		if q.closed.Load() {
			return
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the channel the single consumer reads from.
// The channel is closed after Close once every pending value was delivered.
func (q *Queue[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting new values. Values already queued are still delivered.
func (q *Queue[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Stop closes the queue and discards the values not yet delivered. Use it when the
// consumer may be gone, Close would keep the delivery goroutine waiting for it.
func (q *Queue[T]) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.Close()
}

// Done is closed when the delivery goroutine has exited
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len counts the values not yet handed to the consumer. O(n), for diagnostics.
func (q *Queue[T]) Len() int {
	count := 0
	for cur := q.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		count++
	}
	return count
}
