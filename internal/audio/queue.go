package audio

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds the chunk queue when no capacity is configured.
const DefaultQueueCapacity = 10

// Eviction describes a chunk dropped by a full queue. It is reported to
// the observability sink; eviction is an expected overload signal, not
// an error.
type Eviction struct {
	Sequence int64
	Source   SourceTag
	Depth    int // queue depth immediately after the eviction's push completed
}

// EvictFunc receives eviction reports. Called with the queue lock
// released, from the pushing goroutine.
type EvictFunc func(Eviction)

// Queue is a fixed-capacity FIFO of chunks with drop-oldest overflow.
// It is the single serialization point between capture producers and
// the transcription consumer: push, pop and evict all run under one
// mutex held only for the O(1) slot operation, never across inference.
type Queue struct {
	mu     sync.Mutex
	buf    []*Chunk
	head   int
	count  int
	closed bool

	// notify wakes a consumer blocked in PopWait. Buffered so a push
	// never blocks on a slow consumer.
	notify chan struct{}

	onEvict EvictFunc
}

// NewQueue creates a queue holding at most capacity chunks. A
// non-positive capacity falls back to DefaultQueueCapacity.
func NewQueue(capacity int, onEvict EvictFunc) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		buf:     make([]*Chunk, capacity),
		notify:  make(chan struct{}, 1),
		onEvict: onEvict,
	}
}

// Push appends a chunk, evicting and returning the oldest chunk when
// the queue is full. It never blocks. A push to a closed queue is
// rejected and returns the chunk itself.
func (q *Queue) Push(c *Chunk) (evicted *Chunk) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return c
	}
	if q.count == len(q.buf) {
		evicted = q.buf[q.head]
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.count--
	}
	q.buf[(q.head+q.count)%len(q.buf)] = c
	q.count++
	depth := q.count
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	if evicted != nil && q.onEvict != nil {
		q.onEvict(Eviction{Sequence: evicted.Sequence, Source: evicted.Source, Depth: depth})
	}
	return evicted
}

// Pop removes and returns the oldest chunk, or nil when the queue is
// empty. Never blocks.
func (q *Queue) Pop() *Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() *Chunk {
	if q.count == 0 {
		return nil
	}
	c := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return c
}

// PopWait behaves like Pop but, when the queue is empty, waits up to
// wait for a chunk to arrive before giving up. Returns nil on timeout,
// context cancellation, or a closed empty queue.
func (q *Queue) PopWait(ctx context.Context, wait time.Duration) *Chunk {
	if c := q.Pop(); c != nil {
		return c
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return q.Pop()
		case <-q.notify:
			if c := q.Pop(); c != nil {
				return c
			}
			// Raced with another pop; keep waiting out the timer.
		}
	}
}

// Len returns the current number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Close rejects all further pushes. Queued chunks remain poppable so
// the consumer can drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Reset empties the queue and reopens it for pushes, returning the
// number of chunks discarded.
func (q *Queue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.count
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head = 0
	q.count = 0
	q.closed = false
	return dropped
}
