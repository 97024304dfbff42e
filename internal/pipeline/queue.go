package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/posenode/internal/metrics"
	"github.com/smazurov/posenode/internal/pose"
)

// DefaultQueueCapacity keeps only the latest frame.
const DefaultQueueCapacity = 1

// FrameQueue is a FIFO of pose frames between one producer and one consumer.
// A capacity of 0 (or less) is unbounded. A bounded queue evicts its oldest
// frame on overflow and counts the drop.
type FrameQueue struct {
	mu       sync.Mutex
	items    []pose.Frame
	capacity int
	closed   bool

	ready   chan struct{}
	closeCh chan struct{}
	dropped atomic.Uint64
	popped  atomic.Uint64
}

// NewFrameQueue creates a queue with the given capacity.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &FrameQueue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
}

// Push appends a frame without blocking. It returns false once the queue is closed.
func (q *FrameQueue) Push(frame pose.Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped.Add(1)
		metrics.IncQueueDropped()
	}
	q.items = append(q.items, frame)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest frame. It waits up to timeout for one to arrive;
// a zero timeout only tries once. It returns false on timeout, when done
// closes, or when the queue is closed.
func (q *FrameQueue) Pop(done <-chan struct{}, timeout time.Duration) (pose.Frame, bool) {
	if frame, ok, closed := q.tryPop(); ok || closed || timeout <= 0 {
		return frame, ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.ready:
		case <-q.closeCh:
			return nil, false
		case <-done:
			return nil, false
		case <-timer.C:
			frame, ok, _ := q.tryPop()
			return frame, ok
		}
		if frame, ok, closed := q.tryPop(); ok || closed {
			return frame, ok
		}
	}
}

func (q *FrameQueue) tryPop() (pose.Frame, bool, bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, false, true
	}
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false, false
	}
	frame := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	depth := len(q.items)
	q.mu.Unlock()

	q.popped.Add(1)
	metrics.SetQueueDepth(depth)
	return frame, true, false
}

// Close discards queued frames and returns how many were discarded.
// Later calls return 0.
func (q *FrameQueue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	n := len(q.items)
	q.items = nil
	close(q.closeCh)
	metrics.SetQueueDepth(0)
	return n
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Popped returns how many frames the consumer has taken.
func (q *FrameQueue) Popped() uint64 {
	return q.popped.Load()
}

// Dropped returns how many frames were evicted by overflow.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}
