package audio

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueFrames is the default capacity of a [FrameQueue]: ten seconds
// of 20 ms frames.
const DefaultQueueFrames = 500

// DropReason says why [FrameQueue.Push] refused a frame.
type DropReason string

const (
	DropMuted  DropReason = "muted"
	DropFull   DropReason = "full"
	DropClosed DropReason = "closed"
)

// FrameQueue is the bounded hand-off between a capture callback and the
// consumer of a [Source]. Push never blocks: when the queue is full the
// newest frame is dropped and counted, so a stalled consumer cannot back
// pressure the audio driver.
//
// FrameQueue is safe for concurrent use.
type FrameQueue struct {
	ch      chan AudioFrame
	muted   atomic.Bool
	dropped atomic.Int64

	// mu guards closed and ch against a Push racing Close.
	mu     sync.RWMutex
	closed bool

	onDrop func(DropReason)
}

// NewFrameQueue returns a queue holding at most capacity frames. A capacity
// of zero or less selects [DefaultQueueFrames]. onDrop, if non-nil, is called
// for every refused frame, from the pushing goroutine.
func NewFrameQueue(capacity int, onDrop func(DropReason)) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueFrames
	}
	return &FrameQueue{
		ch:     make(chan AudioFrame, capacity),
		onDrop: onDrop,
	}
}

// Push enqueues f and reports whether it was accepted. Frames are refused
// while the queue is muted, full, or closed.
func (q *FrameQueue) Push(f AudioFrame) bool {
	if q.muted.Load() {
		q.drop(DropMuted)
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(DropClosed)
		return false
	}
	select {
	case q.ch <- f:
		return true
	default:
		q.drop(DropFull)
		return false
	}
}

func (q *FrameQueue) drop(reason DropReason) {
	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop(reason)
	}
}

// Frames returns the receive side of the queue. It is closed by [FrameQueue.Close].
func (q *FrameQueue) Frames() <-chan AudioFrame { return q.ch }

// SetMuted switches muting on or off.
func (q *FrameQueue) SetMuted(muted bool) { q.muted.Store(muted) }

// Muted reports whether the queue is currently muted.
func (q *FrameQueue) Muted() bool { return q.muted.Load() }

// Dropped returns the total number of frames refused so far.
func (q *FrameQueue) Dropped() int64 { return q.dropped.Load() }

// Len returns the number of frames waiting in the queue.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Flush discards all queued frames and returns how many were removed.
func (q *FrameQueue) Flush() int { return DrainPending(q.ch) }

// Close closes the frame channel. Frames already queued can still be
// received. Subsequent calls are no-ops.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
