package encoder

import "sync"

// frameQueueCapacity is the bound from spec.md §3: "H.264 frame queue (per
// camera, feeding StreamLoops): bounded at 5; on overflow the oldest entry
// is discarded (drop-old)."
const frameQueueCapacity = 5

// FrameQueue is a small mutex-protected ring buffer implementing the
// drop-old policy from spec.md §9 ("Bounded drop-old queue"): Push evicts
// the oldest entry before inserting once the queue is full. This is the
// only intentional lossy boundary on the encoded side.
type FrameQueue struct {
	mu    sync.Mutex
	items []*EncodedFrame
}

// NewFrameQueue creates an empty queue at the spec's fixed capacity.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{
		items: make([]*EncodedFrame, 0, frameQueueCapacity),
	}
}

// Push appends a frame, discarding the oldest entry first if the queue is
// already at capacity.
func (q *FrameQueue) Push(f *EncodedFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= frameQueueCapacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, f)
}

// Pop removes and returns the oldest frame, or (nil, false) if the queue is
// empty — StreamLoop's non-blocking dequeue (spec.md §4.7).
func (q *FrameQueue) Pop() (*EncodedFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

// Len reports the current queue depth, for tests and introspection.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes every queued frame, used when a camera/encoder stops.
func (q *FrameQueue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}
