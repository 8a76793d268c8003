package topic

import "sync"

// segmentQueue is an unbounded FIFO of transcript segments. Pushes never
// block, so a slow consumer can never stall the dispatcher. Closing the
// queue discards everything not yet dequeued.
type segmentQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Segment
	closed bool
}

func newSegmentQueue() *segmentQueue {
	q := &segmentQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a segment. It reports false once the queue is closed.
func (q *segmentQueue) push(seg Segment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, seg)
	q.cond.Signal()
	return true
}

// pop blocks until a segment is available or the queue is closed. The
// second return is false only when the queue has been closed.
func (q *segmentQueue) pop() (Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return Segment{}, false
	}
	seg := q.items[0]
	q.items = q.items[1:]
	return seg, true
}

// close discards all pending segments and wakes the consumer. A segment
// already dequeued is unaffected; the consumer finishes it and then stops.
func (q *segmentQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

func (q *segmentQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
