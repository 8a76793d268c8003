package topic

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := newSegmentQueue()

	for i := 0; i < 5; i++ {
		if !q.push(Segment{Seq: uint64(i)}) {
			t.Fatalf("push %d rejected on an open queue", i)
		}
	}

	for i := 0; i < 5; i++ {
		seg, ok := q.pop()
		if !ok {
			t.Fatal("pop returned closed on an open queue")
		}
		if seg.Seq != uint64(i) {
			t.Fatalf("pop %d returned seq %d", i, seg.Seq)
		}
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newSegmentQueue()

	got := make(chan Segment, 1)
	go func() {
		seg, ok := q.pop()
		if ok {
			got <- seg
		}
	}()

	// Give the consumer a moment to park.
	time.Sleep(10 * time.Millisecond)
	q.push(Segment{Seq: 7})

	select {
	case seg := <-got:
		if seg.Seq != 7 {
			t.Errorf("got seq %d, want 7", seg.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop never woke up")
	}
}

func TestQueueCloseDiscardsAndWakes(t *testing.T) {
	q := newSegmentQueue()
	q.push(Segment{Seq: 1})
	q.push(Segment{Seq: 2})

	q.close()

	if _, ok := q.pop(); ok {
		t.Error("pop after close must report closed, pending items are discarded")
	}
	if q.push(Segment{Seq: 3}) {
		t.Error("push after close must be rejected")
	}
	if q.len() != 0 {
		t.Errorf("closed queue should be empty, has %d items", q.len())
	}

	// A parked consumer is woken by close.
	q2 := newSegmentQueue()
	done := make(chan struct{})
	go func() {
		if _, ok := q2.pop(); !ok {
			close(done)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q2.close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not wake the parked consumer")
	}
}
