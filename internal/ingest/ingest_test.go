package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/wing199901/live-translated-captioning/internal/topic"
	"github.com/wing199901/live-translated-captioning/internal/transcribe"
)

type recordingDispatcher struct {
	segments []topic.Segment
}

func (d *recordingDispatcher) Dispatch(seg topic.Segment) {
	d.segments = append(d.segments, seg)
}

type recordingSink struct {
	events []transcribe.Event
}

func (s *recordingSink) Forward(ev transcribe.Event) {
	s.events = append(s.events, ev)
}

func runToCompletion(t *testing.T, c *Coordinator, events []transcribe.Event) {
	t.Helper()
	ch := make(chan transcribe.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not exit after the stream ended")
	}
}

func TestOnlyFinalEventsAreDispatched(t *testing.T) {
	d := &recordingDispatcher{}
	sink := &recordingSink{}
	c := NewCoordinator(d, sink)

	runToCompletion(t, c, []transcribe.Event{
		{Kind: transcribe.EventInterim, Text: "hel", Track: "host"},
		{Kind: transcribe.EventInterim, Text: "hello", Track: "host"},
		{Kind: transcribe.EventFinal, Text: "hello world", Track: "host"},
		{Kind: transcribe.EventInterim, Text: "how", Track: "host"},
		{Kind: transcribe.EventFinal, Text: "how are you", Track: "host"},
	})

	if len(d.segments) != 2 {
		t.Fatalf("expected 2 dispatched segments, got %d", len(d.segments))
	}
	if d.segments[0].Text != "hello world" || d.segments[1].Text != "how are you" {
		t.Errorf("dispatched wrong texts: %+v", d.segments)
	}
	// Every event, interim included, reaches the captions sink.
	if len(sink.events) != 5 {
		t.Errorf("expected 5 caption events, got %d", len(sink.events))
	}
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewCoordinator(d, nil)

	var events []transcribe.Event
	for i := 0; i < 10; i++ {
		events = append(events, transcribe.Event{Kind: transcribe.EventFinal, Text: "seg", Track: "host"})
	}
	runToCompletion(t, c, events)

	for i, seg := range d.segments {
		if seg.Seq != uint64(i+1) {
			t.Fatalf("segment %d has seq %d, want %d", i, seg.Seq, i+1)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c := NewCoordinator(&recordingDispatcher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan transcribe.Event)

	done := make(chan struct{})
	go func() {
		c.Run(ctx, ch)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on cancellation")
	}
}
