// Package ingest drains the speech event stream and feeds finalized
// segments to the topic fan-out, preserving arrival order. Interim results
// only reach the room-wide captions forwarder; they never enter
// translation.
package ingest

import (
	"context"

	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/topic"
	"github.com/wing199901/live-translated-captioning/internal/transcribe"
)

// Dispatcher receives finalized segments, one call per segment, in order.
type Dispatcher interface {
	Dispatch(seg topic.Segment)
}

// CaptionSink receives every speech event for room-wide captioning.
type CaptionSink interface {
	Forward(ev transcribe.Event)
}

// Coordinator consumes one speech stream for the lifetime of a job.
type Coordinator struct {
	dispatcher Dispatcher
	captions   CaptionSink
	seq        uint64
}

// NewCoordinator creates a coordinator. captions may be nil when no
// room-wide caption output is wanted.
func NewCoordinator(dispatcher Dispatcher, captions CaptionSink) *Coordinator {
	return &Coordinator{dispatcher: dispatcher, captions: captions}
}

// Run drains events until the channel closes or ctx is cancelled. Segments
// are numbered and dispatched in the order they were finalized; Run is the
// only writer of the sequence counter.
func (c *Coordinator) Run(ctx context.Context, events <-chan transcribe.Event) {
	for {
		select {
		case <-ctx.Done():
			logging.Info(logging.CategoryJob, "ingest coordinator cancelled")
			return
		case ev, ok := <-events:
			if !ok {
				logging.Info(logging.CategoryJob, "speech stream ended, ingest coordinator exiting")
				return
			}

			if c.captions != nil {
				c.captions.Forward(ev)
			}

			if ev.Kind != transcribe.EventFinal {
				continue
			}

			c.seq++
			c.dispatcher.Dispatch(topic.Segment{
				Text:  ev.Text,
				Track: ev.Track,
				Seq:   c.seq,
			})
		}
	}
}
