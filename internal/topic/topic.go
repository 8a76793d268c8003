// Package topic fans finalized transcript segments out to per-language
// translation workers. Each live target language owns exactly one topic:
// an unbounded FIFO queue consumed by a single worker goroutine, so
// translations for a language are emitted in the order spoken while
// languages progress independently of each other.
package topic

import (
	"context"

	"github.com/wing199901/live-translated-captioning/internal/deliver"
	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/registry"
	"github.com/wing199901/live-translated-captioning/internal/translate"
)

// Segment is one finalized transcript segment. Segments are immutable and
// shared by reference across all live topics.
type Segment struct {
	Text  string
	Track string
	Seq   uint64
}

// Topic is the processing unit for one target language: a queue plus the
// single worker goroutine consuming it.
type Topic struct {
	language   string
	passthru   bool
	translator translate.Translator
	queue      *segmentQueue
	reg        *registry.Registry
	publisher  deliver.Publisher
	done       chan struct{}
}

func newTopic(
	language string,
	passthru bool,
	translator translate.Translator,
	reg *registry.Registry,
	publisher deliver.Publisher,
) *Topic {
	return &Topic{
		language:   language,
		passthru:   passthru,
		translator: translator,
		queue:      newSegmentQueue(),
		reg:        reg,
		publisher:  publisher,
		done:       make(chan struct{}),
	}
}

// enqueue adds a segment to the topic's queue without blocking. It reports
// false once the topic has been released.
func (t *Topic) enqueue(seg Segment) bool {
	return t.queue.push(seg)
}

// release stops the worker after the in-flight segment, if any, finishes.
// Undelivered queued segments are discarded.
func (t *Topic) release() {
	t.queue.close()
}

// run is the worker loop: dequeue, translate (unless pass-through), resolve
// the eligible recipients, deliver. One iteration per segment, in order.
func (t *Topic) run(ctx context.Context) {
	defer close(t.done)

	for {
		seg, ok := t.queue.pop()
		if !ok {
			logging.Info(logging.CategoryTopic, "topic worker stopped language=%s", t.language)
			return
		}

		text := seg.Text
		if !t.passthru {
			translated, err := t.translator.Translate(ctx, seg.Text)
			if err != nil {
				// Skip the segment rather than retry: a stale retry would
				// arrive out of order behind newer segments.
				logging.Error(logging.CategoryTopic, "translation failed language=%s seq=%d: %v", t.language, seg.Seq, err)
				continue
			}
			text = translated
		}

		// Eligibility is resolved now, not at enqueue time, so a listener
		// who toggled forwarding while the segment was queued sees their
		// latest preference.
		identities := t.reg.EligibleIdentities(t.language)
		if len(identities) == 0 {
			logging.Debug(logging.CategoryTopic, "no eligible listeners, dropping output language=%s seq=%d", t.language, seg.Seq)
			continue
		}

		payload := deliver.Payload{Text: text, Language: t.language, Final: true}
		if err := t.publisher.Publish(ctx, payload, identities); err != nil {
			// Per-recipient isolation happens inside the publisher; by the
			// time an error surfaces here every recipient was attempted.
			logging.Warning(logging.CategoryTopic, "partial delivery language=%s seq=%d: %v", t.language, seg.Seq, err)
		}
	}
}
