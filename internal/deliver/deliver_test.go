package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/wing199901/live-translated-captioning/internal/transcribe"
)

type sentPacket struct {
	data       []byte
	topic      string
	identities []string
}

type fakeSender struct {
	sent    []sentPacket
	failFor map[string]error
}

func (f *fakeSender) SendData(data []byte, topic string, identities []string) error {
	f.sent = append(f.sent, sentPacket{data: data, topic: topic, identities: identities})
	for _, id := range identities {
		if err, ok := f.failFor[id]; ok {
			return err
		}
	}
	return nil
}

func TestPublishSendsPerRecipient(t *testing.T) {
	sender := &fakeSender{}
	p := NewCaptionPublisher(sender)

	payload := Payload{Text: "bonjour", Language: "french", Final: true}
	if err := p.Publish(context.Background(), payload, []string{"l1", "l2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(sender.sent))
	}
	for i, want := range []string{"l1", "l2"} {
		pkt := sender.sent[i]
		if pkt.topic != TopicTranslation {
			t.Errorf("packet %d topic = %q, want %q", i, pkt.topic, TopicTranslation)
		}
		if len(pkt.identities) != 1 || pkt.identities[0] != want {
			t.Errorf("packet %d identities = %v, want [%s]", i, pkt.identities, want)
		}
		var got Payload
		if err := json.Unmarshal(pkt.data, &got); err != nil {
			t.Fatalf("packet %d payload not json: %v", i, err)
		}
		if got != payload {
			t.Errorf("packet %d payload = %+v, want %+v", i, got, payload)
		}
	}
}

func TestPublishFailureDoesNotAbortBatch(t *testing.T) {
	boom := errors.New("participant unreachable")
	sender := &fakeSender{failFor: map[string]error{"l1": boom}}
	p := NewCaptionPublisher(sender)

	err := p.Publish(context.Background(), Payload{Text: "hola", Language: "spanish"}, []string{"l1", "l2", "l3"})
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected error to wrap the send failure, got %v", err)
	}
	// All three recipients were attempted despite the first failing.
	if len(sender.sent) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(sender.sent))
	}
}

func TestPublishEmptyRecipientsIsNoop(t *testing.T) {
	sender := &fakeSender{}
	p := NewCaptionPublisher(sender)

	if err := p.Publish(context.Background(), Payload{Text: "x"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no packets, got %d", len(sender.sent))
	}
}

func TestCaptionsForwarderSegmentLifecycle(t *testing.T) {
	sender := &fakeSender{}
	f := NewCaptionsForwarder(sender)

	f.Forward(transcribe.Event{Kind: transcribe.EventInterim, Text: "hel", Track: "host"})
	f.Forward(transcribe.Event{Kind: transcribe.EventInterim, Text: "hello", Track: "host"})
	f.Forward(transcribe.Event{Kind: transcribe.EventFinal, Text: "hello world", Track: "host"})
	f.Forward(transcribe.Event{Kind: transcribe.EventInterim, Text: "next", Track: "host"})

	if len(sender.sent) != 4 {
		t.Fatalf("expected 4 broadcasts, got %d", len(sender.sent))
	}

	var segs []captionSegment
	for i, pkt := range sender.sent {
		if pkt.topic != TopicCaptions {
			t.Errorf("packet %d topic = %q, want %q", i, pkt.topic, TopicCaptions)
		}
		if pkt.identities != nil {
			t.Errorf("captions must broadcast to the whole room, got %v", pkt.identities)
		}
		var seg captionSegment
		if err := json.Unmarshal(pkt.data, &seg); err != nil {
			t.Fatalf("packet %d not json: %v", i, err)
		}
		segs = append(segs, seg)
	}

	if segs[0].ID != segs[1].ID || segs[1].ID != segs[2].ID {
		t.Error("interim updates and the closing final should share a segment id")
	}
	if !segs[2].Final {
		t.Error("third event should be final")
	}
	if segs[3].ID == segs[2].ID {
		t.Error("a new segment should start after a final event")
	}
}
