package transcribe

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestDialDoesNotMutateDefaultDialer(t *testing.T) {
	before := websocket.DefaultDialer.HandshakeTimeout

	// Nothing listens here; the dial fails fast and must leave the shared
	// package-level dialer untouched.
	_, err := NewDeepgramStream(DeepgramOptions{
		URL:        "ws://127.0.0.1:1/v1/listen",
		APIKey:     "test-key",
		SampleRate: 16000,
		Language:   "en",
		Track:      "host-audio",
	})
	if err == nil {
		t.Fatal("expected the dial to fail")
	}

	if got := websocket.DefaultDialer.HandshakeTimeout; got != before {
		t.Errorf("DefaultDialer.HandshakeTimeout changed from %v to %v", before, got)
	}
}

func TestParseResultClassification(t *testing.T) {
	s := &DeepgramStream{opts: DeepgramOptions{Track: "host-audio"}}

	cases := []struct {
		name     string
		payload  string
		wantOK   bool
		wantKind EventKind
		wantText string
	}{
		{
			name:     "final transcript",
			payload:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world"}]}}`,
			wantOK:   true,
			wantKind: EventFinal,
			wantText: "hello world",
		},
		{
			name:     "interim transcript",
			payload:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello wo"}]}}`,
			wantOK:   true,
			wantKind: EventInterim,
			wantText: "hello wo",
		},
		{
			name:    "metadata frame ignored",
			payload: `{"type":"Metadata","request_id":"abc"}`,
			wantOK:  false,
		},
		{
			name:    "silence ignored",
			payload: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
			wantOK:  false,
		},
		{
			name:    "malformed json ignored",
			payload: `{"type":`,
			wantOK:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := s.parseResult([]byte(tc.payload))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if ev.Kind != tc.wantKind {
				t.Errorf("kind = %v, want %v", ev.Kind, tc.wantKind)
			}
			if ev.Text != tc.wantText {
				t.Errorf("text = %q, want %q", ev.Text, tc.wantText)
			}
			if ev.Track != "host-audio" {
				t.Errorf("track = %q, want host-audio", ev.Track)
			}
		})
	}
}
