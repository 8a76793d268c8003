package deliver

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/transcribe"
)

// captionSegment is the wire format for a room-wide caption update.
type captionSegment struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Track string `json:"track"`
	Final bool   `json:"final"`
}

// CaptionsForwarder broadcasts source-language captions to the whole room.
// Interim events reuse the current segment id so clients can update a
// caption in place; a final event closes the segment and the next event
// starts a new one.
type CaptionsForwarder struct {
	sender DataSender

	mu        sync.Mutex
	segmentID string
}

// NewCaptionsForwarder creates a forwarder on top of a data sender.
func NewCaptionsForwarder(sender DataSender) *CaptionsForwarder {
	return &CaptionsForwarder{sender: sender}
}

// Forward publishes one caption update for the given speech event.
func (f *CaptionsForwarder) Forward(ev transcribe.Event) {
	f.mu.Lock()
	if f.segmentID == "" {
		f.segmentID = uuid.NewString()
	}
	seg := captionSegment{
		ID:    f.segmentID,
		Text:  ev.Text,
		Track: ev.Track,
		Final: ev.Kind == transcribe.EventFinal,
	}
	if seg.Final {
		f.segmentID = ""
	}
	f.mu.Unlock()

	data, err := json.Marshal(seg)
	if err != nil {
		logging.Error(logging.CategoryDeliver, "marshal caption segment: %v", err)
		return
	}
	if err := f.sender.SendData(data, TopicCaptions, nil); err != nil {
		logging.Warning(logging.CategoryDeliver, "caption broadcast failed: %v", err)
	}
}
