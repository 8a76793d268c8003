// Package deliver sends caption output to room participants as reliable
// data packets. Translated text goes to an explicit recipient set; interim
// captions are broadcast to the whole room.
package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/wing199901/live-translated-captioning/internal/logging"
)

// Data topics used on the LiveKit data channel.
const (
	TopicTranslation = "translation"
	TopicCaptions    = "captions"
)

// Payload is the wire format for a delivered caption.
type Payload struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Final    bool   `json:"final"`
}

// Publisher delivers a payload to a set of recipient identities.
// Per-recipient failures are independent: delivery continues to the
// remaining identities and the errors are joined.
type Publisher interface {
	Publish(ctx context.Context, payload Payload, identities []string) error
}

// DataSender abstracts the room data channel so publishing logic is
// testable without a live room connection.
type DataSender interface {
	SendData(data []byte, topic string, identities []string) error
}

// RoomSender sends data packets through a connected LiveKit room.
type RoomSender struct {
	room *lksdk.Room
}

// NewRoomSender wraps a connected room.
func NewRoomSender(room *lksdk.Room) *RoomSender {
	return &RoomSender{room: room}
}

// SendData publishes one reliable user data packet. An empty identity list
// broadcasts to the whole room.
func (s *RoomSender) SendData(data []byte, topic string, identities []string) error {
	opts := []lksdk.DataPublishOption{lksdk.WithDataPublishReliable(true)}
	if topic != "" {
		opts = append(opts, lksdk.WithDataPublishTopic(topic))
	}
	if len(identities) > 0 {
		opts = append(opts, lksdk.WithDataPublishDestination(identities))
	}
	return s.room.LocalParticipant.PublishDataPacket(lksdk.UserData(data), opts...)
}

// CaptionPublisher delivers translation payloads recipient by recipient so
// one unreachable identity never blocks the rest of a batch.
type CaptionPublisher struct {
	sender DataSender
}

// NewCaptionPublisher creates a publisher on top of a data sender.
func NewCaptionPublisher(sender DataSender) *CaptionPublisher {
	return &CaptionPublisher{sender: sender}
}

// Publish implements Publisher.
func (p *CaptionPublisher) Publish(ctx context.Context, payload Payload, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var errs []error
	for _, identity := range identities {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := p.sender.SendData(data, TopicTranslation, []string{identity}); err != nil {
			logging.Warning(logging.CategoryDeliver, "delivery failed identity=%s language=%s: %v", identity, payload.Language, err)
			errs = append(errs, fmt.Errorf("deliver to %s: %w", identity, err))
		}
	}
	return errors.Join(errs...)
}
