// Package transcribe turns host audio into a stream of caption events.
// The Stream contract isolates the rest of the worker from the concrete
// speech-to-text provider: callers push PCM frames in and receive interim
// and finalized text events out.
package transcribe

import "errors"

// ErrStreamClosed is returned by PushFrame after the stream is closed.
var ErrStreamClosed = errors.New("transcribe: stream closed")

// EventKind distinguishes interim hypotheses from finalized text.
type EventKind int

const (
	// EventInterim is a partial hypothesis that may still change.
	EventInterim EventKind = iota
	// EventFinal is stable text that will not be revised.
	EventFinal
)

// Event is one speech-to-text result.
type Event struct {
	Kind  EventKind
	Text  string
	Track string // identity of the audio track the text came from
}

// Stream is a live speech-to-text session. Frames go in via PushFrame;
// results come out on Events. The channel is closed when the session ends.
type Stream interface {
	// PushFrame submits one frame of mono int16 PCM audio.
	PushFrame(frame []int16) error

	// Events returns the result channel. It is closed when the backend
	// connection ends or Close is called.
	Events() <-chan Event

	// Close ends the session and releases the backend connection.
	Close() error
}
