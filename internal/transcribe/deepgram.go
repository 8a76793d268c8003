package transcribe

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wing199901/live-translated-captioning/internal/logging"
)

// keepAliveInterval is how often an empty KeepAlive message is sent so
// Deepgram does not close the socket during silence.
const keepAliveInterval = 5 * time.Second

// DeepgramOptions configures a live transcription session.
type DeepgramOptions struct {
	URL        string // base listen endpoint, e.g. wss://api.deepgram.com/v1/listen
	APIKey     string
	SampleRate int
	Language   string // BCP-47 tag understood by Deepgram, e.g. "en"
	Track      string // opaque id of the audio track being transcribed
}

// DeepgramStream is a live transcription session over the Deepgram listen
// WebSocket. Audio frames are written as binary messages; results arrive as
// JSON text messages on a reader goroutine.
type DeepgramStream struct {
	opts   DeepgramOptions
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// deepgramResult is the subset of the listen response the worker reads.
type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewDeepgramStream dials the listen endpoint and starts the reader and
// keep-alive goroutines.
func NewDeepgramStream(opts DeepgramOptions) (*DeepgramStream, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("language", opts.Language)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+opts.APIKey)

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.Dial(u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := &DeepgramStream{
		opts:   opts,
		conn:   conn,
		events: make(chan Event, 32),
		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.keepAliveLoop()

	logging.Info(logging.CategoryTranscribe, "deepgram session started track=%s language=%s", opts.Track, opts.Language)
	return s, nil
}

// PushFrame submits one frame of mono int16 PCM audio.
func (s *DeepgramStream) PushFrame(frame []int16) error {
	buf := make([]byte, len(frame)*2)
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return fmt.Errorf("write audio frame: %w", err)
	}
	return nil
}

// Events returns the result channel.
func (s *DeepgramStream) Events() <-chan Event {
	return s.events
}

// Close asks Deepgram to flush pending results and tears the session down.
func (s *DeepgramStream) Close() error {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	// Best effort: tells Deepgram to finalize anything buffered.
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.writeMu.Unlock()

	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	logging.Info(logging.CategoryTranscribe, "deepgram session closed track=%s", s.opts.Track)
	return err
}

func (s *DeepgramStream) readLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				logging.Warning(logging.CategoryTranscribe, "deepgram read error track=%s: %v", s.opts.Track, err)
			}
			return
		}

		ev, ok := s.parseResult(data)
		if !ok {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

// parseResult converts one listen response into an Event. Metadata frames
// and empty transcripts (silence) yield ok=false.
func (s *DeepgramStream) parseResult(data []byte) (Event, bool) {
	var result deepgramResult
	if err := json.Unmarshal(data, &result); err != nil {
		logging.Warning(logging.CategoryTranscribe, "malformed deepgram message track=%s: %v", s.opts.Track, err)
		return Event{}, false
	}

	if result.Type != "Results" || len(result.Channel.Alternatives) == 0 {
		return Event{}, false
	}
	text := result.Channel.Alternatives[0].Transcript
	if text == "" {
		return Event{}, false
	}

	kind := EventInterim
	if result.IsFinal {
		kind = EventFinal
	}
	return Event{Kind: kind, Text: text, Track: s.opts.Track}, true
}

func (s *DeepgramStream) keepAliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			if !s.closed {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
					logging.Debug(logging.CategoryTranscribe, "keepalive write failed track=%s: %v", s.opts.Track, err)
				}
			}
			s.writeMu.Unlock()
		}
	}
}
