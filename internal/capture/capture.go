// Package capture reads a host's audio track and feeds PCM frames into a
// speech-to-text stream. Opus packets from the track are decoded at 48kHz
// and resampled down to the transcription rate.
package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/transcribe"
)

const (
	trackSampleRate = 48000
	// frameSamples is one 20ms frame at the transcription sample rate.
	frameDuration = 20 // ms
)

// Reader pulls RTP from one remote audio track, decodes and resamples it,
// and pushes fixed-size PCM frames into the speech stream.
type Reader struct {
	identity     string
	stream       transcribe.Stream
	decoder      *opus.Decoder
	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer
	resamplerMu  sync.Mutex

	frameSamples int
	pending      []int16

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	firstPacketLogged bool
}

// NewReader creates a reader that feeds stream with sampleRate PCM frames.
func NewReader(identity string, stream transcribe.Stream, sampleRate int) (*Reader, error) {
	decoder, err := opus.NewDecoder(trackSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	// The resampler writes into the same buffer the reader drains.
	resamplerBuf := &bytes.Buffer{}
	resampler, err := soxr.New(resamplerBuf, float64(trackSampleRate), float64(sampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	frameSamples := sampleRate * frameDuration / 1000
	ctx, cancel := context.WithCancel(context.Background())
	return &Reader{
		identity:     identity,
		stream:       stream,
		decoder:      decoder,
		resampler:    resampler,
		resamplerBuf: resamplerBuf,
		frameSamples: frameSamples,
		pending:      make([]int16, 0, frameSamples),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins draining the track on a goroutine.
func (r *Reader) Start(track *webrtc.TrackRemote) {
	r.wg.Add(1)
	go r.processTrack(track)
	logging.Info(logging.CategoryCapture, "started audio capture identity=%s", r.identity)
}

// Stop ends the reader and releases the resampler.
func (r *Reader) Stop() {
	r.cancel()
	r.wg.Wait()
	if r.resampler != nil {
		r.resampler.Close()
	}
	logging.Info(logging.CategoryCapture, "stopped audio capture identity=%s", r.identity)
}

func (r *Reader) processTrack(track *webrtc.TrackRemote) {
	defer r.wg.Done()

	buf := make([]byte, 1500)
	rtpPacket := &rtp.Packet{}
	pcm48k := make([]int16, 960) // 20ms at 48kHz

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if r.ctx.Err() == nil {
				logging.Warning(logging.CategoryCapture, "track read failed identity=%s: %v", r.identity, err)
			}
			return
		}

		if !r.firstPacketLogged {
			r.firstPacketLogged = true
			logging.Info(logging.CategoryCapture, "received first RTP packet identity=%s size=%d", r.identity, n)
		}

		if err := rtpPacket.Unmarshal(buf[:n]); err != nil {
			logging.Warning(logging.CategoryCapture, "bad RTP packet identity=%s: %v", r.identity, err)
			continue
		}
		if len(rtpPacket.Payload) == 0 {
			continue // DTX
		}

		sampleCount, err := r.decoder.Decode(rtpPacket.Payload, pcm48k)
		if err != nil {
			if err.Error() == "opus: no data supplied" {
				continue // DTX
			}
			logging.Warning(logging.CategoryCapture, "opus decode failed identity=%s: %v", r.identity, err)
			continue
		}
		if sampleCount == 0 {
			continue
		}

		resampled, err := r.resample(pcm48k[:sampleCount])
		if err != nil {
			logging.Warning(logging.CategoryCapture, "resample failed identity=%s: %v", r.identity, err)
			continue
		}
		if len(resampled) == 0 {
			continue // resampler is still buffering
		}

		r.pending = append(r.pending, resampled...)
		for len(r.pending) >= r.frameSamples {
			frame := r.pending[:r.frameSamples]
			r.pending = r.pending[r.frameSamples:]
			if err := r.stream.PushFrame(frame); err != nil {
				if err == transcribe.ErrStreamClosed {
					return
				}
				logging.Warning(logging.CategoryCapture, "push frame failed identity=%s: %v", r.identity, err)
			}
		}
	}
}

func (r *Reader) resample(samples []int16) ([]int16, error) {
	r.resamplerMu.Lock()
	defer r.resamplerMu.Unlock()

	input := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(input[i*2:], uint16(sample))
	}

	r.resamplerBuf.Reset()
	if _, err := r.resampler.Write(input); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	output := r.resamplerBuf.Bytes()
	if len(output) == 0 {
		return nil, nil
	}

	result := make([]int16, len(output)/2)
	for i := range result {
		result[i] = int16(binary.LittleEndian.Uint16(output[i*2:]))
	}
	return result, nil
}
