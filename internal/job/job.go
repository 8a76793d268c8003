package job

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/wing199901/live-translated-captioning/internal/capture"
	"github.com/wing199901/live-translated-captioning/internal/config"
	"github.com/wing199901/live-translated-captioning/internal/deliver"
	"github.com/wing199901/live-translated-captioning/internal/ingest"
	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/registry"
	"github.com/wing199901/live-translated-captioning/internal/session"
	"github.com/wing199901/live-translated-captioning/internal/topic"
	"github.com/wing199901/live-translated-captioning/internal/transcribe"
	"github.com/wing199901/live-translated-captioning/internal/translate"
)

// Job represents a single room job execution: it joins a LiveKit room,
// transcribes the host's audio and serves per-language translated captions
// to the listeners.
type Job struct {
	JobID    string
	RoomName string
	Token    string
	URL      string
	Config   *config.Config

	mu     sync.Mutex
	topics *topic.Manager
}

// Health reports the health of the job's live translators, keyed by
// language. An empty map means no translators are active.
func (j *Job) Health() map[string]translate.Status {
	j.mu.Lock()
	topics := j.topics
	j.mu.Unlock()

	if topics == nil {
		return map[string]translate.Status{}
	}
	return topics.Health()
}

// Run executes the job until ctx is cancelled or the room disconnects.
func (j *Job) Run(ctx context.Context) error {
	logging.Info(logging.CategoryJob, "starting job jobID=%s room=%s", j.JobID, j.RoomName)

	cfg := j.Config
	reg := registry.New(cfg.SourceLanguage)

	factory := translate.NewOpenAIFactory(translate.Options{
		APIKey:    cfg.OpenAIAPIKey,
		Model:     cfg.TranslateModel,
		Timeout:   cfg.TranslateTimeout,
		CacheSize: cfg.TranslateCacheSize,
	})

	// The publisher, topic manager and hooks need the connected room, but
	// the room callbacks need them first. They are published under wireMu
	// after connect; callbacks load them through the same lock and nil-check
	// in case the SDK fires one mid-connect.
	var (
		wireMu   sync.Mutex
		hooks    *session.Hooks
		mgr      *topic.Manager
		captions *deliver.CaptionsForwarder

		captures = make(map[string]*capture.Reader)
		capMu    sync.Mutex

		sttMu     sync.Mutex
		sttStream transcribe.Stream
		ingestWG  sync.WaitGroup
	)

	wiring := func() (*session.Hooks, *topic.Manager, *deliver.CaptionsForwarder) {
		wireMu.Lock()
		defer wireMu.Unlock()
		return hooks, mgr, captions
	}

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	startCapture := func(identity string, track *webrtc.TrackRemote, mgr *topic.Manager, captions *deliver.CaptionsForwarder) {
		if mgr == nil || captions == nil {
			return
		}
		sttMu.Lock()
		defer sttMu.Unlock()

		if sttStream == nil {
			stream, err := transcribe.NewDeepgramStream(transcribe.DeepgramOptions{
				URL:        cfg.DeepgramURL,
				APIKey:     cfg.DeepgramAPIKey,
				SampleRate: cfg.STTSampleRate,
				Language:   cfg.STTLanguageTag(),
				Track:      identity,
			})
			if err != nil {
				logging.Error(logging.CategoryJob, "failed to start speech stream identity=%s: %v", identity, err)
				return
			}
			sttStream = stream

			coordinator := ingest.NewCoordinator(mgr, captions)
			ingestWG.Add(1)
			go func() {
				defer ingestWG.Done()
				coordinator.Run(jobCtx, stream.Events())
			}()
		}

		reader, err := capture.NewReader(identity, sttStream, cfg.STTSampleRate)
		if err != nil {
			logging.Error(logging.CategoryJob, "failed to create capture reader identity=%s: %v", identity, err)
			return
		}

		capMu.Lock()
		if _, exists := captures[identity]; exists {
			capMu.Unlock()
			logging.Warning(logging.CategoryJob, "capture already running identity=%s", identity)
			reader.Stop()
			return
		}
		captures[identity] = reader
		capMu.Unlock()

		reader.Start(track)
	}

	stopCapture := func(identity string) {
		capMu.Lock()
		reader, exists := captures[identity]
		if exists {
			delete(captures, identity)
		}
		capMu.Unlock()
		if exists {
			reader.Stop()
		}
	}

	callbacks := &lksdk.RoomCallback{
		OnDisconnected: func() {
			logging.Info(logging.CategoryJob, "disconnected from room jobID=%s", j.JobID)
			cancelJob()
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			identity := rp.Identity()
			if strings.HasPrefix(identity, "agent-") {
				return
			}
			if h, _, _ := wiring(); h != nil && rp.Attributes()[session.AttrUserType] == session.UserTypeListener {
				h.OnJoin(identity, rp.Attributes())
			}
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			identity := rp.Identity()
			stopCapture(identity)
			if h, _, _ := wiring(); h != nil {
				h.OnLeave(identity)
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnAttributesChanged: func(changed map[string]string, p lksdk.Participant) {
				h, _, _ := wiring()
				if h == nil || p.Attributes()[session.AttrUserType] != session.UserTypeListener {
					return
				}
				h.OnAttributesChanged(p.Identity(), changed)
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				if rp.Attributes()[session.AttrUserType] != session.UserTypeHost {
					return
				}
				logging.Info(logging.CategoryJob, "host audio track subscribed identity=%s", rp.Identity())
				_, tm, fw := wiring()
				startCapture(rp.Identity(), track, tm, fw)
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				stopCapture(rp.Identity())
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(j.URL, j.Token, callbacks)
	if err != nil {
		return fmt.Errorf("connect to room: %w", err)
	}
	defer room.Disconnect()

	logging.Info(logging.CategoryJob, "connected to room room=%s identity=%s", room.Name(), room.LocalParticipant.Identity())

	sender := deliver.NewRoomSender(room)
	fw := deliver.NewCaptionsForwarder(sender)
	tm := topic.NewManager(cfg.SourceLanguage, reg, deliver.NewCaptionPublisher(sender), factory)
	h := session.NewHooks(reg, tm, cfg.LanguageSupported, cfg.SourceLanguage)

	wireMu.Lock()
	captions, mgr, hooks = fw, tm, h
	wireMu.Unlock()

	j.mu.Lock()
	j.topics = tm
	j.mu.Unlock()

	// Administrative toggle: mutates the listener's forwarding flag only.
	if err := room.RegisterRpcMethod("toggle_transcription", func(data lksdk.RpcInvocationData) (string, error) {
		enabled := strings.EqualFold(strings.TrimSpace(data.Payload), "true")
		h.OnForwardToggle(data.CallerIdentity, enabled)
		return "ok", nil
	}); err != nil {
		logging.Warning(logging.CategoryJob, "failed to register toggle RPC: %v", err)
	}

	// Process participants already in the room.
	for _, rp := range room.GetRemoteParticipants() {
		identity := rp.Identity()
		if strings.HasPrefix(identity, "agent-") {
			continue
		}
		attrs := rp.Attributes()
		switch attrs[session.AttrUserType] {
		case session.UserTypeListener:
			h.OnJoin(identity, attrs)
		case session.UserTypeHost:
			for _, pub := range rp.TrackPublications() {
				if pub.Kind() != lksdk.TrackKindAudio {
					continue
				}
				remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
				if !ok {
					continue
				}
				if !remotePub.IsSubscribed() {
					remotePub.SetSubscribed(true)
				}
				if track := remotePub.Track(); track != nil {
					if remoteTrack, ok := track.(*webrtc.TrackRemote); ok {
						startCapture(identity, remoteTrack, tm, fw)
					}
				}
			}
		}
	}

	// Run until cancellation or room disconnect.
	<-jobCtx.Done()
	logging.Info(logging.CategoryJob, "shutting down jobID=%s", j.JobID)

	// Shutdown order matters: stop feeding audio, end the speech stream so
	// ingestion drains, then close the topics so in-flight translations
	// finish before the room connection drops.
	capMu.Lock()
	readers := make([]*capture.Reader, 0, len(captures))
	for _, r := range captures {
		readers = append(readers, r)
	}
	captures = make(map[string]*capture.Reader)
	capMu.Unlock()
	for _, r := range readers {
		r.Stop()
	}

	sttMu.Lock()
	if sttStream != nil {
		if err := sttStream.Close(); err != nil {
			logging.Warning(logging.CategoryJob, "speech stream close: %v", err)
		}
	}
	sttMu.Unlock()
	ingestWG.Wait()

	tm.CloseAll()

	j.mu.Lock()
	j.topics = nil
	j.mu.Unlock()

	logging.Info(logging.CategoryJob, "job completed jobID=%s", j.JobID)
	return nil
}
