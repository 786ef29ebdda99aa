package recording

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
	"github.com/DeadAVA/CHATBOT/pkg/conversation"
	"github.com/DeadAVA/CHATBOT/pkg/events"
	"github.com/DeadAVA/CHATBOT/pkg/markup"
)

// Uploader sends a recorded payload to the backend.
type Uploader interface {
	UploadAudio(ctx context.Context, payload []byte) (*chatclient.AudioResponse, error)
	ResolveURL(ref string) (string, error)
}

// Target receives the bubbles of a voice turn.
type Target interface {
	AppendMessage(role conversation.Role, content string, audioURL string) conversation.Message
	Conversation() *conversation.Conversation
}

// Result describes a finished voice turn.
type Result struct {
	Transcription string
	// Duplicate is set when the transcription repeated the last user bubble
	// and nothing was appended.
	Duplicate bool
	User      conversation.Message
	Bot       conversation.Message
}

// Session owns the capture handle, the chunk buffer and the panel controls.
// At most one handle is open at any time.
type Session struct {
	capturer       Capturer
	api            Uploader
	target         Target
	sink           events.Sink
	duplicateGuard bool

	mu       sync.Mutex
	state    State
	controls Controls
	version  uint64
	rec      *capture
}

type Option func(*Session)

func WithSink(sink events.Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithDuplicateGuard drops a transcription equal to the most recent user
// bubble. It is on by default.
func WithDuplicateGuard(on bool) Option {
	return func(s *Session) {
		s.duplicateGuard = on
	}
}

func NewSession(capturer Capturer, api Uploader, target Target, options ...Option) *Session {
	s := &Session{
		capturer:       capturer,
		api:            api,
		target:         target,
		sink:           events.NopSink{},
		duplicateGuard: true,
		state:          StateIdle,
		controls:       Controls{StartEnabled: true},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Controls: s.controls, Version: s.version}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// changedLocked bumps the version and returns the event for the current state.
// It is published after the lock is released.
func (s *Session) changedLocked() events.Event {
	s.version++
	return events.NewRecordingChanged(events.RecordingPayload{
		State:        string(s.state),
		Status:       s.controls.Status,
		ModalOpen:    s.controls.ModalOpen,
		StartEnabled: s.controls.StartEnabled,
		StopEnabled:  s.controls.StopEnabled,
		Version:      s.version,
	})
}

func (s *Session) publish(ev events.Event) {
	if err := s.sink.PublishEvent(ev); err != nil {
		log.Warn().Err(err).Str("component", "recording").Msg("failed to publish recording event")
	}
}

func (s *Session) update(f func()) {
	s.mu.Lock()
	f()
	ev := s.changedLocked()
	s.mu.Unlock()
	s.publish(ev)
}

// OpenModal resets the panel. A capture in progress is left alone.
func (s *Session) OpenModal() {
	s.update(func() {
		s.controls = Controls{
			ModalOpen:    true,
			StartEnabled: true,
			StopEnabled:  false,
			Status:       StatusReady,
		}
	})
}

func (s *Session) CloseModal() {
	s.update(func() {
		s.controls.ModalOpen = false
	})
}

// Start discards any capture still open, then opens the device. A device
// failure leaves the session idle with the microphone error status.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRequestingPermission, StateStopping, StateUploading:
		st := s.state
		s.mu.Unlock()
		log.Debug().Str("component", "recording").Str("state", string(st)).Msg("start ignored")
		return ErrBusy
	}
	prev := s.rec
	s.rec = nil
	s.state = StateRequestingPermission
	ev := s.changedLocked()
	s.mu.Unlock()
	s.publish(ev)

	if prev != nil {
		log.Debug().Str("component", "recording").Msg("discarding previous capture")
		prev.discard()
	}

	h, err := s.capturer.Open(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "recording").Msg("failed to open capture device")
		s.update(func() {
			s.state = StateIdle
			s.controls.StartEnabled = true
			s.controls.StopEnabled = false
			s.controls.Status = StatusMicError
		})
		return errors.Wrap(err, "open capture device")
	}

	s.update(func() {
		s.rec = newCapture(h)
		s.state = StateRecording
		s.controls.StartEnabled = false
		s.controls.StopEnabled = true
		s.controls.Status = StatusRecording
	})
	log.Info().Str("component", "recording").Msg("recording started")
	return nil
}

// Stop resets the controls and closes the modal at once, then finalizes the
// capture, uploads the payload and appends the bubbles of the voice turn.
func (s *Session) Stop(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	rec := s.rec
	recording := s.state == StateRecording && rec != nil
	s.controls.StartEnabled = true
	s.controls.StopEnabled = false
	s.controls.ModalOpen = false
	if recording {
		s.rec = nil
		s.state = StateStopping
	}
	ev := s.changedLocked()
	s.mu.Unlock()
	s.publish(ev)

	if !recording {
		return nil, ErrNotRecording
	}

	payload, err := rec.finalize(ctx)
	if err != nil {
		s.finish(StatusUploadError)
		return nil, errors.Wrap(err, "finalize capture")
	}
	if len(payload) == 0 {
		log.Warn().Str("component", "recording").Msg("empty audio payload, not uploading")
		s.finish(StatusEmptyAudio)
		return nil, ErrEmptyPayload
	}

	s.update(func() {
		s.state = StateUploading
		s.controls.Status = StatusProcessing
	})
	log.Debug().Str("component", "recording").Int("bytes", len(payload)).Msg("uploading audio")

	resp, err := s.api.UploadAudio(ctx, payload)
	if err != nil {
		log.Error().Err(err).Str("component", "recording").Msg("audio upload failed")
		s.finish(StatusUploadError)
		return nil, errors.Wrap(err, "upload audio")
	}

	res := s.render(resp)
	s.finish("")
	return res, nil
}

func (s *Session) finish(status string) {
	s.update(func() {
		s.state = StateIdle
		s.controls.Status = status
	})
}

func (s *Session) render(resp *chatclient.AudioResponse) *Result {
	res := &Result{Transcription: resp.Transcription}
	if s.duplicateGuard {
		if last, ok := s.target.Conversation().LastUser(); ok && last.Content == resp.Transcription {
			log.Info().Str("component", "recording").Msg("transcription repeats the last user bubble, dropped")
			res.Duplicate = true
			return res
		}
	}

	audioURL := ""
	if ref := strings.TrimSpace(resp.AudioResponse); ref != "" {
		u, err := s.api.ResolveURL(ref)
		if err != nil {
			log.Warn().Err(err).Str("component", "recording").Str("audio", ref).Msg("invalid audio reference")
		} else {
			audioURL = u
		}
	}
	res.User = s.target.AppendMessage(conversation.RoleUser, resp.Transcription, "")
	res.Bot = s.target.AppendMessage(conversation.RoleBot, markup.SanitizeHTML(resp.Response), audioURL)
	return res
}

// Close discards an open capture without uploading it.
func (s *Session) Close() {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	if s.state == StateRecording {
		s.state = StateIdle
	}
	s.mu.Unlock()
	if rec != nil {
		rec.discard()
	}
}
