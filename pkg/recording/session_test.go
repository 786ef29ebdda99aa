package recording

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
	"github.com/DeadAVA/CHATBOT/pkg/chatclient/chatclienttest"
	"github.com/DeadAVA/CHATBOT/pkg/conversation"
	"github.com/DeadAVA/CHATBOT/pkg/events"
)

// fakeCapturer hands out handles that emit the configured chunks when
// stopped. It tracks how many handles are open at once.
type fakeCapturer struct {
	mu        sync.Mutex
	chunks    [][]byte
	openErr   error
	opened    int
	active    atomic.Int32
	maxActive atomic.Int32
	handles   []*fakeHandle
}

func (f *fakeCapturer) Open(ctx context.Context) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	h := &fakeHandle{owner: f, chunks: make(chan []byte, len(f.chunks)+1), pending: f.chunks}
	h.live.Store(true)
	f.handles = append(f.handles, h)
	return h, nil
}

type fakeHandle struct {
	owner   *fakeCapturer
	chunks  chan []byte
	pending [][]byte
	live    atomic.Bool
	stops   atomic.Int32
}

func (h *fakeHandle) Chunks() <-chan []byte { return h.chunks }
func (h *fakeHandle) Active() bool          { return h.live.Load() }

func (h *fakeHandle) Stop() error {
	h.stops.Add(1)
	if !h.live.CompareAndSwap(true, false) {
		return nil
	}
	for _, c := range h.pending {
		h.chunks <- c
	}
	h.owner.active.Add(-1)
	close(h.chunks)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	states []string
}

func (r *recordingSink) PublishEvent(ev events.Event) error {
	if ev.Recording == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, ev.Recording.State)
	return nil
}

func newTestSession(t *testing.T, capt Capturer, opts ...Option) (*Session, *conversation.Session, *chatclienttest.Backend) {
	t.Helper()
	b := chatclienttest.NewBackend()
	t.Cleanup(b.Close)
	c, err := chatclient.New(b.URL())
	require.NoError(t, err)
	conv := conversation.NewSession(conversation.NewConversation(), c)
	return NewSession(capt, c, conv, opts...), conv, b
}

func TestOpenModal_ResetsControls(t *testing.T) {
	s, _, _ := newTestSession(t, &fakeCapturer{chunks: [][]byte{[]byte("a")}})

	s.OpenModal()
	snap := s.Snapshot()
	require.Equal(t, Controls{ModalOpen: true, StartEnabled: true, StopEnabled: false, Status: StatusReady}, snap.Controls)
	require.Equal(t, StateIdle, snap.State)

	require.NoError(t, s.Start(context.Background()))
	s.OpenModal()
	require.Equal(t, StateRecording, s.State())
	require.True(t, s.Snapshot().Controls.StartEnabled)

	s.CloseModal()
	require.False(t, s.Snapshot().Controls.ModalOpen)
}

func TestStartStop_UploadsAndAppends(t *testing.T) {
	capt := &fakeCapturer{chunks: [][]byte{[]byte("we"), []byte("bm")}}
	sink := &recordingSink{}
	s, conv, b := newTestSession(t, capt, WithSink(sink))
	b.OnAudio(func(payload []byte) (int, interface{}) {
		return http.StatusOK, chatclient.AudioResponse{
			Transcription: "quiero denunciar",
			Response:      `<b>Claro</b><script>alert(1)</script>`,
			AudioResponse: "/static/r.mp3",
		}
	})

	s.OpenModal()
	require.NoError(t, s.Start(context.Background()))
	snap := s.Snapshot()
	require.Equal(t, StateRecording, snap.State)
	require.False(t, snap.Controls.StartEnabled)
	require.True(t, snap.Controls.StopEnabled)
	require.Equal(t, StatusRecording, snap.Controls.Status)

	res, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, [][]byte{[]byte("webm")}, b.AudioUploads())

	msgs := conv.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "quiero denunciar", msgs[0].Content)
	require.Equal(t, conversation.RoleBot, msgs[1].Role)
	require.Contains(t, msgs[1].Content, "<b>Claro</b>")
	require.NotContains(t, msgs[1].Content, "script")
	require.Equal(t, b.URL()+"/static/r.mp3", msgs[1].AudioURL)

	snap = s.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.False(t, snap.Controls.ModalOpen)
	require.True(t, snap.Controls.StartEnabled)
	require.False(t, snap.Controls.StopEnabled)

	require.Equal(t, []string{
		"idle", "requesting-permission", "recording", "stopping", "uploading", "idle",
	}, sink.states)
}

func TestStart_StopsPreviousCapture(t *testing.T) {
	capt := &fakeCapturer{chunks: [][]byte{[]byte("x")}}
	s, conv, b := newTestSession(t, capt)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	require.Equal(t, 3, capt.opened)
	require.Equal(t, int32(1), capt.maxActive.Load())
	require.Equal(t, int32(1), capt.active.Load())
	require.False(t, capt.handles[0].Active())
	require.False(t, capt.handles[1].Active())
	require.True(t, capt.handles[2].Active())

	_, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.Len(t, b.AudioUploads(), 1)
	require.Equal(t, 2, conv.Conversation().Len())
	require.Equal(t, int32(0), capt.active.Load())
}

func TestStart_DeviceFailure(t *testing.T) {
	capt := &fakeCapturer{openErr: errors.New("permission denied")}
	s, _, b := newTestSession(t, capt)
	s.OpenModal()

	err := s.Start(context.Background())
	require.Error(t, err)
	snap := s.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, StatusMicError, snap.Controls.Status)
	require.True(t, snap.Controls.StartEnabled)
	require.False(t, snap.Controls.StopEnabled)
	require.Empty(t, b.AudioUploads())
}

func TestStop_EmptyPayloadDoesNotUpload(t *testing.T) {
	capt := &fakeCapturer{}
	s, conv, b := newTestSession(t, capt)

	require.NoError(t, s.Start(context.Background()))
	_, err := s.Stop(context.Background())
	require.ErrorIs(t, err, ErrEmptyPayload)
	require.Empty(t, b.AudioUploads())
	require.Equal(t, 0, conv.Conversation().Len())
	require.Equal(t, StatusEmptyAudio, s.Snapshot().Controls.Status)
	require.Equal(t, StateIdle, s.State())
}

func TestStop_UploadFailureLeavesConversation(t *testing.T) {
	capt := &fakeCapturer{chunks: [][]byte{[]byte("x")}}
	s, conv, b := newTestSession(t, capt)
	b.OnAudio(func(payload []byte) (int, interface{}) {
		return http.StatusInternalServerError, chatclient.AudioResponse{Error: "Error al procesar el audio"}
	})
	s.OpenModal()

	require.NoError(t, s.Start(context.Background()))
	_, err := s.Stop(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, conv.Conversation().Len())
	snap := s.Snapshot()
	require.Equal(t, StatusUploadError, snap.Controls.Status)
	require.False(t, snap.Controls.ModalOpen)
	require.True(t, snap.Controls.StartEnabled)
}

func TestStop_WithoutRecording(t *testing.T) {
	s, _, _ := newTestSession(t, &fakeCapturer{})
	s.OpenModal()

	_, err := s.Stop(context.Background())
	require.ErrorIs(t, err, ErrNotRecording)
	snap := s.Snapshot()
	require.False(t, snap.Controls.ModalOpen)
	require.True(t, snap.Controls.StartEnabled)
	require.False(t, snap.Controls.StopEnabled)
}

func TestStop_DuplicateTranscription(t *testing.T) {
	capt := &fakeCapturer{chunks: [][]byte{[]byte("x")}}
	s, conv, _ := newTestSession(t, capt)
	conv.AppendMessage(conversation.RoleUser, "hola", "")
	conv.AppendMessage(conversation.RoleBot, "¿En qué te ayudo?", "")

	require.NoError(t, s.Start(context.Background()))
	res, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, 2, conv.Conversation().Len())
}

func TestStop_DuplicateGuardDisabled(t *testing.T) {
	capt := &fakeCapturer{chunks: [][]byte{[]byte("x")}}
	s, conv, _ := newTestSession(t, capt, WithDuplicateGuard(false))
	conv.AppendMessage(conversation.RoleUser, "hola", "")

	require.NoError(t, s.Start(context.Background()))
	res, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, 3, conv.Conversation().Len())
}

func TestFileCapturer(t *testing.T) {
	p := filepath.Join(t.TempDir(), "voz.webm")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))

	s, _, b := newTestSession(t, &FileCapturer{Path: p, ChunkSize: 3})
	require.NoError(t, s.Start(context.Background()))
	_, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("0123456789")}, b.AudioUploads())

	s, _, _ = newTestSession(t, &FileCapturer{Path: filepath.Join(t.TempDir(), "missing.webm")})
	require.Error(t, s.Start(context.Background()))
	require.Equal(t, StatusMicError, s.Snapshot().Controls.Status)
}

func TestExecCapturer_MissingBinary(t *testing.T) {
	c := &ExecCapturer{Command: []string{"definitely-not-a-recorder-binary"}}
	_, err := c.Open(context.Background())
	require.Error(t, err)
}

func TestExecCapturer_InterruptDrainsPayload(t *testing.T) {
	c := &ExecCapturer{Command: []string{"sh", "-c", "printf abc; exec sleep 30"}, KillAfter: time.Second}
	h, err := c.Open(context.Background())
	require.NoError(t, err)
	require.True(t, h.Active())

	capt := newCapture(h)
	// let the recorder write before it is interrupted
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	payload, err := capt.finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc", string(payload))
	require.Less(t, time.Since(start), time.Second)
	require.False(t, h.Active())
}

func TestExecCapturer_KillsRecorderIgnoringInterrupt(t *testing.T) {
	c := &ExecCapturer{
		Command:   []string{"sh", "-c", "trap '' INT; printf abc; exec sleep 30"},
		KillAfter: 300 * time.Millisecond,
	}
	h, err := c.Open(context.Background())
	require.NoError(t, err)

	capt := newCapture(h)
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	payload, err := capt.finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc", string(payload))
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	require.False(t, h.Active())
}
