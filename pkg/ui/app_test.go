package ui

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
	"github.com/DeadAVA/CHATBOT/pkg/chatclient/chatclienttest"
	"github.com/DeadAVA/CHATBOT/pkg/conversation"
	"github.com/DeadAVA/CHATBOT/pkg/recording"
	"github.com/DeadAVA/CHATBOT/pkg/view"
)

type testApp struct {
	app     *App
	backend *chatclienttest.Backend
	client  *chatclient.Client
	session *conversation.Session
	copied  []string
	mu      sync.Mutex
}

func newTestApp(t *testing.T, configure func(*Options)) *testApp {
	t.Helper()
	backend := chatclienttest.NewBackend()
	t.Cleanup(backend.Close)

	client, err := chatclient.New(backend.URL())
	require.NoError(t, err)

	ta := &testApp{backend: backend, client: client}
	ta.session = conversation.NewSession(conversation.NewConversation(), client)
	opts := Options{
		Session:     ta.session,
		Downloader:  client,
		DownloadDir: t.TempDir(),
		Clipboard: func(s string) error {
			ta.mu.Lock()
			defer ta.mu.Unlock()
			ta.copied = append(ta.copied, s)
			return nil
		},
	}
	if configure != nil {
		configure(&opts)
	}
	ta.app = NewApp(context.Background(), opts)
	return ta
}

func (ta *testApp) key(t *testing.T, k string) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+l":
		msg = tea.KeyMsg{Type: tea.KeyCtrlL}
	case "ctrl+r":
		msg = tea.KeyMsg{Type: tea.KeyCtrlR}
	case "ctrl+t":
		msg = tea.KeyMsg{Type: tea.KeyCtrlT}
	case "ctrl+y":
		msg = tea.KeyMsg{Type: tea.KeyCtrlY}
	case "ctrl+d":
		msg = tea.KeyMsg{Type: tea.KeyCtrlD}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	_, cmd := ta.app.Update(msg)
	drain(t, ta.app, cmd, 0)
}

func (ta *testApp) typeText(t *testing.T, s string) {
	t.Helper()
	_, _ = ta.app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

// drain runs cmd and feeds the messages the app or its dialog care about
// back into Update. Timers (cursor blink, spinner) are dropped.
func drain(t *testing.T, m *App, cmd tea.Cmd, depth int) {
	t.Helper()
	if cmd == nil || depth > 25 {
		return
	}
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()

	var msg tea.Msg
	select {
	case msg = <-done:
	case <-time.After(2 * time.Second):
		return
	}
	if msg == nil {
		return
	}

	if v := reflect.ValueOf(msg); v.Kind() == reflect.Slice {
		for i := 0; i < v.Len(); i++ {
			if c, ok := v.Index(i).Interface().(tea.Cmd); ok {
				drain(t, m, c, depth+1)
			}
		}
		return
	}

	name := fmt.Sprintf("%T", msg)
	if !strings.HasPrefix(name, "ui.") && !strings.HasPrefix(name, "huh.") {
		return
	}
	_, next := m.Update(msg)
	drain(t, m, next, depth+1)
}

func TestApp_StartsOnWelcome(t *testing.T) {
	ta := newTestApp(t, nil)
	s := ta.app.Surface()
	require.True(t, s.Visible(view.RegionWelcome))
	require.False(t, s.Visible(view.RegionChatContainer))
	require.Equal(t, view.VariantDesktop, ta.app.Variant())
	require.Contains(t, ta.app.View(), "Asistente de denuncias")
}

func TestApp_WelcomeSubmitStartsConversation(t *testing.T) {
	ta := newTestApp(t, nil)

	ta.key(t, "enter")
	require.Equal(t, 0, ta.session.Conversation().Len(), "blank welcome input is ignored")
	require.True(t, ta.app.Surface().Visible(view.RegionWelcome))

	ta.typeText(t, "hola")
	ta.key(t, "enter")

	s := ta.app.Surface()
	require.False(t, s.Visible(view.RegionWelcome))
	require.True(t, s.Visible(view.RegionChatContainer))
	require.True(t, s.Visible(view.RegionInputContainer))
	require.True(t, s.Visible(view.RegionMessageContainer))
	require.True(t, s.HasClass(view.ClassHasMessages))
	require.Equal(t, "", ta.app.welcomeInput.Value())

	msgs := ta.session.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "hola", msgs[0].Content)
	require.Equal(t, "eco: hola", msgs[1].Content)
	require.False(t, msgs[1].Pending)
	require.Equal(t, []string{"hola"}, ta.backend.ChatMessages())
}

func TestApp_ChatInputSendsAndClears(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.typeText(t, "uno")
	ta.key(t, "enter")

	ta.typeText(t, "dos")
	require.Equal(t, "dos", ta.app.chatInput.Value())
	ta.key(t, "enter")
	require.Equal(t, "", ta.app.chatInput.Value())

	ta.typeText(t, "   ")
	ta.key(t, "enter")
	require.Equal(t, 4, ta.session.Conversation().Len())
	require.Equal(t, []string{"uno", "dos"}, ta.backend.ChatMessages())
	require.Contains(t, ta.app.viewport.View(), "eco: dos")
}

func TestApp_ServerErrorBubble(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.backend.OnChat(func(string) (int, interface{}) {
		return http.StatusInternalServerError, map[string]string{"error": "boom"}
	})
	ta.typeText(t, "hola")
	ta.key(t, "enter")

	last, ok := ta.session.Conversation().LastBot()
	require.True(t, ok)
	require.Equal(t, conversation.ServerErrorText, last.Content)
}

func TestApp_ResizeRoutesLayout(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.typeText(t, "hola")
	ta.key(t, "enter")

	_, _ = ta.app.Update(tea.WindowSizeMsg{Width: 60, Height: 30})
	require.Equal(t, view.VariantMobile, ta.app.Variant())
	s := ta.app.Surface()
	require.True(t, s.Visible(view.RegionChatInput))
	require.True(t, s.Visible(view.RegionMessages))
	require.False(t, s.Visible(view.RegionWelcome))
	require.Equal(t, 2, ta.session.Conversation().Len())

	_, _ = ta.app.Update(tea.WindowSizeMsg{Width: 140, Height: 30})
	require.Equal(t, view.VariantDesktop, ta.app.Variant())
	require.True(t, ta.app.Surface().Visible(view.RegionInputContainer))
}

func TestApp_ForcedVariantIgnoresWidth(t *testing.T) {
	ta := newTestApp(t, func(o *Options) { o.Variant = view.VariantMobile })
	_, _ = ta.app.Update(tea.WindowSizeMsg{Width: 200, Height: 40})
	require.Equal(t, view.VariantMobile, ta.app.Variant())
}

func TestApp_ClearDialog(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.typeText(t, "hola")
	ta.key(t, "enter")

	ta.key(t, "ctrl+l")
	require.NotNil(t, ta.app.clearForm)
	ta.key(t, "esc")
	require.Nil(t, ta.app.clearForm)
	require.Equal(t, 0, ta.backend.ClearCalls())

	ta.key(t, "ctrl+l")
	ta.key(t, "y")
	require.Nil(t, ta.app.clearForm)
	require.Equal(t, 1, ta.backend.ClearCalls())
	require.Equal(t, 0, ta.session.Conversation().Len())
	require.True(t, ta.app.Surface().Visible(view.RegionWelcome))
}

func TestApp_ClearFailureKeepsMessages(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.backend.OnConfirmClear(func() int { return http.StatusInternalServerError })
	ta.typeText(t, "hola")
	ta.key(t, "enter")

	ta.key(t, "ctrl+l")
	ta.key(t, "y")
	require.Equal(t, 2, ta.session.Conversation().Len())
	require.Equal(t, "No se pudo borrar la conversación.", ta.app.notice)
}

func TestApp_VoiceModeToggle(t *testing.T) {
	ta := newTestApp(t, nil)
	require.False(t, ta.session.VoiceMode())
	ta.key(t, "ctrl+t")
	require.True(t, ta.session.VoiceMode())
	require.Contains(t, ta.app.View(), "modo voz")
	ta.key(t, "ctrl+t")
	require.False(t, ta.session.VoiceMode())
}

func TestApp_CopyLastReply(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.key(t, "ctrl+y")
	require.Equal(t, "No hay respuesta para copiar.", ta.app.notice)

	ta.backend.OnChat(func(string) (int, interface{}) {
		return http.StatusOK, map[string]string{"response": "Hola\nmundo"}
	})
	ta.typeText(t, "hola")
	ta.key(t, "enter")
	ta.key(t, "ctrl+y")

	require.Equal(t, []string{"Hola\nmundo"}, ta.copied)
	require.Equal(t, "Respuesta copiada al portapapeles.", ta.app.notice)
}

func TestApp_DownloadDocumentLinks(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.backend.SetDocument("/download_form", []byte("%PDF-form"))
	ta.backend.OnChat(func(string) (int, interface{}) {
		return http.StatusOK, map[string]string{"response": "Aquí está: [Descargar formato de denuncia](/download_form) y [web](https://example.com)"}
	})
	ta.typeText(t, "formato")
	ta.key(t, "enter")
	ta.key(t, "ctrl+d")

	require.Equal(t, "Guardado: formato_denuncia.pdf", ta.app.notice)
	b, err := os.ReadFile(filepath.Join(ta.app.opts.DownloadDir, "formato_denuncia.pdf"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-form", string(b))
}

func TestDocumentLinks(t *testing.T) {
	links := documentLinks(`<a href="/download_sue">a</a> <a href="https://x.test/y">b</a> <a href="/download_sue">c</a>`)
	require.Equal(t, []string{"/download_sue"}, links)
}

func TestApp_RecordingFlow(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "voz.webm")
	require.NoError(t, os.WriteFile(audio, []byte("webm-bytes"), 0o644))

	ta := newTestApp(t, nil)
	rec := recording.NewSession(&recording.FileCapturer{Path: audio}, ta.client, ta.session)
	ta.app.recorder = rec

	ta.key(t, "ctrl+r")
	snap := rec.Snapshot()
	require.True(t, snap.Controls.ModalOpen)
	require.Equal(t, recording.StatusReady, snap.Controls.Status)
	require.Contains(t, ta.app.View(), "Grabar audio")

	ta.key(t, "g")
	require.Equal(t, recording.StateRecording, rec.State())

	ta.key(t, "d")
	snap = rec.Snapshot()
	require.Equal(t, recording.StateIdle, snap.State)
	require.False(t, snap.Controls.ModalOpen)

	msgs := ta.session.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "hola", msgs[0].Content)
	require.Equal(t, "<b>respuesta</b>", msgs[1].Content)
	require.Equal(t, [][]byte{[]byte("webm-bytes")}, ta.backend.AudioUploads())
	require.False(t, ta.app.Surface().Visible(view.RegionWelcome))
}

func TestApp_RecordingModalEscKeepsCapture(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "voz.webm")
	require.NoError(t, os.WriteFile(audio, []byte("x"), 0o644))
	ta := newTestApp(t, nil)
	rec := recording.NewSession(&recording.FileCapturer{Path: audio}, ta.client, ta.session)
	ta.app.recorder = rec

	ta.key(t, "ctrl+r")
	ta.key(t, "g")
	ta.key(t, "esc")
	require.False(t, rec.Snapshot().Controls.ModalOpen)
	require.Equal(t, recording.StateRecording, rec.State())
	require.Contains(t, ta.app.View(), "grabando")
	rec.Close()
}

func TestApp_WithoutRecorder(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.key(t, "ctrl+r")
	require.Equal(t, "La grabación no está disponible.", ta.app.notice)
}

func TestIsBusy(t *testing.T) {
	require.True(t, isBusy(recording.ErrBusy))
	require.False(t, isBusy(errors.New("other")))
}
