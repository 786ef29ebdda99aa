package chatclient_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
	"github.com/DeadAVA/CHATBOT/pkg/chatclient/chatclienttest"
)

func newClient(t *testing.T) (*chatclient.Client, *chatclienttest.Backend) {
	t.Helper()
	b := chatclienttest.NewBackend()
	t.Cleanup(b.Close)
	c, err := chatclient.New(b.URL() + "/")
	require.NoError(t, err)
	return c, b
}

func TestNew_RejectsBadURLs(t *testing.T) {
	_, err := chatclient.New("  ")
	require.Error(t, err)
	_, err = chatclient.New("ftp://example.com")
	require.Error(t, err)
}

func TestChat(t *testing.T) {
	c, b := newClient(t)
	b.OnChat(func(message string) (int, interface{}) {
		return http.StatusOK, chatclient.ChatResponse{Response: "ok " + message, AudioResponse: "/static/r.mp3"}
	})

	resp, err := c.Chat(context.Background(), "hola")
	require.NoError(t, err)
	require.Equal(t, "ok hola", resp.Response)
	require.Equal(t, "/static/r.mp3", resp.AudioResponse)
	require.Equal(t, []string{"hola"}, b.ChatMessages())
}

func TestChat_StatusError(t *testing.T) {
	c, b := newClient(t)
	b.OnChat(func(message string) (int, interface{}) {
		return http.StatusInternalServerError, map[string]string{"error": "boom"}
	})

	_, err := c.Chat(context.Background(), "hola")
	require.Error(t, err)
	var se *chatclient.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
	require.Equal(t, "/chat", se.Endpoint)
}

func TestChat_InvalidJSON(t *testing.T) {
	c, b := newClient(t)
	b.OnChat(func(message string) (int, interface{}) {
		return http.StatusOK, "not an object"
	})
	_, err := c.Chat(context.Background(), "hola")
	require.Error(t, err)
}

func TestChat_MissingResponseField(t *testing.T) {
	for name, body := range map[string]interface{}{
		"error object": map[string]string{"error": "boom"},
		"null":         nil,
	} {
		t.Run(name, func(t *testing.T) {
			c, b := newClient(t)
			b.OnChat(func(message string) (int, interface{}) {
				return http.StatusOK, body
			})
			_, err := c.Chat(context.Background(), "hola")
			require.Error(t, err)
		})
	}
}

func TestChat_EmptyResponseIsValid(t *testing.T) {
	c, b := newClient(t)
	b.OnChat(func(message string) (int, interface{}) {
		return http.StatusOK, map[string]string{"response": ""}
	})
	resp, err := c.Chat(context.Background(), "hola")
	require.NoError(t, err)
	require.Equal(t, "", resp.Response)
}

func TestNew_TimeoutAppliesToReplacedClient(t *testing.T) {
	b := chatclienttest.NewBackend()
	t.Cleanup(b.Close)
	b.OnChat(func(message string) (int, interface{}) {
		time.Sleep(500 * time.Millisecond)
		return http.StatusOK, chatclient.ChatResponse{Response: "tarde"}
	})

	c, err := chatclient.New(b.URL(),
		chatclient.WithTimeout(50*time.Millisecond),
		chatclient.WithHTTPClient(&http.Client{}),
	)
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "hola")
	require.Error(t, err)
}

func TestNew_NilHTTPClientIgnored(t *testing.T) {
	b := chatclienttest.NewBackend()
	t.Cleanup(b.Close)

	var c *chatclient.Client
	require.NotPanics(t, func() {
		var err error
		c, err = chatclient.New(b.URL(),
			chatclient.WithHTTPClient(nil),
			chatclient.WithTimeout(time.Second),
		)
		require.NoError(t, err)
	})
	b.OnChat(func(message string) (int, interface{}) {
		return http.StatusOK, chatclient.ChatResponse{Response: "ok"}
	})
	resp, err := c.Chat(context.Background(), "hola")
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Response)
}

func TestUploadAudio(t *testing.T) {
	c, b := newClient(t)

	resp, err := c.UploadAudio(context.Background(), []byte("webm-bytes"))
	require.NoError(t, err)
	require.Equal(t, "hola", resp.Transcription)
	require.Equal(t, "<b>respuesta</b>", resp.Response)
	require.Equal(t, [][]byte{[]byte("webm-bytes")}, b.AudioUploads())
	require.Equal(t, []string{chatclient.AudioFilename}, b.AudioFilenames())
}

func TestUploadAudio_CustomFilename(t *testing.T) {
	b := chatclienttest.NewBackend()
	t.Cleanup(b.Close)
	c, err := chatclient.New(b.URL(), chatclient.WithAudioFilename("grabacion.ogg"))
	require.NoError(t, err)

	_, err = c.UploadAudio(context.Background(), []byte("ogg-bytes"))
	require.NoError(t, err)
	require.Equal(t, []string{"grabacion.ogg"}, b.AudioFilenames())
}

func TestUploadAudio_ErrorBody(t *testing.T) {
	c, b := newClient(t)
	b.OnAudio(func(payload []byte) (int, interface{}) {
		return http.StatusInternalServerError, chatclient.AudioResponse{Error: "Error al procesar el audio"}
	})
	_, err := c.UploadAudio(context.Background(), []byte("x"))
	require.Error(t, err)
}

func TestConfirmClear(t *testing.T) {
	c, b := newClient(t)
	text, err := c.ConfirmClear(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Memoria del chat eliminada. 🧹", text)
	require.Equal(t, 1, b.ClearCalls())

	b.OnConfirmClear(func() int { return http.StatusServiceUnavailable })
	_, err = c.ConfirmClear(context.Background())
	require.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	c, err := chatclient.New("http://localhost:5000/app")
	require.NoError(t, err)

	u, err := c.ResolveURL("/static/audio/r.mp3")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:5000/app/static/audio/r.mp3", u)

	u, err = c.ResolveURL("https://cdn.example.com/a.mp3")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/a.mp3", u)
}

func TestDownload(t *testing.T) {
	c, b := newClient(t)
	b.SetDocument("/download_form", []byte("%PDF-1.4"))
	dir := t.TempDir()

	p, err := c.Download(context.Background(), "/download_form", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "formato_denuncia.pdf"), p)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(data))

	_, err = c.Download(context.Background(), "/download_sue", dir)
	require.Error(t, err)
}
