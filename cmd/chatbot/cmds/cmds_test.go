package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient/chatclienttest"
	"github.com/DeadAVA/CHATBOT/pkg/chatrunner"
	"github.com/DeadAVA/CHATBOT/pkg/persistence/turnlog"
)

// Tests point HOME at temporary directories.
func TestMain(m *testing.M) {
	homedir.DisableCache = true
	os.Exit(m.Run())
}

type testEnv struct {
	backend *chatclienttest.Backend
	home    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CHATBOT_TURN_LOG_PATH", "")
	t.Setenv("CHATBOT_VOICE_MODE", "")
	b := chatclienttest.NewBackend()
	t.Cleanup(b.Close)
	return &testEnv{backend: b, home: home}
}

func (te *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--server-url", te.backend.URL(), "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAsk_JSON(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.run(t, "ask", "-o", "json", "hola", "mundo")
	require.NoError(t, err)

	var reply chatrunner.Reply
	require.NoError(t, json.Unmarshal([]byte(out), &reply))
	require.Equal(t, "eco: hola mundo", reply.Message.Content)
	require.Equal(t, []string{"hola mundo"}, te.backend.ChatMessages())
}

func TestAsk_ServerErrorFails(t *testing.T) {
	te := newTestEnv(t)
	te.backend.OnChat(func(string) (int, interface{}) {
		return http.StatusBadGateway, map[string]string{"error": "down"}
	})

	_, err := te.run(t, "ask", "-o", "yaml", "hola")
	require.ErrorIs(t, err, chatrunner.ErrTurnFailed)
}

func TestAsk_RequiresMessage(t *testing.T) {
	te := newTestEnv(t)
	_, err := te.run(t, "ask")
	require.Error(t, err)
	require.Empty(t, te.backend.ChatMessages())
}

func TestAsk_UnknownOutput(t *testing.T) {
	te := newTestEnv(t)
	_, err := te.run(t, "ask", "-o", "xml", "hola")
	require.Error(t, err)
}

func TestVoice_File(t *testing.T) {
	te := newTestEnv(t)
	audio := filepath.Join(t.TempDir(), "nota.webm")
	require.NoError(t, os.WriteFile(audio, []byte("webm"), 0o644))

	out, err := te.run(t, "voice", "--file", audio, "-o", "yaml")
	require.NoError(t, err)

	var reply chatrunner.Reply
	require.NoError(t, yaml.Unmarshal([]byte(out), &reply))
	require.Equal(t, "hola", reply.Transcription)
	require.Equal(t, "<b>respuesta</b>", reply.Message.Content)
	require.Equal(t, []string{"audio.webm"}, te.backend.AudioFilenames())
}

func TestVoice_FlagsAreExclusive(t *testing.T) {
	te := newTestEnv(t)
	_, err := te.run(t, "voice")
	require.Error(t, err)
	_, err = te.run(t, "voice", "--file", "x.webm", "--record-for", "2s")
	require.Error(t, err)
	require.Empty(t, te.backend.AudioUploads())
}

func TestClear_Yes(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.run(t, "clear", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "Memoria del chat eliminada.")
	require.Equal(t, 1, te.backend.ClearCalls())
}

func TestClear_FailureReported(t *testing.T) {
	te := newTestEnv(t)
	te.backend.OnConfirmClear(func() int { return http.StatusInternalServerError })

	_, err := te.run(t, "clear", "--yes")
	require.Error(t, err)
}

func TestLog_AfterAsk(t *testing.T) {
	te := newTestEnv(t)
	t.Setenv("CHATBOT_TURN_LOG_PATH", filepath.Join(te.home, "turns.db"))

	_, err := te.run(t, "ask", "-o", "json", "hola")
	require.NoError(t, err)

	out, err := te.run(t, "log", "-o", "json")
	require.NoError(t, err)
	var convs []turnlog.ConversationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &convs))
	require.Len(t, convs, 1)
	require.Equal(t, 2, convs[0].Messages)

	out, err = te.run(t, "log", "--conversation", convs[0].ConvID, "-o", "yaml")
	require.NoError(t, err)
	var entries []turnlog.Entry
	require.NoError(t, yaml.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)

	out, err = te.run(t, "log", "--conversation", convs[0].ConvID)
	require.NoError(t, err)
	require.Contains(t, out, "eco: hola")
}

func TestLog_RequiresTurnLog(t *testing.T) {
	te := newTestEnv(t)
	_, err := te.run(t, "log")
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	te := newTestEnv(t)
	dir := filepath.Join(te.home, ".chatbot")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("recorder:\n  filename: nota.ogg\n"), 0o644))

	audio := filepath.Join(t.TempDir(), "nota.ogg")
	require.NoError(t, os.WriteFile(audio, []byte("ogg"), 0o644))
	_, err := te.run(t, "voice", "--file", audio, "-o", "json")
	require.NoError(t, err)
	require.Equal(t, []string{"nota.ogg"}, te.backend.AudioFilenames())

	_, err = te.run(t, "--config", filepath.Join(te.home, "missing.yaml"), "clear", "--yes")
	require.Error(t, err)
}
