package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_File(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	p := filepath.Join(t.TempDir(), "logs", "chatbot.log")
	closer, err := InitLogger(Settings{Level: "debug", Format: "json", File: p})
	require.NoError(t, err)

	log.Debug().Str("component", "test").Msg("hello")
	NewWatermill(log.Logger).Error("bus failed", errors.New("boom"), map[string]interface{}{"topic": "ui"})
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"hello"`)
	require.Contains(t, string(data), `"topic":"ui"`)
	require.Contains(t, string(data), `"component":"watermill"`)
}

func TestInitLogger_InvalidSettings(t *testing.T) {
	_, err := InitLogger(Settings{Level: "loud"})
	require.Error(t, err)
	_, err = InitLogger(Settings{Level: "info", Format: "xml"})
	require.Error(t, err)
}
