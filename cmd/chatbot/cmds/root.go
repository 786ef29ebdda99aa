package cmds

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
	"github.com/DeadAVA/CHATBOT/pkg/chatrunner"
	"github.com/DeadAVA/CHATBOT/pkg/config"
	"github.com/DeadAVA/CHATBOT/pkg/events"
	"github.com/DeadAVA/CHATBOT/pkg/logging"
	"github.com/DeadAVA/CHATBOT/pkg/persistence/turnlog"
	"github.com/DeadAVA/CHATBOT/pkg/playback"
	"github.com/DeadAVA/CHATBOT/pkg/redisstream"
	"github.com/DeadAVA/CHATBOT/pkg/view"
)

// annotationTUI marks commands that hand the terminal to the chat UI, which
// moves logging to a file.
const annotationTUI = "chatbot/tui"

// Env carries the settings shared by every command.
type Env struct {
	v          *viper.Viper
	configFile string
	verbose    bool

	Settings  *config.Settings
	logCloser io.Closer
}

func NewRootCommand() *cobra.Command {
	env := &Env{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:          "chatbot",
		Short:        "chatbot is a terminal client for the denuncia assistant",
		SilenceUsage: true,
		Annotations:  map[string]string{annotationTUI: "true"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			env.close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&env.configFile, "config", "", "config file (default ~/.chatbot/config.yaml)")
	pf.String("server-url", "", "backend base URL")
	pf.Bool("voice-mode", false, "play the audio of text replies")
	pf.String("layout", "", "force the layout (desktop or mobile)")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")
	pf.String("log-file", "", "log file (the chat UI defaults to ~/.chatbot/chatbot.log)")
	pf.String("log-format", "", "log format (text or json)")
	pf.BoolVar(&env.verbose, "verbose", false, "dump every bus event to the log")

	for key, flag := range map[string]string{
		"server.url":     "server-url",
		"voice_mode":     "voice-mode",
		"layout.variant": "layout",
		"log.level":      "log-level",
		"log.file":       "log-file",
		"log.format":     "log-format",
	} {
		cobra.CheckErr(env.v.BindPFlag(key, pf.Lookup(flag)))
	}

	chatCmd := newChatCommand(env)
	rootCmd.RunE = chatCmd.RunE

	rootCmd.AddCommand(
		chatCmd,
		newAskCommand(env),
		newVoiceCommand(env),
		newClearCommand(env),
		newLogCommand(env),
	)
	return rootCmd
}

func usesTerminalUI(cmd *cobra.Command) bool {
	if cmd.Annotations[annotationTUI] == "true" {
		return true
	}
	if f := cmd.Flags().Lookup("interactive"); f != nil {
		return f.Value.String() == "true"
	}
	return false
}

func (e *Env) init(cmd *cobra.Command) error {
	if err := config.InitViper(e.v, e.configFile); err != nil {
		return err
	}
	s, err := config.Load(e.v)
	if err != nil {
		return err
	}
	e.Settings = s

	ls := s.Log
	if ls.File == "" && usesTerminalUI(cmd) {
		if ls.File, err = config.DefaultLogFile(); err != nil {
			return errors.Wrap(err, "resolve log file")
		}
	}
	closer, err := logging.InitLogger(ls)
	if err != nil {
		return err
	}
	e.logCloser = closer

	log.Debug().
		Str("command", cmd.Name()).
		Str("server", s.Server.URL).
		Bool("voice_mode", s.VoiceMode).
		Msg("settings loaded")
	return nil
}

func (e *Env) close() {
	if e.logCloser != nil {
		_ = e.logCloser.Close()
	}
}

func (e *Env) backend() (*chatclient.Client, error) {
	return chatclient.New(e.Settings.Server.URL,
		chatclient.WithTimeout(e.Settings.Server.Timeout),
		chatclient.WithAudioFilename(e.Settings.Recorder.Filename),
	)
}

// turnLog opens the configured turn log. It returns nil when none is set.
func (e *Env) turnLog() (*turnlog.SQLiteStore, error) {
	if e.Settings.TurnLog.Path == "" {
		return nil, nil
	}
	dsn, err := turnlog.DSNForFile(e.Settings.TurnLog.Path)
	if err != nil {
		return nil, err
	}
	return turnlog.NewSQLiteStore(dsn)
}

func (e *Env) router() (*events.EventRouter, error) {
	return redisstream.BuildRouter(e.Settings.Redis, e.verbose)
}

// newBuilder prepares a builder with everything the settings configure. The
// returned cleanup closes the turn log.
func (e *Env) newBuilder(ctx context.Context) (*chatrunner.ChatBuilder, func(), error) {
	s := e.Settings
	client, err := e.backend()
	if err != nil {
		return nil, nil, err
	}
	store, err := e.turnLog()
	if err != nil {
		return nil, nil, errors.Wrap(err, "open turn log")
	}
	cleanup := func() {
		if store != nil {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close turn log")
			}
		}
	}

	variant, _ := view.ParseVariant(s.Layout.Variant)
	b := chatrunner.NewChatBuilder().
		WithContext(ctx).
		WithBackend(client).
		WithPlayer(playback.NewExecPlayer(s.Player.Command)).
		WithVoiceMode(s.VoiceMode).
		WithDuplicateGuard(s.Recorder.DuplicateGuard).
		WithLayout(variant, s.Layout.MobileBreakpoint).
		WithDownloadDir(s.Downloads.Dir).
		WithRedis(s.Redis)
	if store != nil {
		b = b.WithTurnLog(store)
	}
	return b, cleanup, nil
}
