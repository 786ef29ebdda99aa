// Package config loads chatbot settings from flags, environment, .env and an
// optional YAML file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/DeadAVA/CHATBOT/pkg/logging"
	"github.com/DeadAVA/CHATBOT/pkg/redisstream"
	"github.com/DeadAVA/CHATBOT/pkg/view"
)

const (
	EnvPrefix   = "CHATBOT"
	appDir      = "~/.chatbot"
	defaultFile = "config.yaml"
)

type ServerSettings struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RecorderSettings struct {
	Command        []string `mapstructure:"command" yaml:"command"`
	Filename       string   `mapstructure:"filename" yaml:"filename"`
	ChunkSize      int      `mapstructure:"chunk_size" yaml:"chunk_size"`
	DuplicateGuard bool     `mapstructure:"duplicate_guard" yaml:"duplicate_guard"`
}

type PlayerSettings struct {
	Command []string `mapstructure:"command" yaml:"command"`
}

type LayoutSettings struct {
	// Variant forces a layout ("desktop" or "mobile"); empty follows the
	// terminal width.
	Variant          string `mapstructure:"variant" yaml:"variant"`
	MobileBreakpoint int    `mapstructure:"mobile_breakpoint" yaml:"mobile_breakpoint"`
}

type TurnLogSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type DownloadSettings struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type Settings struct {
	Server    ServerSettings       `mapstructure:"server" yaml:"server"`
	VoiceMode bool                 `mapstructure:"voice_mode" yaml:"voice_mode"`
	Recorder  RecorderSettings     `mapstructure:"recorder" yaml:"recorder"`
	Player    PlayerSettings       `mapstructure:"player" yaml:"player"`
	Layout    LayoutSettings       `mapstructure:"layout" yaml:"layout"`
	Redis     redisstream.Settings `mapstructure:"redis" yaml:"redis"`
	TurnLog   TurnLogSettings      `mapstructure:"turn_log" yaml:"turn_log"`
	Downloads DownloadSettings     `mapstructure:"downloads" yaml:"downloads"`
	Log       logging.Settings     `mapstructure:"log" yaml:"log"`
}

// SetDefaults registers every key so that environment variables are picked up
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	redis := redisstream.DefaultSettings()

	v.SetDefault("server.url", "http://localhost:5000")
	v.SetDefault("server.timeout", time.Duration(0))
	v.SetDefault("voice_mode", false)
	v.SetDefault("recorder.command", []string{})
	v.SetDefault("recorder.filename", "audio.webm")
	v.SetDefault("recorder.chunk_size", 16*1024)
	v.SetDefault("recorder.duplicate_guard", true)
	v.SetDefault("player.command", []string{})
	v.SetDefault("layout.variant", "")
	v.SetDefault("layout.mobile_breakpoint", view.DefaultMobileBreakpoint)
	v.SetDefault("redis.enabled", redis.Enabled)
	v.SetDefault("redis.addr", redis.Addr)
	v.SetDefault("redis.group", redis.Group)
	v.SetDefault("redis.consumer", redis.Consumer)
	v.SetDefault("turn_log.path", "")
	v.SetDefault("downloads.dir", ".")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// InitViper prepares v: defaults, .env, environment and the config file. An
// explicit configFile must exist; the default one is optional.
func InitViper(v *viper.Viper, configFile string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		dir, err := homedir.Expand(appDir)
		if err != nil {
			return errors.Wrap(err, "resolve config directory")
		}
		configFile = filepath.Join(dir, defaultFile)
	}
	configFile, err := homedir.Expand(configFile)
	if err != nil {
		return errors.Wrapf(err, "expand %s", configFile)
	}
	if _, err := os.Stat(configFile); err != nil {
		if explicit || !os.IsNotExist(err) {
			return errors.Wrapf(err, "config file %s", configFile)
		}
		return nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", configFile)
	}
	log.Debug().Str("file", v.ConfigFileUsed()).Msg("loaded config file")
	return nil
}

// Load decodes v into Settings and expands the paths it holds.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	for _, p := range []*string{&s.TurnLog.Path, &s.Downloads.Dir, &s.Log.File} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, errors.Wrapf(err, "expand %s", *p)
		}
		*p = expanded
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Server.URL) == "" {
		return errors.New("server.url is required")
	}
	if s.Server.Timeout < 0 {
		return errors.New("server.timeout must not be negative")
	}
	if s.Layout.Variant != "" {
		if _, ok := view.ParseVariant(s.Layout.Variant); !ok {
			return errors.Errorf("layout.variant must be desktop or mobile, got %q", s.Layout.Variant)
		}
	}
	if s.Layout.MobileBreakpoint < 0 {
		return errors.New("layout.mobile_breakpoint must not be negative")
	}
	return nil
}

// DefaultLogFile is where the TUI logs when no log file is configured.
func DefaultLogFile() (string, error) {
	dir, err := homedir.Expand(appDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatbot.log"), nil
}
