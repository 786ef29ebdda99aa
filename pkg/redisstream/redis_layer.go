package redisstream

import (
	"fmt"
	"os"
)

// Settings holds Redis Streams transport configuration for the event bus.
type Settings struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" json:"addr" yaml:"addr"`
	Group    string `mapstructure:"group" json:"group" yaml:"group"`
	Consumer string `mapstructure:"consumer" json:"consumer" yaml:"consumer"`
}

// DefaultSettings mirrors the configuration defaults. Consumer is left empty
// so every process joins the consumer groups under its own name.
func DefaultSettings() Settings {
	return Settings{
		Enabled: false,
		Addr:    "localhost:6379",
		Group:   "chatbot-ui",
	}
}

// ConsumerName returns the configured consumer, or hostname-pid. Two clients
// sharing a consumer name inside a group would split the stream between them.
func (s Settings) ConsumerName() string {
	if s.Consumer != "" {
		return s.Consumer
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "chatbot"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
