package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chime/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Server ServerConfig `toml:"server"`
	Chat   ChatConfig   `toml:"chat"`
	Call   CallConfig   `toml:"call"`
}

// ServerConfig holds the endpoints of the chime backend.
type ServerConfig struct {
	// BaseURL is the REST base, e.g. https://api.chime.example.
	BaseURL string `toml:"base_url"`
	// ChatSocketURL and CallSocketURL are the websocket endpoints for the
	// chat and call signaling channels.
	ChatSocketURL string `toml:"chat_socket_url"`
	CallSocketURL string `toml:"call_socket_url"`
}

// ChatConfig tunes the messaging layer.
type ChatConfig struct {
	// TypingDebounceMS is how long after the last keystroke a
	// "stopped typing" event is auto-emitted. 0 means the default (3000).
	TypingDebounceMS int `toml:"typing_debounce_ms"`
}

// CallConfig tunes the call signaling layer.
type CallConfig struct {
	// ICECredentialURL is the endpoint that hands out TURN credentials.
	// Empty means the STUN-only fallback list is used from the start.
	ICECredentialURL string `toml:"ice_credential_url"`
	// BusyPolicy controls what happens when an invitation arrives while a
	// call is already active: "reject" (default) or "ignore".
	BusyPolicy string `toml:"busy_policy"`
}

// Busy policies accepted in CallConfig.BusyPolicy.
const (
	BusyReject = "reject"
	BusyIgnore = "ignore"
)

// DefaultTypingDebounceMS is applied when chat.typing_debounce_ms is unset.
const DefaultTypingDebounceMS = 3000

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.Chat.TypingDebounceMS <= 0 {
		c.Chat.TypingDebounceMS = DefaultTypingDebounceMS
	}
	if c.Call.BusyPolicy == "" {
		c.Call.BusyPolicy = BusyReject
	}
}
