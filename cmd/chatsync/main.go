package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatsync/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
	Tuning  ConfigTuning  `toml:"tuning"`
}

// ConfigDefault holds the service endpoints.
type ConfigDefault struct {
	BaseURL    string `toml:"base_url"`
	ChannelURL string `toml:"channel_url,omitempty"`
	LogLevel   string `toml:"log_level,omitempty"`
}

// ConfigAuth holds the signed-in user.
type ConfigAuth struct {
	Credential string `toml:"credential"`
	UserID     string `toml:"user_id,omitempty"`
}

// ConfigTuning holds optional timing overrides as Go duration strings.
type ConfigTuning struct {
	ConfirmTimeout  string `toml:"confirm_timeout,omitempty"`
	TypingTimeout   string `toml:"typing_timeout,omitempty"`
	JoinGrace       string `toml:"join_grace,omitempty"`
	HistoryPageSize int    `toml:"history_page_size,omitempty"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chatsync, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "channel_url":
			cfg.Default.ChannelURL = value
		case "log_level":
			cfg.Default.LogLevel = strings.ToUpper(value)
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "credential":
			cfg.Auth.Credential = value
		case "user_id":
			cfg.Auth.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "tuning":
		switch field {
		case "confirm_timeout":
			cfg.Tuning.ConfirmTimeout = value
		case "typing_timeout":
			cfg.Tuning.TypingTimeout = value
		case "join_grace":
			cfg.Tuning.JoinGrace = value
		case "history_page_size":
			var n int
			if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
				return fmt.Errorf("history_page_size must be an integer: %w", err)
			}
			cfg.Tuning.HistoryPageSize = n
		default:
			return fmt.Errorf("unknown field %q in section [tuning]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, tuning)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Conversation sync CLI",
	Long: "Command-line client for the conversation sync core.\n" +
		"Store a credential, list conversations, send messages and follow live events.\n" +
		"Environment variables prefixed with CHATSYNC_ override the config file.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
