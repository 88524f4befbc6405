package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/mama165/sdk-go/logs"
)

const envPrefix = "CHATSYNC"

// sessionConfig turns the file config into a validated session config, with
// CHATSYNC_* environment variables applied on top.
func sessionConfig(cfg *Config) (chatsync.Config, error) {
	sc := chatsync.DefaultConfig(cfg.Default.BaseURL)
	sc.ChannelURL = cfg.Default.ChannelURL
	sc.SelfID = cfg.Auth.UserID
	sc.LogLevel = cfg.Default.LogLevel

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"confirm_timeout", cfg.Tuning.ConfirmTimeout, &sc.ConfirmTimeout},
		{"typing_timeout", cfg.Tuning.TypingTimeout, &sc.TypingTimeout},
		{"join_grace", cfg.Tuning.JoinGrace, &sc.JoinGrace},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return sc, fmt.Errorf("tuning.%s: %w", d.name, err)
		}
		*d.dst = v
	}
	if cfg.Tuning.HistoryPageSize > 0 {
		sc.HistoryPageSize = cfg.Tuning.HistoryPageSize
	}

	if err := sc.ApplyEnv(envPrefix); err != nil {
		return sc, err
	}
	if sc.BaseURL == "" {
		return sc, errors.New("no base URL. Run 'chatsync init --base-url <url> <credential>' first")
	}
	if err := sc.Validate(); err != nil {
		return sc, err
	}
	return sc, nil
}

func credentialFrom(cfg *Config) (string, error) {
	if v := os.Getenv(envPrefix + "_CREDENTIAL"); v != "" {
		return v, nil
	}
	if cfg.Auth.Credential == "" {
		return "", errors.New("no credential. Run 'chatsync init <credential>' first")
	}
	return cfg.Auth.Credential, nil
}

// newLogger defaults to WARN so command output stays readable.
func newLogger(level string) *slog.Logger {
	if level == "" {
		level = "WARN"
	}
	return logs.GetLoggerFromString(strings.ToUpper(level))
}

// openSession loads the config, starts a session and waits until it is
// ready or ctx ends.
func openSession(ctx context.Context) (*chatsync.Session, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	sc, err := sessionConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	credential, err := credentialFrom(cfg)
	if err != nil {
		return nil, nil, err
	}

	log := newLogger(sc.LogLevel)
	s, err := chatsync.New(sc, chatsync.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}

	ready := make(chan struct{}, 1)
	unsubscribe := s.Subscribe(func(e chatsync.Event) {
		if e.Type == chatsync.EventStateChanged && e.State == chatsync.SessionReady {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := s.Start(ctx, credential); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	if s.State() != chatsync.SessionReady {
		select {
		case <-ready:
		case <-ctx.Done():
			_ = s.Close()
			return nil, nil, fmt.Errorf("channel did not connect: %w", ctx.Err())
		}
	}
	return s, log, nil
}

// maskKey shows the first 8 and last 4 characters of a credential.
func maskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
