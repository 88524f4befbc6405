package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig("https://chat.example.com/")

	req.NoError(cfg.Validate())
	req.Equal("https://chat.example.com", cfg.BaseURL)
	req.Equal(3*time.Second, cfg.TypingTimeout)
	req.Equal(15*time.Second, cfg.ConfirmTimeout)
	req.Equal(10*time.Second, cfg.MatchWindow)
	req.Equal(5*time.Second, cfg.DuplicateWindow)
	req.Equal(150*time.Millisecond, cfg.JoinGrace)
	req.Equal(time.Second, cfg.ReconnectBaseDelay)
	req.Equal(30*time.Second, cfg.ReconnectMaxDelay)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("missing base url", func(t *testing.T) {
		cfg := Config{}
		require.Error(t, cfg.Validate())
	})

	t.Run("zero values get defaults", func(t *testing.T) {
		cfg := Config{BaseURL: "http://localhost:3000"}
		require.NoError(t, cfg.Validate())
		require.Equal(t, DefaultHistoryPageSize, cfg.HistoryPageSize)
		require.Equal(t, time.Duration(0), cfg.JoinGrace)
	})

	t.Run("max delay below base delay", func(t *testing.T) {
		cfg := DefaultConfig("http://localhost:3000")
		cfg.ReconnectBaseDelay = 10 * time.Second
		cfg.ReconnectMaxDelay = time.Second
		require.Error(t, cfg.Validate())
	})

	t.Run("page size out of range", func(t *testing.T) {
		cfg := DefaultConfig("http://localhost:3000")
		cfg.HistoryPageSize = 1000
		require.Error(t, cfg.Validate())
	})
}

func TestConfig_ApplyEnv(t *testing.T) {
	req := require.New(t)
	t.Setenv("CHATSYNC_BASE_URL", "https://env.example.com")
	t.Setenv("CHATSYNC_CONFIRM_TIMEOUT", "20s")
	t.Setenv("CHATSYNC_HISTORY_PAGE_SIZE", "25")

	cfg := DefaultConfig("https://file.example.com")
	req.NoError(cfg.ApplyEnv("CHATSYNC"))
	req.NoError(cfg.Validate())

	req.Equal("https://env.example.com", cfg.BaseURL)
	req.Equal(20*time.Second, cfg.ConfirmTimeout)
	req.Equal(25, cfg.HistoryPageSize)
	req.Equal(DefaultMatchWindow, cfg.MatchWindow)
}

func TestConfig_ChannelURL(t *testing.T) {
	cases := map[string]string{
		"https://chat.example.com":     "wss://chat.example.com/ws",
		"http://localhost:3000/":       "ws://localhost:3000/ws",
		"https://example.com/app/chat": "wss://example.com/app/chat/ws",
	}
	for base, want := range cases {
		cfg := DefaultConfig(base)
		got, err := cfg.channelURL()
		require.NoError(t, err)
		require.Equal(t, want, got, base)
	}

	cfg := DefaultConfig("https://chat.example.com")
	cfg.ChannelURL = "wss://rt.example.com/socket"
	got, err := cfg.channelURL()
	require.NoError(t, err)
	require.Equal(t, "wss://rt.example.com/socket", got)
}
