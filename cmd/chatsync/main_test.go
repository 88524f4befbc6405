package main

import (
	"testing"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	req := require.New(t)
	cfg := &Config{}

	req.NoError(setConfigValue(cfg, "default.base_url", "https://chat.example.com"))
	req.NoError(setConfigValue(cfg, "default.log_level", "debug"))
	req.NoError(setConfigValue(cfg, "auth.user_id", "u1"))
	req.NoError(setConfigValue(cfg, "tuning.history_page_size", "20"))

	req.Equal("https://chat.example.com", cfg.Default.BaseURL)
	req.Equal("DEBUG", cfg.Default.LogLevel)
	req.Equal("u1", cfg.Auth.UserID)
	req.Equal(20, cfg.Tuning.HistoryPageSize)

	req.Error(setConfigValue(cfg, "base_url", "x"))
	req.Error(setConfigValue(cfg, "default.nope", "x"))
	req.Error(setConfigValue(cfg, "other.base_url", "x"))
	req.Error(setConfigValue(cfg, "tuning.history_page_size", "many"))
}

func TestSessionConfig(t *testing.T) {
	t.Run("file values and env overlay", func(t *testing.T) {
		req := require.New(t)
		cfg := &Config{
			Default: ConfigDefault{BaseURL: "https://chat.example.com"},
			Auth:    ConfigAuth{UserID: "u1"},
			Tuning:  ConfigTuning{ConfirmTimeout: "20s", JoinGrace: "0s"},
		}
		t.Setenv("CHATSYNC_TYPING_TIMEOUT", "5s")

		sc, err := sessionConfig(cfg)

		req.NoError(err)
		req.Equal("u1", sc.SelfID)
		req.Equal(20*time.Second, sc.ConfirmTimeout)
		req.Equal(5*time.Second, sc.TypingTimeout)
		req.Zero(sc.JoinGrace)
		req.Equal(chatsync.DefaultMatchWindow, sc.MatchWindow)
	})

	t.Run("missing base url", func(t *testing.T) {
		_, err := sessionConfig(&Config{})
		require.ErrorContains(t, err, "no base URL")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := sessionConfig(&Config{
			Default: ConfigDefault{BaseURL: "https://chat.example.com"},
			Tuning:  ConfigTuning{TypingTimeout: "soon"},
		})
		require.ErrorContains(t, err, "tuning.typing_timeout")
	})
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := &Config{
		Default: ConfigDefault{BaseURL: "https://chat.example.com"},
		Auth:    ConfigAuth{Credential: "tok", UserID: "u1"},
	}

	require.NoError(t, saveConfig(cfg))
	loaded, err := loadConfig()

	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	require.Contains(t, string(data), "[auth]")
}

func TestCredentialFrom(t *testing.T) {
	_, err := credentialFrom(&Config{})
	require.Error(t, err)

	got, err := credentialFrom(&Config{Auth: ConfigAuth{Credential: "file"}})
	require.NoError(t, err)
	require.Equal(t, "file", got)

	t.Setenv("CHATSYNC_CREDENTIAL", "env")
	got, err = credentialFrom(&Config{Auth: ConfigAuth{Credential: "file"}})
	require.NoError(t, err)
	require.Equal(t, "env", got)
}

func TestMaskKey(t *testing.T) {
	require.Equal(t, "****", maskKey("abcd"))
	require.Equal(t, "eyJhbGci...wxyz", maskKey("eyJhbGciOiJIUzI1NiJ9.payload.wxyz"))
}
