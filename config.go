package chatsync

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
)

const (
	DefaultConfirmTimeout  = 15 * time.Second
	DefaultMatchWindow     = 10 * time.Second
	DefaultDuplicateWindow = 5 * time.Second
	DefaultTypingTimeout   = 3 * time.Second
	DefaultJoinGrace       = 150 * time.Millisecond
	DefaultRequestTimeout  = 30 * time.Second
	DefaultHistoryPageSize = 50
)

// Config configures a sync session and the transports it builds.
type Config struct {
	BaseURL string `envconfig:"BASE_URL" validate:"required,url"`
	// ChannelURL defaults to BaseURL with a ws(s) scheme and a /ws path.
	ChannelURL string `envconfig:"CHANNEL_URL" validate:"omitempty,url"`
	// SelfID overrides the user id read from the credential claims.
	SelfID   string `envconfig:"SELF_ID"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	HistoryPageSize int           `envconfig:"HISTORY_PAGE_SIZE" validate:"gte=1,lte=500"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`

	ConfirmTimeout  time.Duration `envconfig:"CONFIRM_TIMEOUT" validate:"gt=0"`
	MatchWindow     time.Duration `envconfig:"MATCH_WINDOW" validate:"gt=0"`
	DuplicateWindow time.Duration `envconfig:"DUPLICATE_WINDOW" validate:"gte=0"`
	TypingTimeout   time.Duration `envconfig:"TYPING_TIMEOUT" validate:"gt=0"`
	JoinGrace       time.Duration `envconfig:"JOIN_GRACE" validate:"gte=0"`

	ReconnectBaseDelay   time.Duration `envconfig:"RECONNECT_BASE_DELAY" validate:"gt=0"`
	ReconnectMaxDelay    time.Duration `envconfig:"RECONNECT_MAX_DELAY" validate:"gtefield=ReconnectBaseDelay"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" validate:"gte=0"`
	HeartbeatInterval    time.Duration `envconfig:"HEARTBEAT_INTERVAL" validate:"gt=0"`
	OutboundQueueSize    int           `envconfig:"OUTBOUND_QUEUE_SIZE" validate:"gte=1"`
}

// DefaultConfig returns a Config with every tunable set.
func DefaultConfig(baseURL string) Config {
	cfg := Config{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		DuplicateWindow: DefaultDuplicateWindow,
		JoinGrace:       DefaultJoinGrace,
	}
	cfg.defaults()
	return cfg
}

// defaults fills the zero values that must be positive. DuplicateWindow and
// JoinGrace may legitimately be zero and are only set by DefaultConfig.
func (c *Config) defaults() {
	if c.HistoryPageSize == 0 {
		c.HistoryPageSize = DefaultHistoryPageSize
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.MatchWindow == 0 {
		c.MatchWindow = DefaultMatchWindow
	}
	if c.TypingTimeout == 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.OutboundQueueSize == 0 {
		c.OutboundQueueSize = 256
	}
}

// ApplyEnv overlays environment variables named <prefix>_<FIELD> onto c.
// Unset variables leave the current value untouched.
func (c *Config) ApplyEnv(prefix string) error {
	if err := envconfig.Process(prefix, c); err != nil {
		return fmt.Errorf("config from env: %w", err)
	}
	return nil
}

// Validate fills defaults and checks every field.
func (c *Config) Validate() error {
	c.defaults()
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// channelURL derives the websocket endpoint from BaseURL when ChannelURL is
// not set.
func (c Config) channelURL() (string, error) {
	if c.ChannelURL != "" {
		return c.ChannelURL, nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// logger builds the session logger from LogLevel. An empty level discards.
func (c Config) logger() *slog.Logger {
	if c.LogLevel == "" {
		return discardLogger()
	}
	return logs.GetLoggerFromString(c.LogLevel)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
