package chatsync

//go:generate go run go.uber.org/mock/mockgen -source=channel.go -destination=mocks/mock_channel.go -package=mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"nhooyr.io/websocket"
)

// ============================================================================
// Event Names
// ============================================================================

// Lifecycle events synthesized by the channel itself.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventReconnecting = "reconnecting"
)

// Events emitted to the peer.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventMarkAsRead        = "mark_as_read"
)

// Events received from the peer.
const (
	EventNewMessage         = "new_message"
	EventMessageUpdate      = "message_update"
	EventUserTyping         = "user_typing"
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventMessagesRead       = "messages_read"
	EventConversationUpdate = "conversation_update"
)

// DisconnectPayload is delivered with EventDisconnect.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// ConnectErrorPayload is delivered with EventConnectError.
type ConnectErrorPayload struct {
	Error string `json:"error"`
}

// ReconnectingPayload is delivered with EventReconnecting.
type ReconnectingPayload struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// envelope is the wire format for every frame in both directions.
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// ============================================================================
// Channel
// ============================================================================

// EventHandler receives the raw payload of one event.
type EventHandler func(payload json.RawMessage)

// Channel is one duplex event channel per session.
type Channel interface {
	// Connect starts the channel in the background. It never blocks on the
	// network and is a no-op while a connection is live or being retried.
	Connect(ctx context.Context, credential string)
	// Disconnect releases the channel and removes every handler.
	Disconnect()
	// Emit sends a durable command; while disconnected it is queued.
	Emit(ctx context.Context, event string, payload any) error
	// EmitVolatile sends a command that is dropped while disconnected.
	EmitVolatile(ctx context.Context, event string, payload any) error
	// JoinRoom joins a room. Joined rooms are restored after every
	// reconnect, before queued commands are flushed.
	JoinRoom(ctx context.Context, conversationID string) error
	LeaveRoom(ctx context.Context, conversationID string) error
	On(event string, h EventHandler) *Subscription
	Off(sub *Subscription)
	State() ChannelState
}

// ChannelState represents the transport state.
type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelConnected    ChannelState = "connected"
	ChannelReconnecting ChannelState = "reconnecting"
)

// Subscription is the handle returned by On. Unsubscribe is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps a cancel function. Channel implementations use it
// to hand out handles.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe removes the handler.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// ============================================================================
// Event Dispatcher
// ============================================================================

type handlerEntry struct {
	id uint64
	h  EventHandler
}

type eventDispatcher struct {
	mu       sync.RWMutex
	log      *slog.Logger
	nextID   uint64
	handlers map[string][]handlerEntry
}

func newEventDispatcher(log *slog.Logger) *eventDispatcher {
	return &eventDispatcher{log: log, handlers: make(map[string][]handlerEntry)}
}

func (d *eventDispatcher) on(event string, h EventHandler) *Subscription {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], handlerEntry{id: id, h: h})
	d.mu.Unlock()
	return NewSubscription(func() { d.off(event, id) })
}

func (d *eventDispatcher) off(event string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.handlers[event]
	for i, e := range entries {
		if e.id == id {
			d.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// dispatch runs handlers sequentially on the caller's goroutine so that
// processing order equals arrival order.
func (d *eventDispatcher) dispatch(event string, payload json.RawMessage) {
	d.mu.RLock()
	handlers := append([]handlerEntry(nil), d.handlers[event]...)
	d.mu.RUnlock()
	for _, e := range handlers {
		d.invoke(event, e.h, payload)
	}
}

func (d *eventDispatcher) invoke(event string, h EventHandler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Event handler panicked", "event", event, "panic", r)
		}
	}()
	h(payload)
}

func (d *eventDispatcher) dispatchValue(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		d.log.Error("Cannot marshal lifecycle payload", "event", event, "error", err)
		return
	}
	d.dispatch(event, data)
}

func (d *eventDispatcher) removeAll() {
	d.mu.Lock()
	d.handlers = make(map[string][]handlerEntry)
	d.mu.Unlock()
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	clock       clockwork.Clock
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(clock clockwork.Clock, config *ChannelConfig) *reconnector {
	return &reconnector{
		clock:       clock,
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

// shouldReconnect resets the attempt count after a connection that stayed
// up for a minute. How long a connection lasted is only known once it has
// dropped, so the reset happens here rather than in markConnected.
func (r *reconnector) shouldReconnect() bool {
	if !r.connectedAt.IsZero() && r.clock.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = r.clock.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// WSChannel
// ============================================================================

// ChannelConfig configures a WSChannel.
type ChannelConfig struct {
	URL                  string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // zero retries forever
	HeartbeatInterval    time.Duration
	DialTimeout          time.Duration
	// JoinGrace is how long queued commands wait after rooms are re-joined.
	JoinGrace            time.Duration
	QueueSize            int
	HTTPClient           *http.Client
	Clock                clockwork.Clock
	Logger               *slog.Logger
}

func (c *ChannelConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

// WSChannel is a websocket Channel with auto-reconnect, heartbeat and an
// outbound queue for commands issued while the transport is down.
type WSChannel struct {
	config     ChannelConfig
	log        *slog.Logger
	clock      clockwork.Clock
	dispatcher *eventDispatcher

	mu         sync.Mutex
	state      ChannelState
	conn       *websocket.Conn
	cancelFn   context.CancelFunc
	generation uint64
	recon      *reconnector
	rooms      map[string]struct{}

	// sendMu serializes writes and guards queue so room joins and queued
	// commands go out before anything emitted after a reconnect.
	sendMu sync.Mutex
	queue  [][]byte
	closed bool
}

var _ Channel = (*WSChannel)(nil)

// NewWSChannel creates a channel. Call Connect to start it.
func NewWSChannel(config ChannelConfig) *WSChannel {
	cfg := config
	cfg.defaults()
	return &WSChannel{
		config:     cfg,
		log:        cfg.Logger.With("component", "channel"),
		clock:      cfg.Clock,
		dispatcher: newEventDispatcher(cfg.Logger),
		state:      ChannelDisconnected,
		recon:      newReconnector(cfg.Clock, &cfg),
		rooms:      make(map[string]struct{}),
	}
}

// On registers a handler for an event.
func (c *WSChannel) On(event string, h EventHandler) *Subscription {
	return c.dispatcher.on(event, h)
}

// Off removes a handler registered with On.
func (c *WSChannel) Off(sub *Subscription) {
	sub.Unsubscribe()
}

// State returns the current connection state.
func (c *WSChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms returns the rooms restored on every reconnect, sorted.
func (c *WSChannel) Rooms() []string {
	c.mu.Lock()
	rooms := lo.Keys(c.rooms)
	c.mu.Unlock()
	slices.Sort(rooms)
	return rooms
}

// Connect starts the connection loop. Failures are reported as
// EventConnectError and retried with backoff.
func (c *WSChannel) Connect(ctx context.Context, credential string) {
	c.mu.Lock()
	if c.cancelFn != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelFn = cancel
	c.generation++
	gen := c.generation
	c.state = ChannelConnecting
	c.recon.reset()
	c.mu.Unlock()

	c.sendMu.Lock()
	c.closed = false
	c.sendMu.Unlock()

	go c.run(runCtx, gen, credential)
}

// Disconnect closes the connection, drops queued commands and removes all
// handlers. It is safe to call more than once.
func (c *WSChannel) Disconnect() {
	c.dispatcher.removeAll()

	c.mu.Lock()
	cancel := c.cancelFn
	c.cancelFn = nil
	c.generation++
	conn := c.conn
	c.conn = nil
	c.state = ChannelDisconnected
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	c.sendMu.Lock()
	c.queue = nil
	c.closed = true
	c.sendMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// Emit sends a command, queueing it while the transport is down.
func (c *WSChannel) Emit(ctx context.Context, event string, payload any) error {
	return c.send(ctx, event, payload, true)
}

// EmitVolatile sends a command only if the transport is up.
func (c *WSChannel) EmitVolatile(ctx context.Context, event string, payload any) error {
	return c.send(ctx, event, payload, false)
}

// JoinRoom records the room and asks the peer to join it. While the
// transport is down the join fails with ErrNotConnected but the room stays
// recorded and is joined on connect.
func (c *WSChannel) JoinRoom(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	return c.send(ctx, EventJoinConversation, roomCommand{ConversationID: conversationID}, false)
}

// LeaveRoom forgets the room and tells the peer.
func (c *WSChannel) LeaveRoom(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	return c.send(ctx, EventLeaveConversation, roomCommand{ConversationID: conversationID}, false)
}

func encodeFrame(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(envelope{Type: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}
	return data, nil
}

func (c *WSChannel) send(ctx context.Context, event string, payload any, durable bool) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return ErrNotConnected
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		if !durable {
			return ErrNotConnected
		}
		return c.enqueueLocked(event, data)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Warn("Write failed", "event", event, "error", err)
		if !durable {
			return &TransportError{Op: "write", Err: err}
		}
		return c.enqueueLocked(event, data)
	}
	return nil
}

func (c *WSChannel) enqueueLocked(event string, data []byte) error {
	if len(c.queue) >= c.config.QueueSize {
		return ErrQueueFull
	}
	c.queue = append(c.queue, data)
	c.log.Debug("Command queued", "event", event, "queued", len(c.queue))
	return nil
}

// restore brings a fresh connection up to date: recorded rooms are joined
// first, then queued commands are written in order once the join grace has
// passed. Commands that fail stay queued.
func (c *WSChannel) restore(ctx context.Context, conn *websocket.Conn) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	rooms := lo.Keys(c.rooms)
	c.mu.Unlock()
	slices.Sort(rooms)
	for _, id := range rooms {
		data, err := encodeFrame(EventJoinConversation, roomCommand{ConversationID: id})
		if err != nil {
			c.log.Warn("Room join not encoded", "conversation", id, "error", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			c.log.Warn("Room re-join interrupted", "conversation", id, "error", err)
			return
		}
	}

	if len(rooms) > 0 && len(c.queue) > 0 && c.config.JoinGrace > 0 {
		select {
		case <-c.clock.After(c.config.JoinGrace):
		case <-ctx.Done():
			return
		}
	}
	for len(c.queue) > 0 {
		if err := conn.Write(ctx, websocket.MessageText, c.queue[0]); err != nil {
			c.log.Warn("Flush interrupted", "remaining", len(c.queue), "error", err)
			return
		}
		c.queue = c.queue[1:]
	}
}

// current reports whether gen still owns the channel.
func (c *WSChannel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *WSChannel) setState(gen uint64, state ChannelState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.state = state
	return true
}

func (c *WSChannel) run(ctx context.Context, gen uint64, credential string) {
	for {
		conn, err := c.dial(ctx, credential)
		if err != nil {
			if ctx.Err() != nil || !c.current(gen) {
				return
			}
			c.log.Warn("Connect failed", "error", err)
			c.dispatcher.dispatchValue(EventConnectError, ConnectErrorPayload{Error: err.Error()})
			if !c.backoff(ctx, gen) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
			return
		}
		c.conn = conn
		c.state = ChannelConnected
		c.recon.markConnected()
		c.mu.Unlock()

		c.log.Info("Channel connected")
		c.restore(ctx, conn)
		c.dispatcher.dispatchValue(EventConnect, struct{}{})

		err = c.serve(ctx, conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		if ctx.Err() != nil || !c.current(gen) {
			return
		}
		c.log.Warn("Channel disconnected", "error", err)
		c.dispatcher.dispatchValue(EventDisconnect, DisconnectPayload{Reason: err.Error()})
		if !c.backoff(ctx, gen) {
			return
		}
	}
}

func (c *WSChannel) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// backoff waits for the next attempt. It returns false when the channel
// should stop retrying.
func (c *WSChannel) backoff(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	if !c.recon.shouldReconnect() {
		var cancel context.CancelFunc
		if c.generation == gen {
			c.state = ChannelDisconnected
			cancel, c.cancelFn = c.cancelFn, nil
		}
		c.mu.Unlock()
		c.log.Error("Giving up reconnecting", "attempts", c.config.MaxReconnectAttempts)
		if cancel != nil {
			cancel()
		}
		return false
	}
	delay := c.recon.nextDelay()
	attempt := c.recon.attempt
	c.mu.Unlock()

	if !c.setState(gen, ChannelReconnecting) {
		return false
	}
	c.dispatcher.dispatchValue(EventReconnecting, ReconnectingPayload{Attempt: attempt, Delay: delay})

	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(delay):
		return c.setState(gen, ChannelConnecting)
	}
}

// serve reads frames until the connection breaks and dispatches each one.
func (c *WSChannel) serve(ctx context.Context, conn *websocket.Conn) error {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeatLoop(hbCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Warn("Dropping malformed frame", "size", len(data))
			continue
		}
		c.dispatcher.dispatch(env.Type, env.Payload)
	}
}

func (c *WSChannel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := c.clock.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("Heartbeat failed", "error", err)
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}
