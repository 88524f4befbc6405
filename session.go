// Package chatsync keeps a client's view of conversations in sync with a
// messaging service over a websocket channel and a JSON API.
//
// A Session loads the conversation list, joins the rooms of conversations
// the user opens, shows sent messages optimistically and reconciles them
// with the server's echo, and tracks unread counts, presence and typing.
//
// Example:
//
//	cfg := chatsync.DefaultConfig("https://chat.example.com")
//	s, _ := chatsync.New(cfg)
//	unsubscribe := s.Subscribe(func(e chatsync.Event) { ... })
//	defer unsubscribe()
//	_ = s.Start(ctx, credential)
//	_ = s.SelectConversation(ctx, "conv-1")
//	msg, err := s.SendMessage(ctx, "Hello", nil)
package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionConnecting SessionState = "connecting"
	SessionReady      SessionState = "ready"
	// SessionDegraded means the channel is down and retrying. Local actions
	// are still accepted.
	SessionDegraded SessionState = "degraded"
	SessionClosed   SessionState = "closed"
)

// ============================================================================
// Options
// ============================================================================

type sessionOptions struct {
	clock     clockwork.Clock
	logger    *slog.Logger
	queueSize int
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithClock replaces the clock behind every timer.
func WithClock(clock clockwork.Clock) Option {
	return func(o *sessionOptions) { o.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *sessionOptions) { o.logger = logger }
}

// WithEventBuffer sets how many observer events may be queued before new
// ones are dropped.
func WithEventBuffer(n int) Option {
	return func(o *sessionOptions) { o.queueSize = n }
}

func buildOptions(cfg Config, opts []Option) sessionOptions {
	o := sessionOptions{queueSize: 1024}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = cfg.logger()
	}
	return o
}

// ============================================================================
// Session
// ============================================================================

// Session is the sync core for one signed-in user. All store mutations go
// through one mutex; API calls are made without holding it.
type Session struct {
	cfg     Config
	api     API
	channel Channel
	clock   clockwork.Clock
	log     *slog.Logger

	store      *ConversationStore
	reconciler *MessageReconciler
	presence   *PresenceTracker
	typing     *TypingCoordinator
	fanout     *eventFanout
	loads      singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         SessionState
	selfID        string
	connected     bool
	everConnected bool
	listLoaded    bool
	closed        bool
	activeID      string
	// joined maps joined rooms to the time the join was last issued.
	joined map[string]time.Time
	subs   []*Subscription
}

// New builds a Session with the HTTP API client and websocket channel
// described by cfg.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wsURL, err := cfg.channelURL()
	if err != nil {
		return nil, err
	}
	o := buildOptions(cfg, opts)
	api := NewHTTPAPI("", WithBaseURL(cfg.BaseURL), WithTimeout(cfg.RequestTimeout))
	channel := NewWSChannel(ChannelConfig{
		URL:                  wsURL,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		JoinGrace:            cfg.JoinGrace,
		QueueSize:            cfg.OutboundQueueSize,
		Clock:                o.clock,
		Logger:               o.logger,
	})
	return NewSession(cfg, api, channel, opts...)
}

// NewSession builds a Session over the given collaborators.
func NewSession(cfg Config, api API, channel Channel, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(cfg, opts)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		api:      api,
		channel:  channel,
		clock:    o.clock,
		log:      o.logger.With("component", "session"),
		store:    NewConversationStore(),
		presence: NewPresenceTracker(),
		fanout:   newEventFanout(o.logger, o.queueSize),
		ctx:      ctx,
		cancel:   cancel,
		state:    SessionIdle,
		selfID:   cfg.SelfID,
		joined:   make(map[string]time.Time),
	}
	s.reconciler = NewMessageReconciler(s.store, s.clock, ReconcilerConfig{
		SelfID:          cfg.SelfID,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		MatchWindow:     cfg.MatchWindow,
		DuplicateWindow: cfg.DuplicateWindow,
	}, s.expirePending, o.logger)
	s.typing = NewTypingCoordinator(s.clock, cfg.TypingTimeout, s.emitTyping, func(conversationID string) {
		s.fanout.publish(Event{Type: EventTypingChanged, ConversationID: conversationID})
	}, o.logger)
	return s, nil
}

// Start connects the channel and loads the conversation list. The channel
// keeps retrying in the background whatever the outcome; a LoadError is
// returned when the list could not be fetched, and Refresh retries it.
func (s *Session) Start(ctx context.Context, credential string) error {
	selfID := s.cfg.SelfID
	if selfID == "" {
		id, err := SubjectFromCredential(credential)
		if err != nil {
			return err
		}
		selfID = id
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state != SessionIdle:
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.selfID = selfID
	s.reconciler.config.SelfID = selfID
	s.setStateLocked(SessionConnecting)
	s.subscribeLocked()
	s.mu.Unlock()

	if cs, ok := s.api.(interface{ SetCredential(string) }); ok {
		cs.SetCredential(credential)
	}
	s.log.Info("Session starting", "user", selfID)
	s.channel.Connect(s.ctx, credential)
	return s.Refresh(ctx)
}

// Close tears the session down: it releases the channel, stops all timers,
// waits for background work and clears in-memory state. It must not be
// called from an observer callback.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.setStateLocked(SessionClosed)
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.channel.Off(sub)
	}
	s.channel.Disconnect()
	s.cancel()
	s.typing.Reset()
	s.wg.Wait()

	s.mu.Lock()
	s.reconciler.Stop()
	s.store.Reset()
	s.presence.Reset()
	s.activeID = ""
	s.joined = make(map[string]time.Time)
	s.mu.Unlock()

	s.fanout.close()
	s.log.Info("Session closed")
	return nil
}

// Subscribe registers an observer. Events are delivered in order on a single
// goroutine; the returned function removes the observer.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.fanout.subscribe(fn)
}

// ============================================================================
// State
// ============================================================================

func (s *Session) setStateLocked(state SessionState) {
	if s.state == state {
		return
	}
	s.log.Info("Session state changed", "from", s.state, "to", state)
	s.state = state
	s.fanout.publish(Event{Type: EventStateChanged, State: state})
}

func (s *Session) updateStateLocked() {
	if s.closed {
		return
	}
	switch {
	case !s.listLoaded || !s.everConnected:
		s.setStateLocked(SessionConnecting)
	case s.connected:
		s.setStateLocked(SessionReady)
	default:
		s.setStateLocked(SessionDegraded)
	}
}

// goLocked runs fn in the background; Close waits for it. The caller holds
// s.mu so no work starts after Close began waiting.
func (s *Session) goLocked(fn func(ctx context.Context)) {
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Session) publishLocked(t EventType, conversationID string) {
	s.fanout.publish(Event{Type: t, ConversationID: conversationID})
}

func (s *Session) publishError(err error) {
	s.fanout.publish(Event{Type: EventError, Err: err})
}

// ============================================================================
// Channel Events
// ============================================================================

func (s *Session) subscribeLocked() {
	s.subs = append(s.subs,
		s.channel.On(EventConnect, func(json.RawMessage) { s.onConnect() }),
		s.channel.On(EventDisconnect, decodeInto(s, EventDisconnect, s.onDisconnect)),
		s.channel.On(EventConnectError, decodeInto(s, EventConnectError, s.onConnectError)),
		s.channel.On(EventNewMessage, decodeInto(s, EventNewMessage, s.onNewMessage)),
		s.channel.On(EventMessageUpdate, decodeInto(s, EventMessageUpdate, s.onMessageUpdate)),
		s.channel.On(EventUserTyping, decodeInto(s, EventUserTyping, s.onUserTyping)),
		s.channel.On(EventUserOnline, decodeInto(s, EventUserOnline, func(u userRef) { s.onPresence(u.UserInfo, true) })),
		s.channel.On(EventUserOffline, decodeInto(s, EventUserOffline, func(u userRef) { s.onPresence(u.UserInfo, false) })),
		s.channel.On(EventMessagesRead, decodeInto(s, EventMessagesRead, s.onMessagesRead)),
		s.channel.On(EventConversationUpdate, decodeInto(s, EventConversationUpdate, s.onConversationUpdate)),
	)
}

func decodeInto[T any](s *Session, event string, fn func(T)) EventHandler {
	return func(raw json.RawMessage) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				s.log.Warn("Malformed event payload", "event", event, "error", err)
				return
			}
		}
		fn(v)
	}
}

// onConnect restarts the join grace for every room and reconciles state
// missed while the channel was down.
func (s *Session) onConnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	reconnect := s.everConnected
	s.connected = true
	s.everConnected = true
	// The channel has re-joined every room by the time it reports connect.
	now := s.clock.Now()
	for id := range s.joined {
		s.joined[id] = now
	}
	rooms := len(s.joined)
	if reconnect && s.listLoaded {
		s.goLocked(func(ctx context.Context) {
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("Resync after reconnect failed", "error", err)
			}
		})
	}
	s.updateStateLocked()
	s.mu.Unlock()
	s.log.Info("Channel connected", "rooms", rooms, "reconnect", reconnect)
}

func (s *Session) onDisconnect(p DisconnectPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.updateStateLocked()
	s.log.Warn("Channel disconnected", "reason", p.Reason)
}

func (s *Session) onConnectError(p ConnectErrorPayload) {
	s.log.Warn("Channel connect error", "error", p.Error)
}

func (s *Session) onNewMessage(p MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || p.ConversationID == "" {
		return
	}
	m := p.toMessage(s.selfID)
	active := m.ConversationID == s.activeID
	msg, res := s.reconciler.Inbound(m, active)
	s.log.Debug("Inbound message", "conversation", m.ConversationID, "id", m.ID, "result", res)
	if res == InboundDuplicate {
		return
	}
	s.publishLocked(EventMessagesChanged, m.ConversationID)
	s.publishLocked(EventConversationsChanged, m.ConversationID)

	if !s.store.Has(m.ConversationID) {
		s.goLocked(func(ctx context.Context) {
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("Refresh for unknown conversation failed", "conversation", m.ConversationID, "error", err)
			}
		})
		return
	}
	if res == InboundAppended && active && !msg.IsOwn {
		s.markReadLocked(m.ConversationID, []string{msg.ID})
	}
}

func (s *Session) onMessageUpdate(p MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.reconciler.Update(p.toMessage(s.selfID)) {
		s.publishLocked(EventMessagesChanged, p.ConversationID)
	}
}

func (s *Session) onUserTyping(p UserTypingPayload) {
	if p.UserID == s.SelfID() {
		return
	}
	s.typing.Observe(p)
}

func (s *Session) onPresence(user UserInfo, online bool) {
	if !s.presence.Set(user, online) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fanout.publish(Event{Type: EventPresenceChanged})
	if s.refreshOnlineLocked(user.ID) {
		s.publishLocked(EventConversationsChanged, "")
	}
}

func (s *Session) refreshOnlineLocked(userID string) bool {
	changed := false
	for _, c := range s.store.ListByKind(KindDirect) {
		if peer, ok := c.peer(s.selfID); ok && peer == userID {
			changed = s.store.SetOnline(c.ID, s.presence.IsOnline(userID)) || changed
		}
	}
	return changed
}

func (s *Session) onMessagesRead(p MessagesReadPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.reconciler.ApplyReadReceipt(p) {
		s.publishLocked(EventMessagesChanged, p.ConversationID)
	}
}

func (s *Session) onConversationUpdate(p ConversationPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || p.ID == "" {
		return
	}
	s.upsertLocked(p.toConversation())
	s.publishLocked(EventConversationsChanged, p.ID)
}

// upsertLocked stores conversation metadata, keeping unread at zero for the
// active conversation and deriving the online flag from presence.
func (s *Session) upsertLocked(c Conversation) {
	if c.ID == s.activeID {
		c.UnreadCount = 0
	}
	if peer, ok := c.peer(s.selfID); ok {
		c.Online = s.presence.IsOnline(peer)
	}
	s.store.Upsert(c)
}

// ============================================================================
// Loading
// ============================================================================

// Refresh re-fetches the conversation list. Unread counts of inactive
// conversations are taken from the server; conversations whose history was
// already loaded and that have unread messages get their latest page merged.
func (s *Session) Refresh(ctx context.Context) error {
	payloads, err := s.api.ListConversations(ctx)
	if err != nil {
		lerr := &LoadError{Op: "load conversations", Err: err}
		s.publishError(lerr)
		return lerr
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	var catchUp []string
	for _, p := range payloads {
		c := p.toConversation()
		if s.store.IsLoaded(c.ID) && c.UnreadCount > 0 {
			catchUp = append(catchUp, c.ID)
		}
		s.upsertLocked(c)
	}
	s.listLoaded = true
	s.publishLocked(EventConversationsChanged, "")
	s.updateStateLocked()
	s.mu.Unlock()

	s.log.Debug("Conversations loaded", "count", len(payloads), "catchUp", len(catchUp))
	for _, id := range catchUp {
		if err := s.catchUp(ctx, id); err != nil {
			s.log.Warn("Catch-up failed", "conversation", id, "error", err)
		}
	}
	return nil
}

// catchUp merges the latest page of a loaded conversation.
func (s *Session) catchUp(ctx context.Context, conversationID string) error {
	payloads, err := s.api.ListMessages(ctx, conversationID, 1, s.cfg.HistoryPageSize)
	if err != nil {
		lerr := &LoadError{Op: "load messages", ConversationID: conversationID, Err: err}
		s.publishError(lerr)
		return lerr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	var added []string
	for _, m := range s.toMessagesLocked(payloads) {
		msg, res := s.reconciler.Inbound(m, true)
		if res == InboundAppended && !msg.IsOwn {
			added = append(added, msg.ID)
		}
	}
	if len(added) == 0 {
		return nil
	}
	s.publishLocked(EventMessagesChanged, conversationID)
	s.publishLocked(EventConversationsChanged, conversationID)
	if conversationID == s.activeID {
		s.markReadLocked(conversationID, added)
	}
	return nil
}

// toMessagesLocked converts a page to messages in chronological order.
func (s *Session) toMessagesLocked(payloads []MessagePayload) []Message {
	msgs := lo.Map(payloads, func(p MessagePayload, _ int) Message { return p.toMessage(s.selfID) })
	slices.SortStableFunc(msgs, func(a, b Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return msgs
}

// loadHistory fetches a conversation's first page once per session.
// Concurrent selections share one request.
func (s *Session) loadHistory(ctx context.Context, conversationID string) error {
	_, err, _ := s.loads.Do(conversationID, func() (any, error) {
		payloads, err := s.api.ListMessages(ctx, conversationID, 1, s.cfg.HistoryPageSize)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.store.IsLoaded(conversationID) {
			return nil, nil
		}
		s.reconciler.LoadHistory(conversationID, s.toMessagesLocked(payloads))
		s.publishLocked(EventMessagesChanged, conversationID)
		s.publishLocked(EventConversationsChanged, conversationID)
		return nil, nil
	})
	if err != nil {
		lerr := &LoadError{Op: "load messages", ConversationID: conversationID, Err: err}
		s.publishError(lerr)
		return lerr
	}
	return nil
}

// ============================================================================
// User Actions
// ============================================================================

// SelectConversation makes a conversation active: its unread count drops to
// zero, its room is joined and its history is loaded if this session has not
// loaded it yet.
func (s *Session) SelectConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	c, ok := s.store.Get(conversationID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	s.activeID = conversationID
	_, joined := s.joined[conversationID]
	if !joined {
		s.joined[conversationID] = s.clock.Now()
	}
	if c.UnreadCount > 0 {
		s.store.SetUnread(conversationID, 0)
		s.markReadLocked(conversationID, s.unreadIDsLocked(conversationID))
	}
	loaded := s.store.IsLoaded(conversationID)
	s.publishLocked(EventConversationsChanged, conversationID)
	s.publishLocked(EventMessagesChanged, conversationID)
	s.mu.Unlock()

	if !joined {
		if err := s.channel.JoinRoom(ctx, conversationID); err != nil {
			s.log.Debug("Room join deferred until connect", "conversation", conversationID, "error", err)
		}
	}
	if loaded {
		return nil
	}
	return s.loadHistory(ctx, conversationID)
}

func (s *Session) unreadIDsLocked(conversationID string) []string {
	return lo.FilterMap(s.store.messages[conversationID], func(m Message, _ int) (string, bool) {
		return m.ID, !m.IsOwn && !m.IsPending && m.ID != ""
	})
}

// LeaveConversation clears the active conversation and leaves its room.
func (s *Session) LeaveConversation(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	id := s.activeID
	if id == "" {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	s.activeID = ""
	delete(s.joined, id)
	s.publishLocked(EventConversationsChanged, id)
	s.mu.Unlock()

	if s.typing.IsTyping(id) {
		_ = s.typing.SetTyping(id, false)
	}
	if err := s.channel.LeaveRoom(ctx, id); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// SendMessage shows the message immediately, emits it on the channel and
// persists it through the API. It returns the confirmed message, or a
// PersistenceError when the API rejected it, in which case the optimistic
// entry is gone. A message confirmed by neither path within the confirmation
// timeout is reported as an EventMessageFailed.
func (s *Session) SendMessage(ctx context.Context, text string, attachments []Attachment) (Message, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, ErrSessionClosed
	}
	conversationID := s.activeID
	if conversationID == "" {
		s.mu.Unlock()
		return Message{}, ErrNoActiveConversation
	}
	pending := s.reconciler.Submit(conversationID, text, attachments)
	joinedAt := s.joined[conversationID]
	s.publishLocked(EventMessagesChanged, conversationID)
	s.publishLocked(EventConversationsChanged, conversationID)
	s.mu.Unlock()

	if s.typing.IsTyping(conversationID) {
		_ = s.typing.SetTyping(conversationID, false)
	}
	s.waitJoinGrace(joinedAt)

	msgType := messageTypeText
	if len(attachments) > 0 {
		msgType = messageTypeFile
	}
	cmd := sendMessageCommand{
		ConversationID: conversationID,
		Content:        text,
		Attachments:    lo.Ternary(attachments == nil, []Attachment{}, attachments),
		Type:           msgType,
		ClientID:       pending.ClientID,
	}
	if err := s.channel.Emit(s.ctx, EventSendMessage, cmd); err != nil {
		s.log.Warn("Channel send failed, relying on API", "conversation", conversationID, "error", err)
	}

	// The send is not cancellable once submitted.
	saved, err := s.api.SendMessage(context.WithoutCancel(ctx), SendRequest{
		ConversationID: conversationID,
		Content:        text,
		Type:           msgType,
		Attachments:    attachments,
		ClientID:       pending.ClientID,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		perr := newPersistenceError("send message", err)
		if s.reconciler.Rollback(pending.ClientID) {
			s.publishLocked(EventMessagesChanged, conversationID)
			s.fanout.publish(Event{Type: EventError, ConversationID: conversationID, Err: perr})
			return Message{}, perr
		}
		if i := s.store.indexByClientID(conversationID, pending.ClientID); i >= 0 {
			s.log.Warn("API rejected a message the channel confirmed", "conversation", conversationID, "error", err)
			return s.store.message(conversationID, i).clone(), nil
		}
		return Message{}, perr
	}

	m := saved.toMessage(s.selfID)
	m.ConversationID = conversationID
	m.IsOwn = true
	if confirmed, ok := s.reconciler.Confirm(pending.ClientID, m); ok {
		s.publishLocked(EventMessagesChanged, conversationID)
		return confirmed, nil
	}
	if i := s.store.indexByClientID(conversationID, pending.ClientID); i >= 0 {
		return s.store.message(conversationID, i).clone(), nil
	}
	// Expired before the API answered; the server has it, so show it.
	m.ClientID = pending.ClientID
	confirmed, res := s.reconciler.Inbound(m, conversationID == s.activeID)
	if res != InboundDuplicate {
		s.publishLocked(EventMessagesChanged, conversationID)
	}
	return confirmed, nil
}

// waitJoinGrace delays a send until the room join has had time to settle.
func (s *Session) waitJoinGrace(joinedAt time.Time) {
	if joinedAt.IsZero() {
		return
	}
	wait := s.cfg.JoinGrace - s.clock.Since(joinedAt)
	if wait <= 0 {
		return
	}
	select {
	case <-s.clock.After(wait):
	case <-s.ctx.Done():
	}
}

// expirePending runs on the confirmation timer.
func (s *Session) expirePending(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	m, ok := s.reconciler.Expire(clientID)
	if !ok {
		return
	}
	s.log.Warn("Message not confirmed in time", "conversation", m.ConversationID, "clientId", clientID)
	s.publishLocked(EventMessagesChanged, m.ConversationID)
	s.fanout.publish(Event{
		Type:           EventMessageFailed,
		ConversationID: m.ConversationID,
		Message:        &m,
		Err:            &ConfirmationTimeoutError{ConversationID: m.ConversationID, ClientID: clientID, After: s.cfg.ConfirmTimeout},
	})
}

// markReadLocked tells the channel and the API that a conversation was read.
// Failures are reported as error events; unread stays zero.
func (s *Session) markReadLocked(conversationID string, messageIDs []string) {
	cmd := markAsReadCommand{ConversationID: conversationID, MessageIDs: lo.Ternary(messageIDs == nil, []string{}, messageIDs)}
	s.goLocked(func(ctx context.Context) {
		if err := s.channel.Emit(ctx, EventMarkAsRead, cmd); err != nil {
			s.log.Warn("Mark-read emit failed", "conversation", conversationID, "error", err)
		}
		if err := s.api.MarkAsRead(ctx, conversationID); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("Mark-read failed", "conversation", conversationID, "error", err)
			s.fanout.publish(Event{Type: EventError, ConversationID: conversationID, Err: newPersistenceError("mark as read", err)})
		}
	})
}

// SetTyping reports whether the local user is typing in the active
// conversation. Typing stops on its own after the typing timeout.
func (s *Session) SetTyping(isTyping bool) error {
	s.mu.Lock()
	closed, id := s.closed, s.activeID
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if id == "" {
		return ErrNoActiveConversation
	}
	return s.typing.SetTyping(id, isTyping)
}

// emitTyping drops the indicator while the channel is down.
func (s *Session) emitTyping(conversationID string, isTyping bool) error {
	err := s.channel.EmitVolatile(s.ctx, EventTyping, typingCommand{ConversationID: conversationID, IsTyping: isTyping})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// CreateDirectConversation returns the direct conversation with userID,
// creating it through the API when none exists yet.
func (s *Session) CreateDirectConversation(ctx context.Context, userID string) (Conversation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Conversation{}, ErrSessionClosed
	}
	selfID := s.selfID
	if c, ok := s.store.FindDirect(selfID, userID); ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	if userID == "" || userID == selfID {
		return Conversation{}, fmt.Errorf("invalid peer %q", userID)
	}
	p, err := s.api.CreateDirectConversation(ctx, userID)
	if err != nil {
		return Conversation{}, newPersistenceError("create direct conversation", err)
	}
	c := p.toConversation()
	c.Kind = KindDirect
	if len(c.Participants) == 0 {
		c.Participants = []string{selfID, userID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Conversation{}, ErrSessionClosed
	}
	s.upsertLocked(c)
	s.store.touch(c.ID)
	s.publishLocked(EventConversationsChanged, c.ID)
	out, _ := s.store.Get(c.ID)
	return out, nil
}

// UploadFile stores a file for the active conversation and returns the
// attachment to pass to SendMessage.
func (s *Session) UploadFile(ctx context.Context, name string, data []byte) (Attachment, error) {
	s.mu.Lock()
	closed, id := s.closed, s.activeID
	s.mu.Unlock()
	if closed {
		return Attachment{}, ErrSessionClosed
	}
	if id == "" {
		return Attachment{}, ErrNoActiveConversation
	}
	att, err := s.api.UploadAttachment(ctx, id, name, data)
	if err != nil {
		return Attachment{}, newPersistenceError("upload file", err)
	}
	return *att, nil
}

// ============================================================================
// Read-only views
// ============================================================================

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *Session) ActiveConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Conversations returns all conversations, most recently active first.
func (s *Session) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List()
}

func (s *Session) ConversationsByKind(kind ConversationKind) []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ListByKind(kind)
}

func (s *Session) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(id)
}

// Messages returns the visible messages of a conversation.
func (s *Session) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Messages(conversationID)
}

func (s *Session) ActiveMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return nil
	}
	return s.store.Messages(s.activeID)
}

func (s *Session) OnlineUsers() []string {
	return s.presence.Online()
}

func (s *Session) IsOnline(userID string) bool {
	return s.presence.IsOnline(userID)
}

// TypingUsers returns who else is typing in a conversation.
func (s *Session) TypingUsers(conversationID string) []TypingEntry {
	return s.typing.Typing(conversationID)
}

// JoinedRooms returns the rooms the session keeps joined, sorted.
func (s *Session) JoinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := lo.Keys(s.joined)
	slices.Sort(rooms)
	return rooms
}
