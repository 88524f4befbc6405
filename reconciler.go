package chatsync

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

// InboundResult says what Inbound did with a message.
type InboundResult int

const (
	// InboundAppended means the message was new and appended.
	InboundAppended InboundResult = iota
	// InboundConfirmed means the message replaced a pending entry.
	InboundConfirmed
	// InboundDuplicate means the message was already visible and ignored.
	InboundDuplicate
)

func (r InboundResult) String() string {
	switch r {
	case InboundAppended:
		return "appended"
	case InboundConfirmed:
		return "confirmed"
	case InboundDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// ReconcilerConfig holds the reconciliation windows.
type ReconcilerConfig struct {
	SelfID          string
	ConfirmTimeout  time.Duration
	MatchWindow     time.Duration
	DuplicateWindow time.Duration
}

// pendingSend is the timer state of one optimistic message.
type pendingSend struct {
	clientID       string
	conversationID string
	body           string
	submittedAt    time.Time
	seq            uint64
	timer          clockwork.Timer
}

// MessageReconciler turns optimistic sends into confirmed messages and keeps
// the visible message lists free of duplicates. Like the store it mutates,
// it is not safe for concurrent use.
type MessageReconciler struct {
	store    *ConversationStore
	clock    clockwork.Clock
	config   ReconcilerConfig
	log      *slog.Logger
	onExpire func(clientID string)

	pending map[string]*pendingSend
	seq     uint64
}

// NewMessageReconciler creates a reconciler over store. onExpire runs on a
// timer goroutine when a pending message is not confirmed in time; it must
// acquire whatever lock serializes the store and then call Expire.
func NewMessageReconciler(store *ConversationStore, clock clockwork.Clock, config ReconcilerConfig, onExpire func(clientID string), log *slog.Logger) *MessageReconciler {
	if log == nil {
		log = discardLogger()
	}
	return &MessageReconciler{
		store:    store,
		clock:    clock,
		config:   config,
		log:      log.With("component", "reconciler"),
		onExpire: onExpire,
		pending:  make(map[string]*pendingSend),
	}
}

// Submit inserts an optimistic message at the tail of the conversation and
// starts its confirmation timer. The sender's unread count is not touched.
func (r *MessageReconciler) Submit(conversationID, body string, attachments []Attachment) Message {
	clientID := uuid.NewString()
	now := r.clock.Now()
	m := Message{
		ID:             "local-" + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       r.config.SelfID,
		Body:           body,
		Attachments:    append([]Attachment(nil), attachments...),
		CreatedAt:      now,
		State:          StateSending,
		IsOwn:          true,
		IsPending:      true,
	}
	r.store.appendMessage(m)
	r.store.SetLastMessage(conversationID, preview(m))

	r.seq++
	p := &pendingSend{
		clientID:       clientID,
		conversationID: conversationID,
		body:           body,
		submittedAt:    now,
		seq:            r.seq,
	}
	p.timer = r.clock.AfterFunc(r.config.ConfirmTimeout, func() { r.onExpire(clientID) })
	r.pending[clientID] = p

	r.log.Debug("Message submitted", "conversation", conversationID, "clientId", clientID)
	return m.clone()
}

// Inbound applies a new_message event. active reports whether the message's
// conversation is the one being viewed; unread is only incremented otherwise.
func (r *MessageReconciler) Inbound(m Message, active bool) (Message, InboundResult) {
	if m.IsOwn {
		if p := r.match(m); p != nil {
			if r.store.indexByID(m.ConversationID, m.ID) >= 0 {
				// Already visible from history; only the optimistic entry goes.
				r.drop(p)
				r.log.Debug("Pending message settled by visible copy", "conversation", m.ConversationID, "clientId", p.clientID, "id", m.ID)
				return r.store.message(m.ConversationID, r.store.indexByID(m.ConversationID, m.ID)).clone(), InboundConfirmed
			}
			confirmed, _ := r.confirm(p, m)
			r.log.Debug("Pending message confirmed", "conversation", m.ConversationID, "clientId", p.clientID, "id", m.ID)
			return confirmed, InboundConfirmed
		}
	}

	if r.isDuplicate(m) {
		r.log.Debug("Duplicate message ignored", "conversation", m.ConversationID, "id", m.ID)
		return m, InboundDuplicate
	}

	m.IsPending = false
	r.store.appendMessage(m)
	r.store.SetLastMessage(m.ConversationID, preview(m))
	if !m.IsOwn && !active {
		r.store.IncrementUnread(m.ConversationID)
	}
	return m.clone(), InboundAppended
}

// Confirm applies the collaborator's response to a send. It reports false when
// the pending entry is gone, either already confirmed by the channel or
// expired.
func (r *MessageReconciler) Confirm(clientID string, m Message) (Message, bool) {
	p, ok := r.pending[clientID]
	if !ok {
		return Message{}, false
	}
	if m.ClientID == "" {
		m.ClientID = clientID
	}
	if r.store.indexByID(p.conversationID, m.ID) >= 0 {
		// The server id is already visible; only the optimistic entry goes.
		r.drop(p)
		return m, true
	}
	return r.confirm(p, m)
}

// match finds the pending entry an own message confirms. A clientId echo is
// authoritative. Without one, the oldest pending entry in the conversation
// with an identical body submitted within the match window is taken.
func (r *MessageReconciler) match(m Message) *pendingSend {
	if m.ClientID != "" {
		if p, ok := r.pending[m.ClientID]; ok && p.conversationID == m.ConversationID {
			return p
		}
		return nil
	}
	at := m.CreatedAt
	if at.IsZero() {
		at = r.clock.Now()
	}
	var best *pendingSend
	for _, p := range r.pending {
		if p.conversationID != m.ConversationID || p.body != m.Body {
			continue
		}
		if absDuration(at.Sub(p.submittedAt)) > r.config.MatchWindow {
			continue
		}
		if best == nil || p.seq < best.seq {
			best = p
		}
	}
	return best
}

// confirm replaces the pending entry in place with the server's message.
func (r *MessageReconciler) confirm(p *pendingSend, m Message) (Message, bool) {
	p.timer.Stop()
	delete(r.pending, p.clientID)

	i := r.store.indexByClientID(p.conversationID, p.clientID)
	if i < 0 {
		return Message{}, false
	}
	cur := r.store.message(p.conversationID, i)
	confirmed := m.clone()
	confirmed.ClientID = p.clientID
	confirmed.ConversationID = p.conversationID
	confirmed.IsOwn = true
	confirmed.IsPending = false
	if confirmed.State.rank() < StateSent.rank() {
		confirmed.State = StateSent
	}
	if confirmed.SenderID == "" {
		confirmed.SenderID = cur.SenderID
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = cur.CreatedAt
	}
	if len(confirmed.Attachments) == 0 {
		confirmed.Attachments = append([]Attachment(nil), cur.Attachments...)
	}
	r.store.replaceMessage(p.conversationID, i, confirmed)
	return confirmed, true
}

func (r *MessageReconciler) isDuplicate(m Message) bool {
	list := r.store.messages[m.ConversationID]
	if m.ID != "" {
		if r.store.indexByID(m.ConversationID, m.ID) >= 0 {
			return true
		}
		if m.ClientID != "" && lo.ContainsBy(list, func(v Message) bool { return !v.IsPending && v.ClientID == m.ClientID }) {
			return true
		}
		return false
	}
	return lo.ContainsBy(list, func(v Message) bool {
		return !v.IsPending &&
			v.SenderID == m.SenderID &&
			v.Body == m.Body &&
			absDuration(v.CreatedAt.Sub(m.CreatedAt)) <= r.config.DuplicateWindow
	})
}

// Expire fails a pending message and removes it from the visible list. It
// reports false when the message was confirmed or already expired, so each
// message fails at most once.
func (r *MessageReconciler) Expire(clientID string) (Message, bool) {
	p, ok := r.pending[clientID]
	if !ok {
		return Message{}, false
	}
	m, ok := r.drop(p)
	if !ok {
		return Message{}, false
	}
	m.State = StateFailed
	m.IsPending = false
	r.log.Debug("Pending message expired", "conversation", p.conversationID, "clientId", clientID)
	return m, true
}

// Rollback removes a pending message after the collaborator rejected it. It
// reports false when the message is no longer pending.
func (r *MessageReconciler) Rollback(clientID string) bool {
	p, ok := r.pending[clientID]
	if !ok {
		return false
	}
	r.drop(p)
	return true
}

func (r *MessageReconciler) drop(p *pendingSend) (Message, bool) {
	p.timer.Stop()
	delete(r.pending, p.clientID)
	i := r.store.indexByClientID(p.conversationID, p.clientID)
	if i < 0 || !r.store.message(p.conversationID, i).IsPending {
		return Message{}, false
	}
	return r.store.removeMessage(p.conversationID, i), true
}

// IsPending reports whether a submitted message still awaits confirmation.
func (r *MessageReconciler) IsPending(clientID string) bool {
	_, ok := r.pending[clientID]
	return ok
}

func (r *MessageReconciler) PendingCount() int {
	return len(r.pending)
}

// ApplyReadReceipt marks the local user's messages read by the reporting
// user. It reports whether anything changed.
func (r *MessageReconciler) ApplyReadReceipt(p MessagesReadPayload) bool {
	if p.ReadBy == "" || p.ReadBy == r.config.SelfID {
		return false
	}
	ids := lo.SliceToMap(p.MessageIDs, func(id string) (string, struct{}) { return id, struct{}{} })
	changed := false
	list := r.store.messages[p.ConversationID]
	for i := range list {
		m := &list[i]
		if _, ok := ids[m.ID]; !ok || !m.IsOwn || m.IsPending {
			continue
		}
		if m.State != StateRead {
			m.State = StateRead
			changed = true
		}
		if !lo.Contains(m.ReadBy, p.ReadBy) {
			m.ReadBy = append(m.ReadBy, p.ReadBy)
			changed = true
		}
	}
	return changed
}

// Update merges a message_update into the visible message with the same
// server id. Delivery state never moves backwards.
func (r *MessageReconciler) Update(m Message) bool {
	i := r.store.indexByID(m.ConversationID, m.ID)
	if i < 0 {
		return false
	}
	cur := r.store.message(m.ConversationID, i)
	changed := false
	if m.Body != "" && m.Body != cur.Body {
		cur.Body = m.Body
		changed = true
	}
	if len(m.Attachments) > 0 {
		cur.Attachments = append([]Attachment(nil), m.Attachments...)
		changed = true
	}
	if m.State.rank() > cur.State.rank() {
		cur.State = m.State
		changed = true
	}
	if readBy := lo.Union(cur.ReadBy, m.ReadBy); len(readBy) != len(cur.ReadBy) {
		cur.ReadBy = readBy
		changed = true
	}
	return changed
}

// LoadHistory merges a fetched page into a conversation. Pending entries the
// page already holds a persisted copy of are settled, by client id or by the
// same body and window rule Inbound applies.
func (r *MessageReconciler) LoadHistory(conversationID string, history []Message) {
	history = append([]Message(nil), history...)
	for i := range history {
		m := &history[i]
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		if !m.IsOwn && m.ClientID == "" {
			continue
		}
		p := r.match(*m)
		if p == nil {
			continue
		}
		p.timer.Stop()
		delete(r.pending, p.clientID)
		// mergeHistory drops the optimistic row by client id.
		m.ClientID = p.clientID
	}
	r.store.mergeHistory(conversationID, history)
	r.store.MarkLoaded(conversationID)
	if n := len(history); n > 0 {
		if c, ok := r.store.convs[conversationID]; ok && c.LastMessage == nil {
			p := preview(history[n-1])
			c.LastMessage = &p
		}
	}
}

// Stop cancels every confirmation timer.
func (r *MessageReconciler) Stop() {
	for _, p := range r.pending {
		p.timer.Stop()
	}
	r.pending = make(map[string]*pendingSend)
}

func preview(m Message) MessagePreview {
	return MessagePreview{Text: previewText(m), At: m.CreatedAt}
}

func previewText(m Message) string {
	if m.Body != "" || len(m.Attachments) == 0 {
		return m.Body
	}
	return m.Attachments[0].Name
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
