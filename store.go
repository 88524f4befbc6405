package chatsync

import (
	"slices"

	"github.com/samber/lo"
)

// ConversationStore owns every Conversation and Message of a session. It is
// not safe for concurrent use; SyncSession serializes all access.
type ConversationStore struct {
	// order holds conversation ids, most recent activity first.
	order    []string
	convs    map[string]*Conversation
	messages map[string][]Message
	loaded   map[string]bool
}

func NewConversationStore() *ConversationStore {
	s := &ConversationStore{}
	s.Reset()
	return s
}

// Reset drops all state.
func (s *ConversationStore) Reset() {
	s.order = nil
	s.convs = make(map[string]*Conversation)
	s.messages = make(map[string][]Message)
	s.loaded = make(map[string]bool)
}

// ============================================================================
// Conversations
// ============================================================================

// Upsert inserts a conversation at the end of the list or replaces the
// metadata of an existing one in place. Messages are kept. A nil
// LastMessage does not clear an existing preview.
func (s *ConversationStore) Upsert(c Conversation) {
	if c.ID == "" {
		return
	}
	c = c.clone()
	c.UnreadCount = max(c.UnreadCount, 0)
	if cur, ok := s.convs[c.ID]; ok {
		if c.LastMessage == nil {
			c.LastMessage = cur.LastMessage
		}
		*cur = c
		return
	}
	s.convs[c.ID] = &c
	s.order = append(s.order, c.ID)
}

func (s *ConversationStore) Get(id string) (Conversation, bool) {
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

func (s *ConversationStore) Has(id string) bool {
	_, ok := s.convs[id]
	return ok
}

// List returns every conversation, most recently active first.
func (s *ConversationStore) List() []Conversation {
	return lo.Map(s.order, func(id string, _ int) Conversation { return s.convs[id].clone() })
}

func (s *ConversationStore) ListByKind(kind ConversationKind) []Conversation {
	return lo.Filter(s.List(), func(c Conversation, _ int) bool { return c.Kind == kind })
}

// FindDirect returns the direct conversation with a peer, if any.
func (s *ConversationStore) FindDirect(selfID, peerID string) (Conversation, bool) {
	for _, id := range s.order {
		c := s.convs[id]
		if p, ok := c.peer(selfID); ok && p == peerID {
			return c.clone(), true
		}
	}
	return Conversation{}, false
}

// SetUnread sets the unread counter, clamped at zero. It reports whether the
// value changed.
func (s *ConversationStore) SetUnread(id string, n int) bool {
	c, ok := s.convs[id]
	if !ok {
		return false
	}
	n = max(n, 0)
	if c.UnreadCount == n {
		return false
	}
	c.UnreadCount = n
	return true
}

func (s *ConversationStore) IncrementUnread(id string) bool {
	c, ok := s.convs[id]
	if !ok {
		return false
	}
	c.UnreadCount++
	return true
}

// SetLastMessage updates the preview and moves the conversation to the front.
func (s *ConversationStore) SetLastMessage(id string, preview MessagePreview) bool {
	c, ok := s.convs[id]
	if !ok {
		return false
	}
	c.LastMessage = &preview
	s.touch(id)
	return true
}

func (s *ConversationStore) touch(id string) {
	i := slices.Index(s.order, id)
	if i <= 0 {
		return
	}
	copy(s.order[1:i+1], s.order[:i])
	s.order[0] = id
}

// SetOnline updates the online flag of a direct conversation.
func (s *ConversationStore) SetOnline(id string, online bool) bool {
	c, ok := s.convs[id]
	if !ok || c.Kind != KindDirect || c.Online == online {
		return false
	}
	c.Online = online
	return true
}

// ============================================================================
// Messages
// ============================================================================

// Messages returns a copy of a conversation's visible messages.
func (s *ConversationStore) Messages(conversationID string) []Message {
	return lo.Map(s.messages[conversationID], func(m Message, _ int) Message { return m.clone() })
}

func (s *ConversationStore) MarkLoaded(conversationID string) {
	s.loaded[conversationID] = true
}

// IsLoaded reports whether history was fetched for a conversation during
// this session.
func (s *ConversationStore) IsLoaded(conversationID string) bool {
	return s.loaded[conversationID]
}

func (s *ConversationStore) appendMessage(m Message) {
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m.clone())
}

func (s *ConversationStore) indexByID(conversationID, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.messages[conversationID], func(m Message) bool { return m.ID == id })
}

func (s *ConversationStore) indexByClientID(conversationID, clientID string) int {
	if clientID == "" {
		return -1
	}
	return slices.IndexFunc(s.messages[conversationID], func(m Message) bool { return m.ClientID == clientID })
}

func (s *ConversationStore) message(conversationID string, i int) *Message {
	return &s.messages[conversationID][i]
}

func (s *ConversationStore) replaceMessage(conversationID string, i int, m Message) {
	s.messages[conversationID][i] = m.clone()
}

func (s *ConversationStore) removeMessage(conversationID string, i int) Message {
	list := s.messages[conversationID]
	m := list[i]
	s.messages[conversationID] = slices.Delete(list, i, i+1)
	return m
}

// mergeHistory places a fetched page before the messages that arrived while
// it was loading. Entries already present by server id or client id are not
// duplicated.
func (s *ConversationStore) mergeHistory(conversationID string, history []Message) {
	ids := make(map[string]struct{}, len(history))
	clientIDs := make(map[string]struct{})
	merged := make([]Message, 0, len(history)+len(s.messages[conversationID]))
	for _, m := range history {
		if _, dup := ids[m.ID]; dup && m.ID != "" {
			continue
		}
		ids[m.ID] = struct{}{}
		if m.ClientID != "" {
			clientIDs[m.ClientID] = struct{}{}
		}
		merged = append(merged, m.clone())
	}
	for _, m := range s.messages[conversationID] {
		if _, dup := ids[m.ID]; dup && m.ID != "" {
			continue
		}
		if _, dup := clientIDs[m.ClientID]; dup && m.ClientID != "" {
			continue
		}
		merged = append(merged, m)
	}
	s.messages[conversationID] = merged
}
