package chatsync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error envelope returned by the collaborator API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// apiResult is the generic collaborator API response.
type apiResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func (r *apiResult) decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain Types
// ============================================================================

// ConversationKind distinguishes group conversations from one-to-one ones.
type ConversationKind string

const (
	KindProjectGroup ConversationKind = "project-group"
	KindDirect       ConversationKind = "direct"
)

// DeliveryState tracks a message from local submission to being read.
type DeliveryState string

const (
	StateSending   DeliveryState = "sending"
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
	StateFailed    DeliveryState = "failed"
)

// rank orders delivery states so updates never move a message backwards.
func (s DeliveryState) rank() int {
	switch s {
	case StateSending:
		return 1
	case StateSent:
		return 2
	case StateDelivered:
		return 3
	case StateRead:
		return 4
	}
	return 0
}

// MessagePreview is the derived last-message summary of a conversation.
type MessagePreview struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Conversation is a project group or a direct conversation.
type Conversation struct {
	ID           string
	Kind         ConversationKind
	Name         string
	Participants []string
	LastMessage  *MessagePreview
	UnreadCount  int
	// Online is only meaningful for direct conversations.
	Online bool
}

func (c Conversation) clone() Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		p := *c.LastMessage
		out.LastMessage = &p
	}
	return out
}

// peer returns the other participant of a direct conversation.
func (c Conversation) peer(selfID string) (string, bool) {
	if c.Kind != KindDirect {
		return "", false
	}
	return lo.Find(c.Participants, func(id string) bool { return id != selfID })
}

// Attachment references an uploaded file.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a single chat message. While pending, ID holds a local
// temporary identifier; once confirmed it holds the server identifier.
type Message struct {
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	Body           string
	Attachments    []Attachment
	CreatedAt      time.Time
	State          DeliveryState
	ReadBy         []string
	IsOwn          bool
	IsPending      bool
	IsSystem       bool
}

func (m Message) clone() Message {
	out := m
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.ReadBy = append([]string(nil), m.ReadBy...)
	return out
}

// UserInfo is the display data attached to presence and typing events.
type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// TypingEntry marks a user currently typing in a conversation.
type TypingEntry struct {
	ConversationID string
	UserID         string
	User           UserInfo
}

// ============================================================================
// Wire Payloads
// ============================================================================

const (
	messageTypeText   = "text"
	messageTypeFile   = "file"
	messageTypeSystem = "system"
)

// MessagePayload is the wire shape of a message, used by new_message,
// message_update and the collaborator API.
type MessagePayload struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"clientId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Type           string        `json:"type,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Status         DeliveryState `json:"status,omitempty"`
	ReadBy         []string      `json:"readBy,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

func (p MessagePayload) toMessage(selfID string) Message {
	state := p.Status
	if state.rank() < StateSent.rank() {
		state = StateSent
	}
	return Message{
		ID:             p.ID,
		ClientID:       p.ClientID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Body:           p.Content,
		Attachments:    append([]Attachment(nil), p.Attachments...),
		CreatedAt:      p.CreatedAt,
		State:          state,
		ReadBy:         append([]string(nil), p.ReadBy...),
		IsOwn:          selfID != "" && p.SenderID == selfID,
		IsSystem:       p.Type == messageTypeSystem,
	}
}

// ConversationPayload is the wire shape of a conversation.
type ConversationPayload struct {
	ID           string           `json:"id"`
	Type         ConversationKind `json:"type"`
	Name         string           `json:"name,omitempty"`
	Participants []string         `json:"participants,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
	LastMessage  *struct {
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
	} `json:"lastMessage,omitempty"`
}

func (p ConversationPayload) toConversation() Conversation {
	c := Conversation{
		ID:           p.ID,
		Kind:         p.Type,
		Name:         p.Name,
		Participants: append([]string(nil), p.Participants...),
		UnreadCount:  max(p.UnreadCount, 0),
	}
	if p.LastMessage != nil {
		c.LastMessage = &MessagePreview{Text: p.LastMessage.Content, At: p.LastMessage.CreatedAt}
	}
	return c
}

// UserTypingPayload is delivered by user_typing.
type UserTypingPayload struct {
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	IsTyping       bool     `json:"isTyping"`
	User           UserInfo `json:"user"`
}

// MessagesReadPayload is delivered by messages_read.
type MessagesReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy"`
}

// userRef accepts either a bare user id or a user object.
type userRef struct {
	UserInfo
}

func (u *userRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		return json.Unmarshal(data, &u.ID)
	}
	var obj struct {
		UserInfo
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	u.UserInfo = obj.UserInfo
	if u.ID == "" {
		u.ID = obj.UserID
	}
	return nil
}

// Outbound command payloads.

type roomCommand struct {
	ConversationID string `json:"conversationId"`
}

type sendMessageCommand struct {
	ConversationID string       `json:"conversationId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	Type           string       `json:"type"`
	ClientID       string       `json:"clientId"`
}

type typingCommand struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type markAsReadCommand struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}
