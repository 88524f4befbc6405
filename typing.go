package chatsync

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

// TypingEmitter sends a typing indicator for the local user.
type TypingEmitter func(conversationID string, isTyping bool) error

// TypingCoordinator tracks who is typing where. Local typing is stopped
// automatically after the quiescence timeout; remote entries expire the same
// way when no renewal arrives.
type TypingCoordinator struct {
	clock    clockwork.Clock
	timeout  time.Duration
	emit     TypingEmitter
	onChange func(conversationID string)
	log      *slog.Logger

	mu     sync.Mutex
	local  map[string]*typingTimer
	remote map[string]map[string]*remoteTyping
}

type typingTimer struct {
	timer clockwork.Timer
}

type remoteTyping struct {
	entry TypingEntry
	timer clockwork.Timer
}

// NewTypingCoordinator creates a coordinator. emit sends local typing
// state; onChange is called after the remote set of a conversation changes.
// Neither is called with the coordinator's lock held.
func NewTypingCoordinator(clock clockwork.Clock, timeout time.Duration, emit TypingEmitter, onChange func(string), log *slog.Logger) *TypingCoordinator {
	if log == nil {
		log = discardLogger()
	}
	if onChange == nil {
		onChange = func(string) {}
	}
	return &TypingCoordinator{
		clock:    clock,
		timeout:  timeout,
		emit:     emit,
		onChange: onChange,
		log:      log,
		local:    make(map[string]*typingTimer),
		remote:   make(map[string]map[string]*remoteTyping),
	}
}

// SetTyping emits typing-start and re-arms the auto-stop timer, or emits
// typing-stop and clears it.
func (t *TypingCoordinator) SetTyping(conversationID string, isTyping bool) error {
	t.mu.Lock()
	if prev, ok := t.local[conversationID]; ok {
		prev.timer.Stop()
		delete(t.local, conversationID)
	}
	if isTyping {
		lt := &typingTimer{}
		lt.timer = t.clock.AfterFunc(t.timeout, func() { t.autoStop(conversationID, lt) })
		t.local[conversationID] = lt
	}
	t.mu.Unlock()

	return t.emit(conversationID, isTyping)
}

// IsTyping reports whether the local user is marked typing in a conversation.
func (t *TypingCoordinator) IsTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.local[conversationID]
	return ok
}

func (t *TypingCoordinator) autoStop(conversationID string, lt *typingTimer) {
	t.mu.Lock()
	if t.local[conversationID] != lt {
		t.mu.Unlock()
		return
	}
	delete(t.local, conversationID)
	t.mu.Unlock()

	if err := t.emit(conversationID, false); err != nil {
		t.log.Debug("Auto typing-stop not sent", "conversation", conversationID, "error", err)
	}
}

// Observe applies a remote user_typing event.
func (t *TypingCoordinator) Observe(p UserTypingPayload) {
	if p.ConversationID == "" || p.UserID == "" {
		return
	}
	changed := false

	t.mu.Lock()
	users := t.remote[p.ConversationID]
	prev, had := users[p.UserID]
	if had {
		prev.timer.Stop()
	}
	if p.IsTyping {
		if users == nil {
			users = make(map[string]*remoteTyping)
			t.remote[p.ConversationID] = users
		}
		user := p.User
		if user.ID == "" {
			user.ID = p.UserID
		}
		rt := &remoteTyping{entry: TypingEntry{ConversationID: p.ConversationID, UserID: p.UserID, User: user}}
		rt.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(p.ConversationID, p.UserID, rt) })
		users[p.UserID] = rt
		changed = !had
	} else if had {
		t.removeLocked(p.ConversationID, p.UserID)
		changed = true
	}
	t.mu.Unlock()

	if changed {
		t.onChange(p.ConversationID)
	}
}

func (t *TypingCoordinator) expire(conversationID, userID string, rt *remoteTyping) {
	t.mu.Lock()
	if t.remote[conversationID][userID] != rt {
		t.mu.Unlock()
		return
	}
	t.removeLocked(conversationID, userID)
	t.mu.Unlock()

	t.log.Debug("Typing entry expired", "conversation", conversationID, "user", userID)
	t.onChange(conversationID)
}

func (t *TypingCoordinator) removeLocked(conversationID, userID string) {
	users := t.remote[conversationID]
	delete(users, userID)
	if len(users) == 0 {
		delete(t.remote, conversationID)
	}
}

// Typing returns the users typing in a conversation, ordered by user id.
func (t *TypingCoordinator) Typing(conversationID string) []TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := lo.MapToSlice(t.remote[conversationID], func(_ string, rt *remoteTyping) TypingEntry {
		return rt.entry
	})
	slices.SortFunc(entries, func(a, b TypingEntry) int { return strings.Compare(a.UserID, b.UserID) })
	return entries
}

// Reset stops every timer and forgets all entries without emitting.
func (t *TypingCoordinator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, lt := range t.local {
		lt.timer.Stop()
	}
	for _, users := range t.remote {
		for _, rt := range users {
			rt.timer.Stop()
		}
	}
	t.local = make(map[string]*typingTimer)
	t.remote = make(map[string]map[string]*remoteTyping)
}
