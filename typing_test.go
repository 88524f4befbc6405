package chatsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type typingCall struct {
	conversationID string
	isTyping       bool
}

type typingRecorder struct {
	mu      sync.Mutex
	emitted []typingCall
	changed []string
}

func (r *typingRecorder) emit(conversationID string, isTyping bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, typingCall{conversationID, isTyping})
	return nil
}

func (r *typingRecorder) onChange(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, conversationID)
}

func (r *typingRecorder) calls() []typingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]typingCall(nil), r.emitted...)
}

func (r *typingRecorder) changes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changed)
}

func newTypingFixture() (*TypingCoordinator, fakeClock, *typingRecorder) {
	clock := newFakeClock()
	rec := &typingRecorder{}
	return NewTypingCoordinator(clock, DefaultTypingTimeout, rec.emit, rec.onChange, nil), clock, rec
}

func TestTyping_LocalAutoStop(t *testing.T) {
	req := require.New(t)
	tc, clock, rec := newTypingFixture()

	req.NoError(tc.SetTyping("c1", true))
	req.Equal([]typingCall{{"c1", true}}, rec.calls())
	req.True(tc.IsTyping("c1"))

	clock.Advance(DefaultTypingTimeout)

	req.Eventually(func() bool { return len(rec.calls()) == 2 }, time.Second, 5*time.Millisecond)
	req.Equal(typingCall{"c1", false}, rec.calls()[1])
	req.False(tc.IsTyping("c1"))
}

func TestTyping_LocalRenewalRearmsTimer(t *testing.T) {
	req := require.New(t)
	tc, clock, rec := newTypingFixture()

	req.NoError(tc.SetTyping("c1", true))
	clock.Advance(2 * time.Second)
	req.NoError(tc.SetTyping("c1", true))
	clock.Advance(2 * time.Second)

	req.Never(func() bool { return len(rec.calls()) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	req.True(tc.IsTyping("c1"))

	clock.Advance(time.Second)
	req.Eventually(func() bool { return len(rec.calls()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestTyping_LocalExplicitStop(t *testing.T) {
	req := require.New(t)
	tc, clock, rec := newTypingFixture()

	req.NoError(tc.SetTyping("c1", true))
	req.NoError(tc.SetTyping("c1", false))
	clock.Advance(2 * DefaultTypingTimeout)

	req.Never(func() bool { return len(rec.calls()) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	req.Equal([]typingCall{{"c1", true}, {"c1", false}}, rec.calls())
}

func TestTyping_RemoteEntries(t *testing.T) {
	t.Run("expire without renewal", func(t *testing.T) {
		req := require.New(t)
		tc, clock, rec := newTypingFixture()

		tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true, User: UserInfo{Name: "Bob"}})
		entries := tc.Typing("c1")
		req.Len(entries, 1)
		req.Equal("bob", entries[0].User.ID)
		req.Equal("Bob", entries[0].User.Name)

		clock.Advance(DefaultTypingTimeout)

		req.Eventually(func() bool { return len(tc.Typing("c1")) == 0 }, time.Second, 5*time.Millisecond)
		req.Eventually(func() bool { return rec.changes() == 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("renewal keeps the entry", func(t *testing.T) {
		req := require.New(t)
		tc, clock, rec := newTypingFixture()

		tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true})
		clock.Advance(2 * time.Second)
		tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true})
		clock.Advance(2 * time.Second)

		req.Never(func() bool { return len(tc.Typing("c1")) == 0 }, 50*time.Millisecond, 5*time.Millisecond)
		req.Equal(1, rec.changes())
	})

	t.Run("explicit stop", func(t *testing.T) {
		req := require.New(t)
		tc, _, rec := newTypingFixture()

		tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "carol", IsTyping: true})
		tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true})
		req.Equal([]string{"bob", "carol"}, []string{tc.Typing("c1")[0].UserID, tc.Typing("c1")[1].UserID})

		tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: false})
		tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "dave", IsTyping: false})

		req.Len(tc.Typing("c1"), 1)
		req.Equal(3, rec.changes())
		req.Empty(tc.Typing("c2"))
	})
}

func TestTyping_Reset(t *testing.T) {
	req := require.New(t)
	tc, clock, rec := newTypingFixture()
	req.NoError(tc.SetTyping("c1", true))
	tc.Observe(UserTypingPayload{ConversationID: "c1", UserID: "bob", IsTyping: true})

	tc.Reset()
	clock.Advance(2 * DefaultTypingTimeout)

	req.Empty(tc.Typing("c1"))
	req.False(tc.IsTyping("c1"))
	req.Never(func() bool { return len(rec.calls()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}
