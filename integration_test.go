//go:build integration

package chatsync_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/LuminPulse-AI/chatsync"
)

// helpers ---------------------------------------------------------------

func credential(t *testing.T) string {
	t.Helper()
	tok := os.Getenv("CHATSYNC_CREDENTIAL_TEST")
	if tok == "" {
		t.Fatal("CHATSYNC_CREDENTIAL_TEST environment variable is required")
	}
	return tok
}

func testBaseURL(t *testing.T) string {
	t.Helper()
	v := os.Getenv("CHATSYNC_BASE_URL_TEST")
	if v == "" {
		t.Fatal("CHATSYNC_BASE_URL_TEST environment variable is required")
	}
	return v
}

func newLiveSession(t *testing.T) *chatsync.Session {
	t.Helper()
	cfg := chatsync.DefaultConfig(testBaseURL(t))
	cfg.LogLevel = "DEBUG"
	s, err := chatsync.New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitState(t *testing.T, s *chatsync.Session, want chatsync.SessionState) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("session state %s, want %s", s.State(), want)
}

// =======================================================================
// Session against a live server
// =======================================================================

func TestIntegration_StartAndList(t *testing.T) {
	s := newLiveSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Start(ctx, credential(t)); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitState(t, s, chatsync.SessionReady)

	convs := s.Conversations()
	t.Logf("Loaded %d conversations for %s", len(convs), s.SelfID())
	for _, c := range convs {
		if c.ID == "" {
			t.Error("conversation with empty id")
		}
	}
}

func TestIntegration_SendIsConfirmedOnce(t *testing.T) {
	s := newLiveSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Start(ctx, credential(t)); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitState(t, s, chatsync.SessionReady)

	convs := s.ConversationsByKind(chatsync.KindProjectGroup)
	if len(convs) == 0 {
		t.Skip("no project group to send to")
	}
	if err := s.SelectConversation(ctx, convs[0].ID); err != nil {
		t.Fatalf("SelectConversation returned error: %v", err)
	}

	body := fmt.Sprintf("integration_%d", time.Now().UnixNano())
	msg, err := s.SendMessage(ctx, body, nil)
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if msg.IsPending || msg.ID == "" {
		t.Fatalf("expected a confirmed message, got %+v", msg)
	}

	// Give the channel echo time to arrive, then count copies.
	time.Sleep(2 * time.Second)
	n := 0
	for _, m := range s.ActiveMessages() {
		if m.Body == body {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("found %d copies of the sent message, want 1", n)
	}
}
