package chatsync

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected         = errors.New("channel not connected")
	ErrQueueFull            = errors.New("outbound queue full")
	ErrSessionClosed        = errors.New("session closed")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrUnknownConversation  = errors.New("unknown conversation")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrEmptyMessage         = errors.New("message has neither text nor attachments")
)

// TransportError reports a channel failure. It is recovered by reconnecting
// and is only ever surfaced as a degraded session state.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfirmationTimeoutError reports a submitted message that was never
// confirmed. The optimistic entry has already been removed; resubmitting is
// safe.
type ConfirmationTimeoutError struct {
	ConversationID string
	ClientID       string
	After          time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("message %s in conversation %s not confirmed within %s", e.ClientID, e.ConversationID, e.After)
}

// PersistenceError reports a send, read or create call rejected by the
// collaborator API. Message carries the collaborator's text verbatim.
type PersistenceError struct {
	Op      string
	Message string
	Err     error
}

func (e *PersistenceError) Error() string { return e.Message }

func (e *PersistenceError) Unwrap() error { return e.Err }

func newPersistenceError(op string, err error) *PersistenceError {
	msg := err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return &PersistenceError{Op: op, Message: msg, Err: err}
}

// LoadError reports a failed conversation list or history fetch. Retrying is
// left to the caller.
type LoadError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *LoadError) Error() string {
	if e.ConversationID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ConversationID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
