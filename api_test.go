package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

func writeResult(w http.ResponseWriter, data any) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(apiResult{OK: true, Data: raw})
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResult{OK: false, Error: &APIError{Code: code, Message: message}})
}

func newTestAPI(t *testing.T, handler http.HandlerFunc) *HTTPAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPAPI("test-token", WithBaseURL(srv.URL), WithTimeout(5*time.Second))
}

// ============================================================================
// HTTPAPI
// ============================================================================

func TestHTTPAPI_ListConversations(t *testing.T) {
	req := require.New(t)
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/im/conversations", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeResult(w, []map[string]any{
			{"id": "c1", "type": "project-group", "name": "Team", "unreadCount": 2,
				"lastMessage": map[string]any{"content": "hi", "createdAt": "2026-01-01T00:00:00Z"}},
			{"id": "c2", "type": "direct", "participants": []string{"me", "bob"}},
		})
	})

	got, err := api.ListConversations(context.Background())

	req.NoError(err)
	req.Len(got, 2)
	c := got[0].toConversation()
	req.Equal(KindProjectGroup, c.Kind)
	req.Equal(2, c.UnreadCount)
	req.Equal("hi", c.LastMessage.Text)
	req.Equal([]string{"me", "bob"}, got[1].Participants)
}

func TestHTTPAPI_ListMessages(t *testing.T) {
	req := require.New(t)
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/im/messages/c1", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("page"))
		require.Equal(t, "50", r.URL.Query().Get("pageSize"))
		writeResult(w, []map[string]any{
			{"id": "m1", "conversationId": "c1", "senderId": "bob", "content": "hello", "createdAt": "2026-01-01T00:00:00Z"},
		})
	})

	got, err := api.ListMessages(context.Background(), "c1", 2, 50)

	req.NoError(err)
	req.Len(got, 1)
	m := got[0].toMessage("me")
	req.Equal("hello", m.Body)
	req.False(m.IsOwn)
	req.Equal(StateSent, m.State)
}

func TestHTTPAPI_SendMessage(t *testing.T) {
	t.Run("carries the client id", func(t *testing.T) {
		req := require.New(t)
		api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/im/messages/c1", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "Hello", body["content"])
			require.Equal(t, "text", body["type"])
			require.Equal(t, "client-1", body["clientId"])
			writeResult(w, map[string]any{"id": "m1", "clientId": "client-1", "senderId": "me", "content": "Hello"})
		})

		got, err := api.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Content: "Hello", ClientID: "client-1"})

		req.NoError(err)
		req.Equal("m1", got.ID)
		req.Equal("client-1", got.ClientID)
		req.Equal("c1", got.ConversationID)
	})

	t.Run("rejected", func(t *testing.T) {
		api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "You are not a member of this conversation")
		})

		_, err := api.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Content: "x", ClientID: "client-1"})

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, "FORBIDDEN", apiErr.Code)
		require.Equal(t, "You are not a member of this conversation", newPersistenceError("send", err).Error())
	})

	t.Run("invalid request never hits the wire", func(t *testing.T) {
		api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("unexpected request")
		})

		_, err := api.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Content: "x"})
		require.Error(t, err)
	})
}

func TestHTTPAPI_MarkAsRead(t *testing.T) {
	called := false
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/im/conversations/c1/read", r.URL.Path)
		called = true
		writeResult(w, nil)
	})

	require.NoError(t, api.MarkAsRead(context.Background(), "c1"))
	require.True(t, called)
}

func TestHTTPAPI_CreateDirectConversation(t *testing.T) {
	req := require.New(t)
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/im/conversations/direct", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "bob", body["userId"])
		writeResult(w, map[string]any{"id": "d1", "participants": []string{"me", "bob"}})
	})

	got, err := api.CreateDirectConversation(context.Background(), "bob")

	req.NoError(err)
	req.Equal("d1", got.ID)
	req.Equal(KindDirect, got.Type)
}

func TestHTTPAPI_UploadAttachment(t *testing.T) {
	t.Run("detects content type", func(t *testing.T) {
		req := require.New(t)
		png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
		api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/im/files/upload", r.URL.Path)
			require.NoError(t, r.ParseMultipartForm(1<<20))
			require.Equal(t, "c1", r.FormValue("conversationId"))
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			require.Equal(t, "pixel.png", header.Filename)
			require.Equal(t, "image/png", header.Header.Get("Content-Type"))
			data, _ := io.ReadAll(file)
			require.Equal(t, png, data)
			writeResult(w, map[string]any{"id": "f1", "url": "https://cdn.example.com/f1"})
		})

		got, err := api.UploadAttachment(context.Background(), "c1", "pixel.png", png)

		req.NoError(err)
		req.Equal("f1", got.ID)
		req.Equal("pixel.png", got.Name)
		req.Equal("image/png", got.MimeType)
		req.Equal(int64(len(png)), got.Size)
	})

	t.Run("too large", func(t *testing.T) {
		api := NewHTTPAPI("t", WithBaseURL("http://127.0.0.1:1"))
		_, err := api.UploadAttachment(context.Background(), "c1", "big.bin", make([]byte, MaxAttachmentSize+1))
		require.ErrorContains(t, err, "50 MB")
	})
}

func TestHTTPAPI_NonJSONFailure(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := api.ListConversations(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "HTTP_502", apiErr.Code)
	require.True(t, strings.Contains(apiErr.Error(), "Bad Gateway"))
}
