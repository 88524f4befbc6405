package chatsync

//go:generate go run go.uber.org/mock/mockgen -source=api.go -destination=mocks/mock_api.go -package=mocks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// MaxAttachmentSize is the largest file UploadAttachment accepts.
const MaxAttachmentSize = 50 * 1024 * 1024

// API is the collaborator request/response service that persists
// conversations and messages.
type API interface {
	ListConversations(ctx context.Context) ([]ConversationPayload, error)
	ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]MessagePayload, error)
	SendMessage(ctx context.Context, req SendRequest) (*MessagePayload, error)
	MarkAsRead(ctx context.Context, conversationID string) error
	CreateDirectConversation(ctx context.Context, userID string) (*ConversationPayload, error)
	UploadAttachment(ctx context.Context, conversationID, name string, data []byte) (*Attachment, error)
}

// SendRequest persists one message. ClientID is echoed back by the server
// and on the channel.
type SendRequest struct {
	ConversationID string       `json:"-" validate:"required"`
	Content        string       `json:"content" validate:"max=10000"`
	Type           string       `json:"type" validate:"oneof=text file"`
	Attachments    []Attachment `json:"attachments,omitempty" validate:"dive"`
	ClientID       string       `json:"clientId" validate:"required"`
}

// ============================================================================
// HTTP Client
// ============================================================================

// HTTPAPI implements API over the collaborator's JSON endpoints.
type HTTPAPI struct {
	credential string
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

var _ API = (*HTTPAPI)(nil)

type APIOption func(*HTTPAPI)

func WithBaseURL(u string) APIOption {
	return func(a *HTTPAPI) { a.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) APIOption {
	return func(a *HTTPAPI) { a.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) APIOption {
	return func(a *HTTPAPI) { a.httpClient = client }
}

// NewHTTPAPI creates a client authenticated with credential.
func NewHTTPAPI(credential string, opts ...APIOption) *HTTPAPI {
	a := &HTTPAPI{
		credential: credential,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetCredential replaces the bearer credential used by later requests.
func (a *HTTPAPI) SetCredential(credential string) {
	a.credential = credential
}

func (a *HTTPAPI) ListConversations(ctx context.Context) ([]ConversationPayload, error) {
	var out []ConversationPayload
	if err := a.call(ctx, http.MethodGet, "/api/im/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAPI) ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]MessagePayload, error) {
	query := map[string]string{
		"page":     strconv.Itoa(page),
		"pageSize": strconv.Itoa(pageSize),
	}
	var out []MessagePayload
	if err := a.call(ctx, http.MethodGet, "/api/im/messages/"+url.PathEscape(conversationID), nil, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAPI) SendMessage(ctx context.Context, req SendRequest) (*MessagePayload, error) {
	if req.Type == "" {
		req.Type = messageTypeText
	}
	if err := a.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}
	var out MessagePayload
	if err := a.call(ctx, http.MethodPost, "/api/im/messages/"+url.PathEscape(req.ConversationID), req, nil, &out); err != nil {
		return nil, err
	}
	if out.ConversationID == "" {
		out.ConversationID = req.ConversationID
	}
	return &out, nil
}

func (a *HTTPAPI) MarkAsRead(ctx context.Context, conversationID string) error {
	return a.call(ctx, http.MethodPost, "/api/im/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil, nil)
}

func (a *HTTPAPI) CreateDirectConversation(ctx context.Context, userID string) (*ConversationPayload, error) {
	var out ConversationPayload
	body := map[string]string{"userId": userID}
	if err := a.call(ctx, http.MethodPost, "/api/im/conversations/direct", body, nil, &out); err != nil {
		return nil, err
	}
	if out.Type == "" {
		out.Type = KindDirect
	}
	return &out, nil
}

// UploadAttachment stores a file and returns a reference for a message. The
// content type is sniffed from the data.
func (a *HTTPAPI) UploadAttachment(ctx context.Context, conversationID, name string, data []byte) (*Attachment, error) {
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("file exceeds maximum size of 50 MB")
	}
	mimeType := mimetype.Detect(data).String()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if conversationID != "" {
		_ = w.WriteField("conversationId", conversationID)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/im/files/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	a.setAuth(req)

	raw, err := a.send(req)
	if err != nil {
		return nil, err
	}
	var out Attachment
	if err := decodeResult(raw, &out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name = name
	}
	if out.MimeType == "" {
		out.MimeType = mimeType
	}
	if out.Size == 0 {
		out.Size = int64(len(data))
	}
	return &out, nil
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (a *HTTPAPI) doRequest(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	u := a.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.setAuth(req)
	return a.send(req)
}

func (a *HTTPAPI) setAuth(req *http.Request) {
	if a.credential != "" {
		req.Header.Set("Authorization", "Bearer "+a.credential)
	}
}

func (a *HTTPAPI) send(req *http.Request) ([]byte, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 && !json.Valid(data) {
		return nil, &APIError{Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
	}
	return data, nil
}

func (a *HTTPAPI) call(ctx context.Context, method, path string, body any, query map[string]string, out any) error {
	data, err := a.doRequest(ctx, method, path, body, query)
	if err != nil {
		return err
	}
	return decodeResult(data, out)
}

// decodeResult unwraps the {ok,data,error} envelope into out.
func decodeResult(data []byte, out any) error {
	var res apiResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !res.OK {
		if res.Error != nil {
			return res.Error
		}
		return &APIError{Code: "UNKNOWN", Message: "request failed"}
	}
	if out == nil {
		return nil
	}
	if err := res.decode(out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}
