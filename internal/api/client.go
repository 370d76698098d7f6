// Package api implements the chat service calls over HTTP JSON.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/attachment"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
	"github.com/capitalize-ai/chatsync/pkg/tracing"
)

// CorrelationHeader carries the per-request correlation id.
const CorrelationHeader = "X-Correlation-ID"

// MinSearchLength is the shortest accepted message search query.
const MinSearchLength = 2

// ErrQueryTooShort is returned for message searches under MinSearchLength.
var ErrQueryTooShort = errors.New("search query too short")

// StatusError is a non-2xx service response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service returned %d", e.Code)
	}
	return fmt.Sprintf("service returned %d: %s", e.Code, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	ParticipantTTL time.Duration
	// Transport overrides the base HTTP transport. It is still wrapped
	// for tracing.
	Transport http.RoundTripper
}

// Client talks to the chat service.
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	participants *participantCache
	logger       *logger.Logger
}

// New creates a service client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid service base url %q", cfg.BaseURL)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cache, err := newParticipantCache(cfg.ParticipantTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant cache: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		participants: cache,
		logger:       log.Named("api"),
	}, nil
}

// Close releases the participant cache.
func (c *Client) Close() {
	c.participants.Close()
}

// ListConversations returns every conversation the user belongs to.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp model.ListConversationsResponse
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/api/chat/chats", nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// FetchHistory returns up to limit messages of a direct or group thread,
// oldest first.
func (c *Client) FetchHistory(ctx context.Context, key model.ConversationKey, limit int) ([]model.Message, error) {
	path := fmt.Sprintf("/api/chat/messages/%s/%s?limit=%d", key.Kind, url.PathEscape(key.ID), limit)

	var resp model.ListMessagesResponse
	if err := c.do(ctx, "fetch_history", http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return rekey(resp.Messages, key), nil
}

// FetchAssistantHistory returns the assistant thread.
func (c *Client) FetchAssistantHistory(ctx context.Context, limit int) ([]model.Message, error) {
	path := "/api/ai/history?limit=" + strconv.Itoa(limit)

	var resp model.ListMessagesResponse
	if err := c.do(ctx, "fetch_assistant_history", http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return rekey(resp.Messages, model.AssistantKey), nil
}

// SendMessage posts a direct or group message and returns the confirmed
// record.
func (c *Client) SendMessage(ctx context.Context, req model.SendMessageRequest) (model.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to marshal send request: %w", err)
	}

	var resp model.SendMessageResponse
	if err := c.do(ctx, "send_message", http.MethodPost, "/api/chat/send", bytes.NewReader(body), "application/json", &resp); err != nil {
		return model.Message{}, err
	}
	if resp.Message == nil {
		return model.Message{}, errors.New("send response has no message")
	}

	msg := *resp.Message
	msg.ConversationKind = req.ChatType
	msg.ConversationID = req.ChatID
	return msg, nil
}

// SendAssistantMessage posts a message, and optionally a file, to the
// assistant.
func (c *Client) SendAssistantMessage(ctx context.Context, req model.AssistantRequest) (model.AssistantReply, error) {
	fields := map[string]string{"message": req.Text}
	if req.Scope != "" {
		fields["scope"] = req.Scope
	}
	body, contentType, err := multipartBody(fields, req.File)
	if err != nil {
		return model.AssistantReply{}, err
	}

	var reply model.AssistantReply
	if err := c.do(ctx, "send_assistant_message", http.MethodPost, "/api/ai/chat", body, contentType, &reply); err != nil {
		return model.AssistantReply{}, err
	}
	if reply.Reply == nil {
		return model.AssistantReply{}, errors.New("assistant response has no reply")
	}

	for _, m := range []*model.Message{reply.Reply, reply.UserMessage} {
		if m != nil {
			m.ConversationKind = model.KindAssistant
			m.ConversationID = model.AssistantConversationID
		}
	}
	return reply, nil
}

// SuggestCommands returns slash-command completions for partial.
func (c *Client) SuggestCommands(ctx context.Context, partial string) ([]model.CommandSuggestion, error) {
	path := "/api/ai/commands/suggestions?partial=" + url.QueryEscape(partial)

	var resp struct {
		Suggestions []model.CommandSuggestion `json:"suggestions"`
	}
	if err := c.do(ctx, "suggest_commands", http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// UploadFile uploads a file for a conversation and returns its reference.
func (c *Client) UploadFile(ctx context.Context, req model.UploadRequest) (attachment.Ref, error) {
	fields := map[string]string{
		"chat_type": string(req.Key.Kind),
		"chat_id":   req.Key.ID,
	}
	file := req.File
	body, contentType, err := multipartBody(fields, &file)
	if err != nil {
		return attachment.Ref{}, err
	}

	var ref attachment.Ref
	if err := c.do(ctx, "upload_file", http.MethodPost, "/api/chat/upload", body, contentType, &ref); err != nil {
		return attachment.Ref{}, err
	}
	if ref.Filename == "" {
		ref.Filename = req.File.Name
	}
	if ref.URL == "" {
		return attachment.Ref{}, errors.New("upload response has no url")
	}
	return ref, nil
}

// MarkRead marks a single message read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/api/chat/messages/%s/mark-read", url.PathEscape(messageID))
	return c.do(ctx, "mark_read", http.MethodPost, path, nil, "", nil)
}

// MarkConversationRead marks every message in a conversation read.
func (c *Client) MarkConversationRead(ctx context.Context, key model.ConversationKey) error {
	path := fmt.Sprintf("/api/chat/%s/%s/mark-read", key.Kind, url.PathEscape(key.ID))
	return c.do(ctx, "mark_conversation_read", http.MethodPost, path, nil, "", nil)
}

// ListParticipants returns every user that can be messaged. Results are
// cached for the configured TTL.
func (c *Client) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	return c.participants.getOrLoad(participantListKey, func() ([]model.Participant, error) {
		var resp struct {
			Users []model.Participant `json:"users"`
		}
		if err := c.do(ctx, "list_participants", http.MethodGet, "/api/users", nil, "", &resp); err != nil {
			return nil, err
		}
		return resp.Users, nil
	})
}

// SearchParticipants finds users by name or email.
func (c *Client) SearchParticipants(ctx context.Context, query string) ([]model.Participant, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.ListParticipants(ctx)
	}
	return c.participants.getOrLoad("search:"+strings.ToLower(query), func() ([]model.Participant, error) {
		var resp struct {
			Users []model.Participant `json:"users"`
		}
		path := "/api/users/search?q=" + url.QueryEscape(query)
		if err := c.do(ctx, "search_participants", http.MethodGet, path, nil, "", &resp); err != nil {
			return nil, err
		}
		return resp.Users, nil
	})
}

// SearchMessages finds messages across the user's conversations.
func (c *Client) SearchMessages(ctx context.Context, query string) ([]model.Message, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchLength {
		return nil, ErrQueryTooShort
	}

	var resp model.ListMessagesResponse
	path := "/api/chat/search?query=" + url.QueryEscape(query)
	if err := c.do(ctx, "search_messages", http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body io.Reader, contentType string, out any) (err error) {
	ctx, span := tracing.Start(ctx, "api."+operation,
		attribute.String("http.method", method),
		attribute.String("chatsync.operation", operation),
	)
	defer span.End()

	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordAPIRequest(operation, status, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	correlationID := uuid.New().String()
	req.Header.Set(CorrelationHeader, correlationID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.Body)}
		c.logger.Debug("service call rejected",
			zap.String("operation", operation),
			zap.String("correlation_id", correlationID),
			zap.Int("status", resp.StatusCode),
			zap.String("message", serr.Message),
		)
		return serr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

// errorMessage extracts a message from an error body of the form
// {"detail": ...} or {"error": ...}, falling back to the raw text.
func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var shaped struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(data, &shaped) == nil {
		if s, ok := shaped.Detail.(string); ok && s != "" {
			return s
		}
		if shaped.Error != "" {
			return shaped.Error
		}
	}
	return strings.TrimSpace(string(data))
}

func multipartBody(fields map[string]string, file *model.File) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	if file != nil && file.Body != nil {
		part, err := w.CreateFormFile("file", file.Name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := io.Copy(part, file.Body); err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func rekey(msgs []model.Message, key model.ConversationKey) []model.Message {
	for i := range msgs {
		msgs[i].ConversationKind = key.Kind
		msgs[i].ConversationID = key.ID
	}
	return msgs
}
