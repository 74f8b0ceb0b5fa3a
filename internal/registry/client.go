// Package registry provides a REST client for the chat session registry.
package registry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/chatcore/internal/auth"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
)

// Client talks to the session registry. It reports outcomes only and never touches the store.
type Client struct {
	http   *resty.Client
	tokens auth.Source
	logger zerolog.Logger
}

// NewClient creates a registry client for baseURL.
func NewClient(baseURL string, timeout time.Duration, tokens auth.Source, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		tokens: tokens,
		logger: logger,
	}
}

// CreateSessionRequest is the body of POST /chat/sessions.
type CreateSessionRequest struct {
	ChatType domain.ChatType `json:"chat_type"`
}

// List returns the sessions of chatType with the given status.
func (c *Client) List(ctx context.Context, chatType domain.ChatType, status domain.SessionStatus) ([]domain.ChatSession, error) {
	op, path := domain.OpFetchSessions, "/chat/sessions"
	if status == domain.SessionStatusArchived {
		op, path = domain.OpFetchArchived, "/chat/sessions/archived"
	}

	var sessions []domain.ChatSession
	req, err := c.request(ctx, op)
	if err != nil {
		return nil, err
	}
	req.SetQueryParam("chat_type", chatType.String()).SetResult(&sessions)
	if status != domain.SessionStatusArchived {
		req.SetQueryParam("status", string(domain.SessionStatusActive))
	}
	if err := c.do(op, req, http.MethodGet, path); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []domain.ChatSession{}
	}
	return sessions, nil
}

// Create asks the backend to mint a new session for chatType.
func (c *Client) Create(ctx context.Context, chatType domain.ChatType) (domain.ChatSession, error) {
	var sess domain.ChatSession
	req, err := c.request(ctx, domain.OpCreateSession)
	if err != nil {
		return sess, err
	}
	req.SetBody(CreateSessionRequest{ChatType: chatType}).SetResult(&sess)
	if err := c.do(domain.OpCreateSession, req, http.MethodPost, "/chat/sessions"); err != nil {
		return domain.ChatSession{}, err
	}
	return sess, nil
}

// Archive marks session id as archived.
func (c *Client) Archive(ctx context.Context, id string) error {
	return c.patchStatus(ctx, domain.OpArchive, id, "archive")
}

// Unarchive restores session id to the active list.
func (c *Client) Unarchive(ctx context.Context, id string) error {
	return c.patchStatus(ctx, domain.OpUnarchive, id, "unarchive")
}

// Messages returns the persisted history of session id.
func (c *Client) Messages(ctx context.Context, id string) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	req, err := c.request(ctx, domain.OpFetchHistory)
	if err != nil {
		return nil, err
	}
	req.SetPathParam("id", id).SetResult(&msgs)
	if err := c.do(domain.OpFetchHistory, req, http.MethodGet, "/chat/sessions/{id}/messages"); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

func (c *Client) patchStatus(ctx context.Context, op domain.Op, id, action string) error {
	req, err := c.request(ctx, op)
	if err != nil {
		return err
	}
	req.SetPathParam("id", id)
	return c.do(op, req, http.MethodPatch, "/chat/sessions/{id}/"+action)
}

// request prepares an authenticated request, short-circuiting when no token is held.
func (c *Client) request(ctx context.Context, op domain.Op) (*resty.Request, error) {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token == "" {
		return nil, domain.NewOpError(op, domain.ErrUnauthenticated, "no bearer token")
	}
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&protocol.ErrorResponse{}), nil
}

func (c *Client) do(op domain.Op, req *resty.Request, method, path string) error {
	res, err := req.Execute(method, path)
	if err != nil {
		c.logger.Error().Err(err).Str("op", string(op)).Msg("registry request failed")
		return domain.NewOpError(op, domain.ErrRegistryRequestFailed, err.Error())
	}
	if res.IsSuccess() {
		return nil
	}

	message := res.Status()
	if e, ok := res.Error().(*protocol.ErrorResponse); ok && e.Text() != "" {
		message = e.Text()
	}
	c.logger.Warn().
		Str("op", string(op)).
		Int("status", res.StatusCode()).
		Str("error", message).
		Msg("registry returned error")

	// A rejected token is a failed request; Status carries the 401 or 403.
	opErr := domain.NewOpError(op, domain.ErrRegistryRequestFailed, message)
	opErr.Status = res.StatusCode()
	return opErr
}
