// Package api serves the chat session REST routes and the streaming endpoint of the reference backend.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/chatcore/internal/backend/hub"
	"github.com/xiaot623/gogo/chatcore/internal/backend/policy"
	"github.com/xiaot623/gogo/chatcore/internal/backend/repository"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

const ownerKey = "owner"

// Repository is the session storage the handlers need.
type Repository interface {
	CreateSession(ctx context.Context, owner string, session *domain.ChatSession) error
	GetSession(ctx context.Context, owner, id string) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, owner string, chatType domain.ChatType, status domain.SessionStatus) ([]domain.ChatSession, error)
	SetSessionStatus(ctx context.Context, owner, id string, status domain.SessionStatus) (*domain.ChatSession, error)
	AddMessage(ctx context.Context, msg *domain.ChatMessage) error
	Messages(ctx context.Context, owner, id string) ([]domain.ChatMessage, error)
}

// Handler handles HTTP requests.
type Handler struct {
	repo   Repository
	policy *policy.Engine
	hub    *hub.Hub
	tokens map[string]bool
	newID  func() string
	logger zerolog.Logger
}

// NewHandler creates a handler. An empty tokens list accepts any bearer token.
func NewHandler(repo Repository, engine *policy.Engine, h *hub.Hub, tokens []string, newID func() string, logger zerolog.Logger) *Handler {
	allowed := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			allowed[t] = true
		}
	}
	return &Handler{
		repo:   repo,
		policy: engine,
		hub:    h,
		tokens: allowed,
		newID:  newID,
		logger: logger,
	}
}

// RegisterRoutes registers the session routes and, when ws is not nil, the streaming endpoint.
func (h *Handler) RegisterRoutes(e *echo.Echo, ws *Server) {
	e.GET("/health", h.Health)

	auth := h.BearerAuth()
	chat := e.Group("/chat", auth)
	chat.GET("/sessions", h.ListSessions)
	chat.GET("/sessions/archived", h.ListArchivedSessions)
	chat.POST("/sessions", h.CreateSession)
	chat.GET("/sessions/:session_id/messages", h.GetSessionMessages)
	chat.PATCH("/sessions/:session_id/archive", h.ArchiveSession)
	chat.PATCH("/sessions/:session_id/unarchive", h.UnarchiveSession)

	if ws != nil {
		e.GET("/ws/chat", ws.HandleWebSocket, auth)
	}
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"connections": h.hub.ConnectionCount(),
	})
}

// BearerAuth rejects requests without an accepted bearer token. The token names the owner
// of the sessions the request may touch.
func (h *Handler) BearerAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			if len(h.tokens) > 0 && !h.tokens[key] {
				return false, nil
			}
			c.Set(ownerKey, key)
			return true, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return detail(c, http.StatusUnauthorized, "not authenticated")
		},
	})
}

// authorize evaluates the chat type policy for the caller. When it reports false the
// response has been written.
func (h *Handler) authorize(c echo.Context, chatType, action string) (bool, error) {
	if chatType == "" {
		return false, detail(c, http.StatusBadRequest, "chat_type is required")
	}
	d, err := h.policy.Evaluate(c.Request().Context(), policy.Input{Owner: owner(c), ChatType: chatType, Action: action})
	if err != nil {
		h.logger.Error().Err(err).Msg("policy evaluation failed")
		return false, detail(c, http.StatusInternalServerError, "policy evaluation failed")
	}
	if !d.Allow {
		reason := d.Reason
		if reason == "" {
			reason = "chat type not allowed"
		}
		return false, detail(c, http.StatusForbidden, reason)
	}
	return true, nil
}

// storeError maps a repository error to a response.
func (h *Handler) storeError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return detail(c, http.StatusNotFound, "session not found")
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("repository error")
	return detail(c, http.StatusInternalServerError, err.Error())
}

func owner(c echo.Context) string {
	s, _ := c.Get(ownerKey).(string)
	return s
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}
