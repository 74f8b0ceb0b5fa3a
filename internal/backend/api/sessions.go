package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
)

// CreateSessionRequest is the body of POST /chat/sessions.
type CreateSessionRequest struct {
	ChatType string `json:"chat_type"`
}

// ListSessions lists the caller's sessions of a chat type.
// GET /chat/sessions?chat_type=&status=ACTIVE
func (h *Handler) ListSessions(c echo.Context) error {
	chatType := c.QueryParam("chat_type")
	if ok, err := h.authorize(c, chatType, "list"); !ok {
		return err
	}
	status := domain.SessionStatus(c.QueryParam("status"))
	if status == "" {
		status = domain.SessionStatusActive
	}
	if !status.Valid() {
		return detail(c, http.StatusBadRequest, "invalid status "+string(status))
	}
	return h.list(c, domain.ChatType(chatType), status)
}

// ListArchivedSessions lists the caller's archived sessions of a chat type.
// GET /chat/sessions/archived?chat_type=
func (h *Handler) ListArchivedSessions(c echo.Context) error {
	chatType := c.QueryParam("chat_type")
	if ok, err := h.authorize(c, chatType, "list"); !ok {
		return err
	}
	return h.list(c, domain.ChatType(chatType), domain.SessionStatusArchived)
}

func (h *Handler) list(c echo.Context, chatType domain.ChatType, status domain.SessionStatus) error {
	sessions, err := h.repo.ListSessions(c.Request().Context(), owner(c), chatType, status)
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// CreateSession creates an empty active session.
// POST /chat/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if ok, err := h.authorize(c, req.ChatType, "create"); !ok {
		return err
	}
	session, err := h.createSession(c, domain.ChatType(req.ChatType))
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *Handler) createSession(c echo.Context, chatType domain.ChatType) (*domain.ChatSession, error) {
	now := time.Now().UTC()
	session := &domain.ChatSession{
		ID:        h.newID(),
		ChatType:  chatType,
		Status:    domain.SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateSession(c.Request().Context(), owner(c), session); err != nil {
		return nil, err
	}
	h.logger.Info().Str("session_id", session.ID).Str("chat_type", string(chatType)).Msg("session created")
	return session, nil
}

// GetSessionMessages returns the log of a session.
// GET /chat/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	messages, err := h.repo.Messages(c.Request().Context(), owner(c), c.Param("session_id"))
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// ArchiveSession archives a session.
// PATCH /chat/sessions/:session_id/archive
func (h *Handler) ArchiveSession(c echo.Context) error {
	return h.setStatus(c, domain.SessionStatusArchived)
}

// UnarchiveSession restores an archived session.
// PATCH /chat/sessions/:session_id/unarchive
func (h *Handler) UnarchiveSession(c echo.Context) error {
	return h.setStatus(c, domain.SessionStatusActive)
}

func (h *Handler) setStatus(c echo.Context, status domain.SessionStatus) error {
	id := c.Param("session_id")
	session, err := h.repo.SetSessionStatus(c.Request().Context(), owner(c), id, status)
	if err != nil {
		return h.storeError(c, err)
	}
	if status == domain.SessionStatusArchived && h.hub.HasActiveConnections(id) {
		if err := h.hub.Broadcast(id, protocol.Info(id, "session archived")); err != nil {
			h.logger.Warn().Err(err).Str("session_id", id).Msg("archive notice failed")
		}
	}
	return c.JSON(http.StatusOK, session)
}
