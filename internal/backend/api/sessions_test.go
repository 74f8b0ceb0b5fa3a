package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatcore/internal/backend/hub"
	"github.com/xiaot623/gogo/chatcore/internal/backend/policy"
	"github.com/xiaot623/gogo/chatcore/internal/backend/repository"
	"github.com/xiaot623/gogo/chatcore/internal/config"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

type testBackend struct {
	echo *echo.Echo
	repo *repository.SQLiteStore
	hub  *hub.Hub
}

func newTestBackend(t *testing.T, respond Responder) *testBackend {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	h := hub.New(zerolog.Nop())
	go h.Run(ctx)

	var n atomic.Int64
	newID := func() string { return fmt.Sprintf("id-%d", n.Add(1)) }

	cfg := &config.DevServerConfig{
		APITokens:      []string{"alice-token", "bob-token"},
		ChunkSize:      4,
		PingIntervalMs: 30000,
		WriteTimeoutMs: 5000,
		ReadTimeoutMs:  5000,
		MaxMessageSize: 65536,
	}
	handler := NewHandler(repo, engine, h, cfg.APITokens, newID, zerolog.Nop())
	e := echo.New()
	handler.RegisterRoutes(e, NewServer(cfg, handler, respond, zerolog.Nop()))
	return &testBackend{echo: e, repo: repo, hub: h}
}

func (b *testBackend) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	b.echo.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestSessionRoutesRequireBearer(t *testing.T) {
	b := newTestBackend(t, nil)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"unknown", "mallory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.do(t, http.MethodGet, "/chat/sessions?chat_type=general", tt.token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "not authenticated", decodeDetail(t, rec))
		})
	}

	rec := b.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateListArchiveUnarchive(t *testing.T) {
	b := newTestBackend(t, nil)

	rec := b.do(t, http.MethodPost, "/chat/sessions", "alice-token", `{"chat_type":"general"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.ChatSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.ChatTypeGeneral, created.ChatType)
	assert.Equal(t, domain.SessionStatusActive, created.Status)

	list := func(path, token string) []domain.ChatSession {
		rec := b.do(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var out []domain.ChatSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Len(t, list("/chat/sessions?chat_type=general&status=ACTIVE", "alice-token"), 1)
	assert.Empty(t, list("/chat/sessions?chat_type=faq&status=ACTIVE", "alice-token"))
	assert.Empty(t, list("/chat/sessions?chat_type=general", "bob-token"), "sessions are scoped to the token")

	rec = b.do(t, http.MethodPatch, "/chat/sessions/"+created.ID+"/archive", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, list("/chat/sessions?chat_type=general&status=ACTIVE", "alice-token"))
	archived := list("/chat/sessions/archived?chat_type=general", "alice-token")
	require.Len(t, archived, 1)
	assert.Equal(t, domain.SessionStatusArchived, archived[0].Status)

	rec = b.do(t, http.MethodPatch, "/chat/sessions/"+created.ID+"/unarchive", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list("/chat/sessions?chat_type=general", "alice-token"), 1)
	assert.Empty(t, list("/chat/sessions/archived?chat_type=general", "alice-token"))
}

func TestChatTypePolicy(t *testing.T) {
	b := newTestBackend(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		detail string
	}{
		{"list unknown type", http.MethodGet, "/chat/sessions?chat_type=astrology", "", http.StatusForbidden, "unknown chat type"},
		{"list missing type", http.MethodGet, "/chat/sessions", "", http.StatusBadRequest, "chat_type is required"},
		{"create unknown type", http.MethodPost, "/chat/sessions", `{"chat_type":"astrology"}`, http.StatusForbidden, "unknown chat type"},
		{"invalid status", http.MethodGet, "/chat/sessions?chat_type=general&status=DELETED", "", http.StatusBadRequest, "invalid status DELETED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.do(t, tt.method, tt.path, "alice-token", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.detail, decodeDetail(t, rec))
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	b := newTestBackend(t, nil)

	for _, path := range []string{"/chat/sessions/nope/archive", "/chat/sessions/nope/unarchive"} {
		rec := b.do(t, http.MethodPatch, path, "alice-token", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "session not found", decodeDetail(t, rec))
	}
	rec := b.do(t, http.MethodGet, "/chat/sessions/nope/messages", "alice-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionMessages(t *testing.T) {
	b := newTestBackend(t, nil)
	rec := b.do(t, http.MethodPost, "/chat/sessions", "alice-token", `{"chat_type":"faq"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.ChatSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = b.do(t, http.MethodGet, "/chat/sessions/"+created.ID+"/messages", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = b.do(t, http.MethodGet, "/chat/sessions/"+created.ID+"/messages", "bob-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"Hi t", "here", "!"}, split("Hi there!", 4))
	assert.Equal(t, []string{"héll", "ø"}, split("héllø", 4))
	assert.Equal(t, []string{"short"}, split("short", 0))
}
