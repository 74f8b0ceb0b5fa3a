package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
)

func dialStream(t *testing.T, b *testBackend, chatType, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(b.echo)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?chat_type=" + chatType
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { ws.Close() })
	}
	return ws, resp, err
}

// readTurn reads frames until done or error.
func readTurn(t *testing.T, ws *websocket.Conn) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		f, err := protocol.Decode(data)
		require.NoError(t, err)
		frames = append(frames, f)
		if f.Type == protocol.TypeDone || f.Type == protocol.TypeError {
			return frames
		}
	}
}

func sendRequest(t *testing.T, ws *websocket.Conn, req protocol.ClientRequest) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func chunks(frames []protocol.Frame) string {
	var sb strings.Builder
	for _, f := range frames {
		if f.Type == protocol.TypeChunk {
			sb.WriteString(f.Content)
		}
	}
	return sb.String()
}

func createSession(t *testing.T, b *testBackend, chatType string) domain.ChatSession {
	t.Helper()
	rec := b.do(t, http.MethodPost, "/chat/sessions", "alice-token", `{"chat_type":"`+chatType+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var s domain.ChatSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s
}

func TestStreamingTurnIsPersisted(t *testing.T) {
	b := newTestBackend(t, nil)
	sess := createSession(t, b, "general")
	ws, _, err := dialStream(t, b, "general", "alice-token")
	require.NoError(t, err)

	sendRequest(t, ws, protocol.NewClientRequest("Hello", domain.ChatTypeGeneral, sess.ID))
	frames := readTurn(t, ws)

	assert.Equal(t, protocol.TypeTrace, frames[0].Type)
	assert.Equal(t, protocol.TypeDone, frames[len(frames)-1].Type)
	assert.Equal(t, "[general] You said: Hello", chunks(frames))
	for _, f := range frames {
		assert.Equal(t, sess.ID, f.SessionID)
	}
	assert.Greater(t, len(frames), 3, "reply is streamed in several chunks")

	msgs, err := b.repo.Messages(context.Background(), "alice-token", sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.SenderUser, msgs[0].Sender)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "[general] You said: Hello", msgs[1].Content)
}

func TestStreamingWithoutSessionAnnouncesOne(t *testing.T) {
	b := newTestBackend(t, nil)
	ws, _, err := dialStream(t, b, "faq", "alice-token")
	require.NoError(t, err)

	sendRequest(t, ws, protocol.NewClientRequest("When is the deadline?", domain.ChatTypeFAQ, ""))
	frames := readTurn(t, ws)

	require.Equal(t, protocol.TypeInfo, frames[0].Type)
	sid := frames[0].SessionID
	require.NotEmpty(t, sid)
	assert.Equal(t, sid, frames[len(frames)-1].SessionID)

	s, err := b.repo.GetSession(context.Background(), "alice-token", sid)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatTypeFAQ, s.ChatType)
	assert.Equal(t, "When is the deadline?", s.Title)
}

func TestStreamingRejectsUnusableSessions(t *testing.T) {
	b := newTestBackend(t, nil)
	archived := createSession(t, b, "general")
	rec := b.do(t, http.MethodPatch, "/chat/sessions/"+archived.ID+"/archive", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	faq := createSession(t, b, "faq")

	ws, _, err := dialStream(t, b, "general", "alice-token")
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    protocol.ClientRequest
		detail string
	}{
		{"archived", protocol.NewClientRequest("hi", domain.ChatTypeGeneral, archived.ID), "session is archived"},
		{"unknown", protocol.NewClientRequest("hi", domain.ChatTypeGeneral, "missing"), "session not found"},
		{"other chat type", protocol.NewClientRequest("hi", domain.ChatTypeGeneral, faq.ID), "session belongs to another chat type"},
		{"empty message", protocol.NewClientRequest("  ", domain.ChatTypeGeneral, faq.ID), "message is empty"},
		{"mismatched request type", protocol.NewClientRequest("hi", domain.ChatTypeFAQ, faq.ID), "chat_type does not match the connection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendRequest(t, ws, tt.req)
			frames := readTurn(t, ws)
			require.Len(t, frames, 1)
			assert.Equal(t, protocol.TypeError, frames[0].Type)
			assert.Equal(t, tt.detail, frames[0].Detail)
		})
	}
}

func TestStreamingResponderFailure(t *testing.T) {
	b := newTestBackend(t, func(context.Context, domain.ChatType, string) (string, error) {
		return "", errors.New("model unavailable")
	})
	sess := createSession(t, b, "general")
	ws, _, err := dialStream(t, b, "general", "alice-token")
	require.NoError(t, err)

	sendRequest(t, ws, protocol.NewClientRequest("Hello", domain.ChatTypeGeneral, sess.ID))
	frames := readTurn(t, ws)

	last := frames[len(frames)-1]
	assert.Equal(t, protocol.TypeError, last.Type)
	assert.Equal(t, "model unavailable", last.Detail)
	assert.Empty(t, chunks(frames))
}

func TestStreamingHandshakeRejections(t *testing.T) {
	b := newTestBackend(t, nil)

	_, resp, err := dialStream(t, b, "general", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialStream(t, b, "astrology", "alice-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestArchiveNotifiesStreamingConnections(t *testing.T) {
	b := newTestBackend(t, nil)
	sess := createSession(t, b, "general")
	ws, _, err := dialStream(t, b, "general", "alice-token")
	require.NoError(t, err)
	sendRequest(t, ws, protocol.NewClientRequest("Hello", domain.ChatTypeGeneral, sess.ID))
	readTurn(t, ws)

	rec := b.do(t, http.MethodPatch, "/chat/sessions/"+sess.ID+"/archive", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeInfo, f.Type)
	assert.Equal(t, sess.ID, f.SessionID)
	assert.Equal(t, "session archived", f.Message)
}
