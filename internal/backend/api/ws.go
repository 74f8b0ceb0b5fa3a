package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/chatcore/internal/backend/hub"
	"github.com/xiaot623/gogo/chatcore/internal/backend/repository"
	"github.com/xiaot623/gogo/chatcore/internal/config"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
)

// Responder produces the assistant reply to message.
type Responder func(ctx context.Context, chatType domain.ChatType, message string) (string, error)

// EchoResponder answers by repeating the message.
func EchoResponder(_ context.Context, chatType domain.ChatType, message string) (string, error) {
	return "[" + chatType.String() + "] You said: " + message, nil
}

// Server handles streaming connections.
type Server struct {
	cfg      *config.DevServerConfig
	handler  *Handler
	respond  Responder
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a streaming server that shares h's repository, policy and hub.
func NewServer(cfg *config.DevServerConfig, h *Handler, respond Responder, logger zerolog.Logger) *Server {
	if respond == nil {
		respond = EchoResponder
	}
	return &Server{
		cfg:     cfg,
		handler: h,
		respond: respond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades GET /ws/chat?chat_type= and serves the connection.
func (s *Server) HandleWebSocket(c echo.Context) error {
	chatType := c.QueryParam("chat_type")
	if ok, err := s.handler.authorize(c, chatType, "chat"); !ok {
		return err
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return nil
	}

	conn := s.handler.hub.NewConnection(ws, owner(c), chatType)
	s.handler.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump handles one request at a time; a turn is streamed before the next request is read.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.handler.hub.Unregister(conn)
		conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout()))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout()))
		return nil
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket error")
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout()))
		s.handleRequest(conn, data)
	}
}

// writePump drains conn.Send and keeps the connection alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval())
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout()))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRequest(conn *hub.Connection, data []byte) {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		s.send(conn, protocol.Error("", "invalid request"))
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.send(conn, protocol.Error("", "message is empty"))
		return
	}
	if req.ChatType != "" && req.ChatType != conn.ChatType {
		s.send(conn, protocol.Error("", "chat_type does not match the connection"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := s.resolveSession(ctx, conn, req.SessionID)
	if err != nil {
		sid := ""
		if req.SessionID != nil {
			sid = *req.SessionID
		}
		s.send(conn, protocol.Error(sid, err.Error()))
		return
	}
	sid := session.ID
	s.handler.hub.BindSession(conn, sid)

	if err := s.persist(ctx, sid, domain.SenderUser, message); err != nil {
		s.send(conn, protocol.Error(sid, "failed to store message"))
		return
	}

	s.send(conn, protocol.Trace(sid, "generating reply"))
	reply, err := s.respond(ctx, session.ChatType, message)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sid).Msg("responder failed")
		s.send(conn, protocol.Error(sid, err.Error()))
		return
	}
	for _, chunk := range split(reply, s.cfg.ChunkSize) {
		if !s.send(conn, protocol.Chunk(sid, chunk)) {
			return
		}
		if d := s.cfg.ChunkDelay(); d > 0 {
			time.Sleep(d)
		}
	}
	if err := s.persist(ctx, sid, domain.SenderAI, reply); err != nil {
		s.send(conn, protocol.Error(sid, "failed to store reply"))
		return
	}
	s.send(conn, protocol.Done(sid))
}

// resolveSession loads the requested session, or creates one and announces it with an info frame.
func (s *Server) resolveSession(ctx context.Context, conn *hub.Connection, sessionID *string) (*domain.ChatSession, error) {
	repo := s.handler.repo
	if sessionID == nil || *sessionID == "" {
		now := time.Now().UTC()
		session := &domain.ChatSession{
			ID:        s.handler.newID(),
			ChatType:  domain.ChatType(conn.ChatType),
			Status:    domain.SessionStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.CreateSession(ctx, conn.Owner, session); err != nil {
			return nil, errors.New("failed to create session")
		}
		s.send(conn, protocol.Info(session.ID, "session created"))
		return session, nil
	}

	session, err := repo.GetSession(ctx, conn.Owner, *sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errors.New("session not found")
	}
	if err != nil {
		return nil, errors.New("failed to load session")
	}
	if session.Status != domain.SessionStatusActive {
		return nil, errors.New("session is archived")
	}
	if string(session.ChatType) != conn.ChatType {
		return nil, errors.New("session belongs to another chat type")
	}
	return session, nil
}

func (s *Server) persist(ctx context.Context, sessionID string, sender domain.Sender, content string) error {
	err := s.handler.repo.AddMessage(ctx, &domain.ChatMessage{
		ID:        s.handler.newID(),
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to store message")
	}
	return err
}

func (s *Server) send(conn *hub.Connection, f protocol.Frame) bool {
	if err := s.handler.hub.SendFrame(conn, f); err != nil {
		s.logger.Warn().Err(err).Str("conn_id", conn.ID).Str("type", f.Type).Msg("failed to queue frame")
		return false
	}
	return true
}

// split cuts text into chunks of at most size runes. A size below one yields a single chunk.
func split(text string, size int) []string {
	r := []rune(text)
	if size < 1 || len(r) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, len(r)/size+1)
	for len(r) > 0 {
		n := min(size, len(r))
		chunks = append(chunks, string(r[:n]))
		r = r[n:]
	}
	return chunks
}
