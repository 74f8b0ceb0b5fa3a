// Package chat drives the session store from the transport and the session registry.
package chat

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/chatcore/internal/assembler"
	"github.com/xiaot623/gogo/chatcore/internal/auth"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
	"github.com/xiaot623/gogo/chatcore/internal/store"
	"github.com/xiaot623/gogo/chatcore/internal/transport"
)

// Transport is a single streaming connection.
type Transport interface {
	Connect(ctx context.Context, url, token string) error
	Send(req protocol.ClientRequest) error
	Close() error
}

// Dialer builds an unconnected Transport that reports to handlers.
type Dialer func(handlers transport.Handlers) Transport

// WebSocketDialer returns a Dialer producing gorilla/websocket connections.
func WebSocketDialer(cfg transport.Config, logger zerolog.Logger) Dialer {
	return func(h transport.Handlers) Transport {
		return transport.New(cfg, h, logger)
	}
}

// Registry is the session REST façade.
type Registry interface {
	List(ctx context.Context, chatType domain.ChatType, status domain.SessionStatus) ([]domain.ChatSession, error)
	Create(ctx context.Context, chatType domain.ChatType) (domain.ChatSession, error)
	Archive(ctx context.Context, id string) error
	Unarchive(ctx context.Context, id string) error
	Messages(ctx context.Context, id string) ([]domain.ChatMessage, error)
}

// Config holds client settings.
type Config struct {
	WSURL         string
	TurnTimeout   time.Duration
	SweepInterval time.Duration
}

// Client owns the transport lifecycle for the store's (chat type, token) pair.
// At most one transport is live at a time.
type Client struct {
	cfg      Config
	store    *store.Store
	registry Registry
	dial     Dialer
	tokens   *auth.Holder
	asm      *assembler.Assembler
	logger   zerolog.Logger
	newID    func() string
	now      func() time.Time

	mu           sync.Mutex
	conn         Transport
	gen          uint64
	opened       bool
	lastActivity time.Time
	// wireOpen is set while a sent turn has not seen done or error on the live
	// connection. A stalled turn stays open here after the store marks it failed.
	wireOpen bool
}

// New creates a client. The registry should read its token from tokens.
func New(cfg Config, st *store.Store, registry Registry, dial Dialer, tokens *auth.Holder, logger zerolog.Logger) *Client {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 500 * time.Millisecond
	}
	return &Client{
		cfg:      cfg,
		store:    st,
		registry: registry,
		dial:     dial,
		tokens:   tokens,
		asm:      assembler.New(logger),
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Store returns the store the client writes to.
func (c *Client) Store() *store.Store {
	return c.store
}

// Open connects the transport and loads both session lists.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.RefreshSessions(ctx); err != nil {
		return err
	}
	return c.RefreshArchived(ctx)
}

// Close tears the transport down. The store stays usable.
func (c *Client) Close() {
	c.mu.Lock()
	c.opened = false
	c.mu.Unlock()
	c.teardown()
}

// SetAuthToken replaces the bearer token. An empty token tears down and clears all
// session data; a changed token reconnects.
func (c *Client) SetAuthToken(ctx context.Context, token string) error {
	if !c.tokens.Set(token) {
		return nil
	}
	c.teardown()
	if c.tokens.Token() == "" {
		c.logger.Info().Msg("credential cleared")
		c.store.Dispatch(store.Reset{})
		return nil
	}
	c.logger.Info().Msg("credential changed, reconnecting")
	return c.reopen(ctx)
}

// SetChatType switches topic: the connection is rebuilt and the lists reloaded.
func (c *Client) SetChatType(ctx context.Context, chatType domain.ChatType) error {
	if chatType == "" {
		return domain.NewOpError(domain.OpConnect, domain.ErrChatTypeMissing, "chat type is empty")
	}
	if !chatType.Valid() {
		return fmt.Errorf("invalid chat type %q", chatType)
	}
	if c.store.State().ChatType == chatType {
		return nil
	}
	c.teardown()
	c.store.Dispatch(store.SetChatType{ChatType: chatType})
	if err := c.reopen(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if !opened {
		return nil
	}
	if err := c.RefreshSessions(ctx); err != nil {
		return err
	}
	return c.RefreshArchived(ctx)
}

// StartNewChat creates a session on the backend and opens it without a history load.
func (c *Client) StartNewChat(ctx context.Context) (domain.ChatSession, error) {
	chatType := c.store.State().ChatType
	if chatType == "" {
		return domain.ChatSession{}, domain.NewOpError(domain.OpCreateSession, domain.ErrChatTypeMissing, "chat type is empty")
	}
	sess, err := c.registry.Create(ctx, chatType)
	if err != nil {
		c.store.Dispatch(store.RegistryFailure{Op: domain.OpCreateSession, Err: err})
		return domain.ChatSession{}, err
	}
	if sess.ChatType == "" {
		sess.ChatType = chatType
	}
	c.switchSession(ctx, func() store.Effect {
		return c.store.Dispatch(store.StartNewSession{Session: sess})
	})
	c.logger.Info().Str("session_id", sess.ID).Msg("started new chat")
	return sess, nil
}

// SelectSession opens session id and loads its history.
func (c *Client) SelectSession(ctx context.Context, id string) error {
	var effect store.Effect
	c.switchSession(ctx, func() store.Effect {
		effect = c.store.Dispatch(store.SetSession{ID: id})
		return effect
	})
	if effect == store.EffectFetchHistory {
		return c.FetchHistory(ctx)
	}
	return nil
}

// switchSession applies a session change. When the open session changes the
// connection is rebuilt so frames of the previous turn cannot reach the new log.
func (c *Client) switchSession(ctx context.Context, apply func() store.Effect) {
	before := c.store.State()
	if before.TurnInFlight() || before.IsLoading || c.turnOnWire() {
		c.teardown()
		apply()
		if err := c.reopen(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("reconnect after session switch failed")
		}
		return
	}
	apply()
}

// FetchHistory replaces the log of the open session with the backend's history.
func (c *Client) FetchHistory(ctx context.Context) error {
	id := c.store.State().SessionID
	if id == "" {
		return domain.NewOpError(domain.OpFetchHistory, domain.ErrSessionMissing, "no session selected")
	}
	c.store.Dispatch(store.FetchHistoryStart{SessionID: id})
	msgs, err := c.registry.Messages(ctx, id)
	if err != nil {
		c.store.Dispatch(store.FetchHistoryFailure{SessionID: id, Err: err})
		return err
	}
	c.store.Dispatch(store.FetchHistorySuccess{SessionID: id, Messages: msgs})
	return nil
}

// RefreshSessions reloads the active session list.
func (c *Client) RefreshSessions(ctx context.Context) error {
	return c.refresh(ctx, domain.SessionStatusActive)
}

// RefreshArchived reloads the archived session list.
func (c *Client) RefreshArchived(ctx context.Context) error {
	return c.refresh(ctx, domain.SessionStatusArchived)
}

func (c *Client) refresh(ctx context.Context, status domain.SessionStatus) error {
	chatType := c.store.State().ChatType
	c.store.Dispatch(store.FetchSessionsStart{Status: status})
	sessions, err := c.registry.List(ctx, chatType, status)
	if err != nil {
		c.store.Dispatch(store.FetchSessionsFailure{Status: status, Err: err})
		return err
	}
	c.store.Dispatch(store.FetchSessionsSuccess{Status: status, ChatType: chatType, Sessions: sessions})
	return nil
}

// Archive archives session id and refetches both lists.
func (c *Client) Archive(ctx context.Context, id string) error {
	if err := c.registry.Archive(ctx, id); err != nil {
		c.store.Dispatch(store.RegistryFailure{Op: domain.OpArchive, Err: err})
		return err
	}
	c.store.Dispatch(store.ArchiveSession{ID: id})
	return c.refreshBoth(ctx)
}

// Unarchive restores session id and refetches both lists.
func (c *Client) Unarchive(ctx context.Context, id string) error {
	if err := c.registry.Unarchive(ctx, id); err != nil {
		c.store.Dispatch(store.RegistryFailure{Op: domain.OpUnarchive, Err: err})
		return err
	}
	c.store.Dispatch(store.UnarchiveSession{ID: id})
	return c.refreshBoth(ctx)
}

func (c *Client) refreshBoth(ctx context.Context) error {
	errActive := c.RefreshSessions(ctx)
	errArchived := c.RefreshArchived(ctx)
	if errActive != nil {
		return errActive
	}
	return errArchived
}

// Send submits content as a user turn of the open session. Precondition failures
// return before anything is appended or transmitted.
func (c *Client) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.NewOpError(domain.OpSendMessage, domain.ErrEmptyContent, "message is empty")
	}
	if c.tokens.Token() == "" {
		return domain.NewOpError(domain.OpSendMessage, domain.ErrUnauthenticated, "no bearer token")
	}
	s := c.store.State()
	if s.SessionID == "" {
		return domain.NewOpError(domain.OpSendMessage, domain.ErrSessionMissing, "no session selected")
	}
	if s.ChatType == "" {
		return domain.NewOpError(domain.OpSendMessage, domain.ErrChatTypeMissing, "no chat type selected")
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !s.Connected {
		return domain.NewOpError(domain.OpSendMessage, domain.ErrTransportNotConnected, "not connected")
	}
	if s.IsLoading || s.TurnInFlight() {
		return domain.NewOpError(domain.OpSendMessage, domain.ErrTurnInFlight, "wait for the current response")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.turnOnWire() {
		// The backend may still be streaming a stalled turn on this connection.
		c.logger.Info().Str("session_id", s.SessionID).Msg("replacing connection with an unfinished turn")
		c.teardown()
		if err := c.reopen(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
		if conn == nil {
			return domain.NewOpError(domain.OpSendMessage, domain.ErrTransportNotConnected, "not connected")
		}
	}

	now := c.now().UTC()
	c.store.Dispatch(store.SendMessageStart{})
	c.store.Dispatch(store.AddOrReplaceMessage{Message: domain.ChatMessage{
		ID:        c.newID(),
		SessionID: s.SessionID,
		Sender:    domain.SenderUser,
		Content:   content,
		CreatedAt: now,
		IsLoading: true,
		Pending:   true,
	}})
	c.store.Dispatch(store.AddOrReplaceMessage{Message: domain.ChatMessage{
		ID:          c.newID(),
		SessionID:   s.SessionID,
		Sender:      domain.SenderAI,
		CreatedAt:   now,
		IsStreaming: true,
		IsLoading:   true,
		Pending:     true,
	}})
	c.mu.Lock()
	c.lastActivity = c.now()
	c.wireOpen = true
	c.mu.Unlock()

	if err := conn.Send(protocol.NewClientRequest(content, s.ChatType, s.SessionID)); err != nil {
		c.mu.Lock()
		c.wireOpen = false
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("session_id", s.SessionID).Msg("send failed")
		c.store.Dispatch(store.SendMessageFailure{SessionID: s.SessionID, Err: err})
		return err
	}
	c.logger.Debug().Str("session_id", s.SessionID).Int("length", len(content)).Msg("message sent")
	return nil
}

// connect dials a new transport unless one is live.
func (c *Client) connect(ctx context.Context) error {
	token := c.tokens.Token()
	if token == "" {
		err := domain.NewOpError(domain.OpConnect, domain.ErrUnauthenticated, "no bearer token")
		c.store.Dispatch(store.RegistryFailure{Op: domain.OpConnect, Err: err})
		return err
	}
	chatType := c.store.State().ChatType
	if chatType == "" {
		return domain.NewOpError(domain.OpConnect, domain.ErrChatTypeMissing, "no chat type selected")
	}
	target, err := streamURL(c.cfg.WSURL, chatType)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	conn := c.dial(c.handlers(gen))
	c.conn = conn
	c.mu.Unlock()

	if err := conn.Connect(ctx, target, token); err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		c.store.Dispatch(store.RegistryFailure{Op: domain.OpConnect, Err: err})
		return err
	}
	return nil
}

// reopen reconnects if the client was opened.
func (c *Client) reopen(ctx context.Context) error {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if !opened {
		return nil
	}
	return c.connect(ctx)
}

// teardown retires the live transport; callbacks of its generation are dropped from here on.
func (c *Client) teardown() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	c.wireOpen = false
	c.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	if s := c.store.State(); s.IsLoading || s.TurnInFlight() {
		err := domain.NewOpError(domain.OpStream, domain.ErrTurnCancelled, "connection closed by client")
		c.store.Dispatch(store.ConnectionLost{Err: err})
		return
	}
	c.store.Dispatch(store.SetConnected{Connected: false})
}

func (c *Client) handlers(gen uint64) transport.Handlers {
	return transport.Handlers{
		OnOpen: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.gen != gen {
				return
			}
			c.store.Dispatch(store.SetConnected{Connected: true})
		},
		OnClose: func(code int, reason string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.gen != gen {
				return
			}
			c.conn = nil
			c.wireOpen = false
			var err error
			if transport.Abnormal(code) {
				err = domain.NewOpError(domain.OpConnect, domain.ErrTransportClosedAbnormally, fmt.Sprintf("code %d: %s", code, reason))
			}
			c.store.Dispatch(store.ConnectionLost{Err: err})
		},
		OnError: func(err error) {
			c.logger.Warn().Err(err).Uint64("generation", gen).Msg("transport error")
		},
		OnMessage: func(f protocol.Frame) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.gen != gen {
				return
			}
			c.lastActivity = c.now()
			if f.Type == protocol.TypeDone || f.Type == protocol.TypeError {
				c.wireOpen = false
			}
			for _, a := range c.asm.Apply(c.store.State(), f) {
				c.store.Dispatch(a)
			}
		},
	}
}

func (c *Client) turnOnWire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wireOpen
}

// streamURL appends the chat type to the websocket endpoint.
func streamURL(base string, chatType domain.ChatType) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("chat_type", chatType.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
