// Package transport maintains the streaming WebSocket connection to the chat backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/chatcore/internal/auth"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
)

// ErrClosed is returned by Connect on a connection that was closed by its owner.
var ErrClosed = errors.New("transport: connection closed")

// State is the connection lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handlers receive connection lifecycle events. Nil handlers are skipped.
// OnMessage and OnClose run on the connection's read goroutine; none run after Close returns.
type Handlers struct {
	OnOpen    func()
	OnClose   func(code int, reason string)
	OnError   func(err error)
	OnMessage func(frame protocol.Frame)
}

// Config holds connection timing parameters.
type Config struct {
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   65536,
	}
}

// Abnormal reports whether a close code means the connection dropped unexpectedly.
func Abnormal(code int) bool {
	return code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway
}

// Conn is a single logical streaming connection. It does not reconnect:
// once closed, the owner creates a new Conn.
type Conn struct {
	cfg      Config
	handlers Handlers
	logger   zerolog.Logger

	mu       sync.Mutex
	state    State
	closed   bool
	ws       *websocket.Conn
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an idle connection.
func New(cfg Config, handlers Handlers, logger zerolog.Logger) *Conn {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	return &Conn{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		send:     make(chan []byte, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials url with a bearer token. It is a no-op while connecting or open.
func (c *Conn) Connect(ctx context.Context, url, token string) error {
	if token == "" {
		return domain.NewOpError(domain.OpConnect, domain.ErrUnauthenticated, "no bearer token")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Info().Str("url", url).Msg("connecting")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", auth.BearerHeader(token))

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if !c.closed {
			c.state = StateIdle
		}
		closed := c.closed
		c.mu.Unlock()

		opErr := domain.NewOpError(domain.OpConnect, domain.ErrTransportNotConnected, err.Error())
		if resp != nil {
			opErr.Status = resp.StatusCode
		}
		c.logger.Warn().Err(err).Msg("dial failed")
		if !closed && c.handlers.OnError != nil {
			c.handlers.OnError(opErr)
		}
		return opErr
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()

	ws.SetReadLimit(c.cfg.MaxMessageSize)
	go c.writePump(ws)
	go c.readPump(ws)

	c.logger.Info().Msg("connected")
	if c.handlers.OnOpen != nil && c.live() {
		c.handlers.OnOpen()
	}
	return nil
}

// Send transmits req. It fails fast when the connection is not open; nothing is queued.
func (c *Conn) Send(req protocol.ClientRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return domain.NewOpError(domain.OpSendMessage, domain.ErrTransportNotConnected, "connection is "+c.state.String())
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.NewOpError(domain.OpSendMessage, domain.ErrTransportNotConnected, "send buffer full")
	}
}

// Close shuts the connection down, waits for the reader to exit and releases all
// handlers. It is safe to call more than once but must not be called from a handler.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	ws := c.ws
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	if ws == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	// The reader may already have closed the socket after the close handshake.
	_ = ws.Close()
	<-c.done
	c.logger.Info().Msg("closed")
	return nil
}

// live reports whether handlers may still fire.
func (c *Conn) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// readPump delivers inbound frames in arrival order until the socket fails.
func (c *Conn) readPump(ws *websocket.Conn) {
	defer close(c.done)
	ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.finish(ws, err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("ignoring frame")
			continue
		}
		if c.handlers.OnMessage != nil && c.live() {
			c.handlers.OnMessage(frame)
		}
	}
}

// writePump serializes writes and keeps the connection alive with pings.
func (c *Conn) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("write failed")
				if c.handlers.OnError != nil && c.live() {
					c.handlers.OnError(domain.NewOpError(domain.OpSendMessage, domain.ErrTransportNotConnected, err.Error()))
				}
				ws.Close()
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.Close()
				return
			}

		case <-c.stop:
			return
		}
	}
}

func (c *Conn) finish(ws *websocket.Conn, err error) {
	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
	}

	c.mu.Lock()
	owned := !c.closed
	c.state = StateClosed
	c.closed = true
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stop) })
	ws.Close()

	if !owned {
		return
	}
	if Abnormal(code) {
		c.logger.Warn().Int("code", code).Str("reason", reason).Msg("connection dropped")
	} else {
		c.logger.Info().Int("code", code).Str("reason", reason).Msg("connection closed by server")
	}
	if c.handlers.OnClose != nil {
		c.handlers.OnClose(code, reason)
	}
}
