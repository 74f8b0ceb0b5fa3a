// Package hub tracks the streaming connections of the reference backend.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/chatcore/internal/protocol"
)

// Connection is one client streaming connection.
type Connection struct {
	ID       string
	Owner    string
	ChatType string
	Conn     *websocket.Conn
	Send     chan []byte

	writeMu  sync.Mutex
	mu       sync.Mutex
	sessions map[string]bool
}

// Hub fans frames out to the connections bound to a session.
type Hub struct {
	connections map[string]*Connection
	// session id -> connection ids
	sessions map[string]map[string]bool

	unregister chan *Connection
	broadcast  chan sessionFrame
	done       chan struct{}

	logger zerolog.Logger
	mu     sync.RWMutex
}

type sessionFrame struct {
	sessionID string
	data      []byte
}

// New creates a hub. Unregister and Broadcast block until Run is started and
// return immediately once it has stopped.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		unregister:  make(chan *Connection),
		broadcast:   make(chan sessionFrame, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				conn.mu.Lock()
				for sid := range conn.sessions {
					h.unbindLocked(sid, conn.ID)
				}
				conn.mu.Unlock()
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.sessions[msg.sessionID] {
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				select {
				case conn.Send <- msg.data:
				default:
					h.logger.Warn().Str("conn_id", connID).Msg("buffer full, closing")
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps ws for owner. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn, owner, chatType string) *Connection {
	return &Connection{
		ID:       uuid.NewString(),
		Owner:    owner,
		ChatType: chatType,
		Conn:     ws,
		Send:     make(chan []byte, 256),
		sessions: make(map[string]bool),
	}
}

// Register adds conn to the hub. It is visible to BindSession on return.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	h.logger.Debug().Str("conn_id", conn.ID).Str("owner", conn.Owner).Msg("connection registered")
}

// Unregister removes conn and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindSession subscribes conn to frames of sessionID. A connection may carry several sessions.
func (h *Hub) BindSession(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	conn.mu.Lock()
	conn.sessions[sessionID] = true
	conn.mu.Unlock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]bool)
	}
	h.sessions[sessionID][conn.ID] = true
}

func (h *Hub) unbindLocked(sessionID, connID string) {
	if h.sessions[sessionID] == nil {
		return
	}
	delete(h.sessions[sessionID], connID)
	if len(h.sessions[sessionID]) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Broadcast queues f for every connection bound to sessionID.
func (h *Hub) Broadcast(sessionID string, f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- sessionFrame{sessionID: sessionID, data: data}:
	case <-h.done:
	}
	return nil
}

// SendFrame queues f for conn only.
func (h *Hub) SendFrame(conn *Connection, f protocol.Frame) (err error) {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	defer func() {
		// conn.Send is closed once the connection is unregistered.
		if recover() != nil {
			err = ErrBufferFull
		}
	}()
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasActiveConnections reports whether any connection is bound to sessionID.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// WriteMessage writes to the socket; gorilla allows one concurrent writer.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// Close closes the socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
