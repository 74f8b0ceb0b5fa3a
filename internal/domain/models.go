package domain

import (
	"time"
)

// ChatSession represents a conversation thread persisted by the backend.
type ChatSession struct {
	ID                 string        `json:"id"`
	ChatType           ChatType      `json:"chat_type"`
	Title              string        `json:"title"`
	Status             SessionStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	LastMessageSummary string        `json:"last_message_summary,omitempty"`
}

// ChatMessage represents a single message in a session log.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Client-side state, never sent by the backend.
	IsStreaming bool `json:"-"`
	IsLoading   bool `json:"-"`
	IsError     bool `json:"-"`
	Pending     bool `json:"-"`
}

// InFlight reports whether m is the streaming assistant turn of sessionID.
func (m ChatMessage) InFlight(sessionID string) bool {
	return m.Sender == SenderAI && m.IsStreaming && m.SessionID == sessionID
}
