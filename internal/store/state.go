// Package store holds the chat session state machine: a pure reducer over typed
// actions and a Store object that serializes dispatch and notifies subscribers.
package store

import (
	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

// State is the single source of truth read by the UI layer.
type State struct {
	Phase     domain.Phase
	SessionID string
	ChatType  domain.ChatType

	// Messages is kept in insertion order.
	Messages         []domain.ChatMessage
	Sessions         []domain.ChatSession
	ArchivedSessions []domain.ChatSession

	IsLoading          bool
	IsFetchingHistory  bool
	IsFetchingSessions bool
	Connected          bool

	// JustStartedNewChat suppresses the history fetch for a session created locally.
	// Cleared on the next message arrival or history fetch.
	JustStartedNewChat bool

	Err   *domain.OpError
	Trace []string
}

// Initial returns the state of a store with no session for chatType.
func Initial(chatType domain.ChatType) State {
	return State{Phase: domain.PhaseNoSession, ChatType: chatType}
}

// Clone returns a deep copy of the slices in s.
func (s State) Clone() State {
	s.Messages = append([]domain.ChatMessage(nil), s.Messages...)
	s.Sessions = append([]domain.ChatSession(nil), s.Sessions...)
	s.ArchivedSessions = append([]domain.ChatSession(nil), s.ArchivedSessions...)
	s.Trace = append([]string(nil), s.Trace...)
	return s
}

// Streaming returns the in-flight assistant message of the current session.
func (s State) Streaming() (domain.ChatMessage, bool) {
	if i := indexOfStreaming(s.Messages, s.SessionID); i >= 0 {
		return s.Messages[i], true
	}
	return domain.ChatMessage{}, false
}

// TurnInFlight reports whether an assistant turn of the current session is unfinished.
func (s State) TurnInFlight() bool {
	_, ok := s.Streaming()
	return ok
}

// Session looks a session up in the active and archived lists.
func (s State) Session(id string) (domain.ChatSession, bool) {
	if i := indexOfSession(s.Sessions, id); i >= 0 {
		return s.Sessions[i], true
	}
	if i := indexOfSession(s.ArchivedSessions, id); i >= 0 {
		return s.ArchivedSessions[i], true
	}
	return domain.ChatSession{}, false
}

func indexOfMessage(msgs []domain.ChatMessage, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOfStreaming(msgs []domain.ChatMessage, sessionID string) int {
	for i := range msgs {
		if msgs[i].InFlight(sessionID) {
			return i
		}
	}
	return -1
}

func indexOfSession(sessions []domain.ChatSession, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}
