package store

import (
	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

// Action is a store transition. The set of variants is closed to this package.
type Action interface {
	action()
}

// SetSession opens session ID. An empty ID closes the current session.
type SetSession struct {
	ID     string
	Status domain.SessionStatus
}

// SetChatType switches topic and resets all session state.
type SetChatType struct {
	ChatType domain.ChatType
}

// AddOrReplaceMessage upserts a message by ID.
type AddOrReplaceMessage struct {
	Message domain.ChatMessage
}

// StartNewSession opens a session that was just created locally.
type StartNewSession struct {
	Session domain.ChatSession
}

// FetchSessionsStart marks a session list request for Status as running.
type FetchSessionsStart struct {
	Status domain.SessionStatus
}

// FetchSessionsSuccess replaces the list for Status.
type FetchSessionsSuccess struct {
	Status   domain.SessionStatus
	ChatType domain.ChatType
	Sessions []domain.ChatSession
}

// FetchSessionsFailure records a failed list request.
type FetchSessionsFailure struct {
	Status domain.SessionStatus
	Err    error
}

// FetchHistoryStart marks a history request for SessionID as running.
type FetchHistoryStart struct {
	SessionID string
}

// FetchHistorySuccess replaces the message log with the backend's history.
type FetchHistorySuccess struct {
	SessionID string
	Messages  []domain.ChatMessage
}

// FetchHistoryFailure records a failed history request.
type FetchHistoryFailure struct {
	SessionID string
	Err       error
}

// SendMessageStart marks a user turn as submitted.
type SendMessageStart struct{}

// SendMessageSuccess settles the pending user message of SessionID.
type SendMessageSuccess struct {
	SessionID string
}

// SendMessageFailure flags the pending messages of SessionID as failed.
type SendMessageFailure struct {
	SessionID string
	Err       error
}

// ArchiveSession moves a session to the archived list.
type ArchiveSession struct {
	ID string
}

// UnarchiveSession moves a session back to the active list.
type UnarchiveSession struct {
	ID string
}

// RegistryFailure records a failed operation that has no failure variant of its own,
// such as create, archive, unarchive or connect.
type RegistryFailure struct {
	Op  domain.Op
	Err error
}

// AppendChunk appends streamed content to the in-flight assistant message.
// MessageID is used when no in-flight message exists yet. Empty chunks are
// dropped, as are whitespace-only chunks until the message has content;
// after that whitespace is appended verbatim.
type AppendChunk struct {
	SessionID string
	MessageID string
	Content   string
}

// StreamDone finalizes the in-flight assistant message.
type StreamDone struct {
	SessionID string
}

// StreamFailed marks the in-flight assistant message as errored.
type StreamFailed struct {
	SessionID string
	Err       error
}

// BindSession adopts a session id minted by the backend when none is set.
type BindSession struct {
	ID string
}

// AppendTrace adds a diagnostic line to the trace buffer.
type AppendTrace struct {
	Line string
}

// SetConnected records the transport state.
type SetConnected struct {
	Connected bool
}

// ConnectionLost records a dropped transport and fails any unfinished turn.
type ConnectionLost struct {
	Err error
}

// ClearError empties the error slot.
type ClearError struct{}

// Reset drops all session data, keeping the chat type.
type Reset struct{}

func (SetSession) action()           {}
func (SetChatType) action()          {}
func (AddOrReplaceMessage) action()  {}
func (StartNewSession) action()      {}
func (FetchSessionsStart) action()   {}
func (FetchSessionsSuccess) action() {}
func (FetchSessionsFailure) action() {}
func (FetchHistoryStart) action()    {}
func (FetchHistorySuccess) action()  {}
func (FetchHistoryFailure) action()  {}
func (SendMessageStart) action()     {}
func (SendMessageSuccess) action()   {}
func (SendMessageFailure) action()   {}
func (ArchiveSession) action()       {}
func (UnarchiveSession) action()     {}
func (RegistryFailure) action()      {}
func (AppendChunk) action()          {}
func (StreamDone) action()           {}
func (StreamFailed) action()         {}
func (BindSession) action()          {}
func (AppendTrace) action()          {}
func (SetConnected) action()         {}
func (ConnectionLost) action()       {}
func (ClearError) action()           {}
func (Reset) action()                {}
