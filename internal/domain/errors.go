package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated           = errors.New("unauthenticated: no credential available")
	ErrTransportNotConnected     = errors.New("transport not connected")
	ErrTransportClosedAbnormally = errors.New("transport closed abnormally")
	ErrRegistryRequestFailed     = errors.New("registry request failed")
	ErrMalformedFrame            = errors.New("malformed frame")

	ErrEmptyContent    = errors.New("message content is empty")
	ErrSessionMissing  = errors.New("no session selected")
	ErrChatTypeMissing = errors.New("no chat type selected")
	ErrTurnInFlight    = errors.New("a response is still streaming")
	ErrTurnStalled     = errors.New("response stalled")
	ErrTurnCancelled   = errors.New("response cancelled")
	ErrBackend         = errors.New("backend reported an error")
	ErrUnknownAction   = errors.New("unknown action")
)

// Op names the operation an error belongs to.
type Op string

const (
	OpFetchSessions Op = "fetch_sessions"
	OpFetchArchived Op = "fetch_archived"
	OpCreateSession Op = "create_session"
	OpFetchHistory  Op = "fetch_history"
	OpArchive       Op = "archive_session"
	OpUnarchive     Op = "unarchive_session"
	OpSendMessage   Op = "send_message"
	OpStream        Op = "stream"
	OpConnect       Op = "connect"
	OpReduce        Op = "reduce"
)

// OpError is an error recorded against a single operation.
type OpError struct {
	Op      Op
	Kind    error
	Status  int
	Message string
}

// NewOpError builds an OpError of the given kind.
func NewOpError(op Op, kind error, message string) *OpError {
	return &OpError{Op: op, Kind: kind, Message: message}
}

// AsOpError converts err to an OpError attributed to op, preserving an existing OpError.
func AsOpError(op Op, err error) *OpError {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		if oe.Op == "" {
			cp := *oe
			cp.Op = op
			return &cp
		}
		return oe
	}
	for _, kind := range []error{
		ErrUnauthenticated, ErrTransportNotConnected, ErrTransportClosedAbnormally,
		ErrRegistryRequestFailed, ErrMalformedFrame, ErrEmptyContent, ErrSessionMissing,
		ErrChatTypeMissing, ErrTurnInFlight, ErrTurnStalled, ErrTurnCancelled, ErrBackend,
	} {
		if errors.Is(err, kind) {
			return &OpError{Op: op, Kind: kind, Message: err.Error()}
		}
	}
	return &OpError{Op: op, Kind: ErrRegistryRequestFailed, Message: err.Error()}
}

func (e *OpError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *OpError) Unwrap() error {
	return e.Kind
}
