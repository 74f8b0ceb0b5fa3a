// Package protocol defines the streaming chat protocol between clients and the chat backend.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

// Frame types from backend to client
const (
	TypeChunk = "chunk"
	TypeDone  = "done"
	TypeError = "error"
	TypeInfo  = "info"
	TypeTrace = "trace"
)

// ClientRequest is sent by the client to start an assistant turn.
// SessionID is nil when the client has no session yet.
type ClientRequest struct {
	Message   string  `json:"message"`
	ChatType  string  `json:"chat_type"`
	SessionID *string `json:"session_id"`
}

// NewClientRequest builds a request; an empty sessionID is sent as null.
func NewClientRequest(message string, chatType domain.ChatType, sessionID string) ClientRequest {
	req := ClientRequest{Message: message, ChatType: string(chatType)}
	if sessionID != "" {
		req.SessionID = &sessionID
	}
	return req
}

// Frame is one server-to-client message. Only the fields for Type are set.
type Frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Known reports whether the frame type is part of the protocol.
func (f Frame) Known() bool {
	switch f.Type {
	case TypeChunk, TypeDone, TypeError, TypeInfo, TypeTrace:
		return true
	}
	return false
}

// Chunk builds a chunk frame.
func Chunk(sessionID, content string) Frame {
	return Frame{Type: TypeChunk, Content: content, SessionID: sessionID}
}

// Done builds a done frame.
func Done(sessionID string) Frame {
	return Frame{Type: TypeDone, SessionID: sessionID}
}

// Error builds an error frame.
func Error(sessionID, detail string) Frame {
	return Frame{Type: TypeError, Detail: detail, SessionID: sessionID}
}

// Info builds an info frame.
func Info(sessionID, message string) Frame {
	return Frame{Type: TypeInfo, Message: message, SessionID: sessionID}
}

// Trace builds a trace frame.
func Trace(sessionID, content string) Frame {
	return Frame{Type: TypeTrace, Content: content, SessionID: sessionID}
}

// Decode parses a raw frame. Invalid JSON and unknown types wrap domain.ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if !f.Known() {
		return f, fmt.Errorf("%w: unknown frame type %q", domain.ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// DecodeRequest parses a client request.
func DecodeRequest(data []byte) (ClientRequest, error) {
	var req ClientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ClientRequest{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Text returns whichever of Detail and Error is set.
func (e ErrorResponse) Text() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error
}
