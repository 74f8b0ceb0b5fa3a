// Package assembler turns inbound stream frames into store actions.
package assembler

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
	"github.com/xiaot623/gogo/chatcore/internal/store"
)

// Assembler maps frames of the current turn onto the session store.
// It keeps no state of its own; the store state passed to Apply is authoritative.
type Assembler struct {
	logger zerolog.Logger
	newID  func() string
}

// New creates an assembler.
func New(logger zerolog.Logger) *Assembler {
	return &Assembler{logger: logger, newID: uuid.NewString}
}

// Apply returns the actions frame f produces against state s, in dispatch order.
// Frames for a session other than the open one produce nothing.
func (a *Assembler) Apply(s store.State, f protocol.Frame) []store.Action {
	if f.SessionID != "" && s.SessionID != "" && f.SessionID != s.SessionID {
		a.logger.Debug().
			Str("frame_type", f.Type).
			Str("frame_session", f.SessionID).
			Str("session_id", s.SessionID).
			Msg("dropping frame for stale session")
		return nil
	}

	sessionID := s.SessionID
	var actions []store.Action
	// Only a turn sent without a session may adopt the id the backend minted for it.
	awaiting := s.IsLoading || s.TurnInFlight()
	if s.SessionID == "" && f.SessionID != "" && awaiting && (f.Type == protocol.TypeInfo || f.Type == protocol.TypeDone) {
		sessionID = f.SessionID
		actions = append(actions, store.BindSession{ID: f.SessionID})
	}

	switch f.Type {
	case protocol.TypeChunk:
		if f.Content == "" {
			return nil
		}
		return append(actions, store.AppendChunk{SessionID: sessionID, MessageID: a.newID(), Content: f.Content})

	case protocol.TypeDone:
		return append(actions,
			store.StreamDone{SessionID: sessionID},
			store.SendMessageSuccess{SessionID: sessionID},
		)

	case protocol.TypeError:
		detail := strings.TrimSpace(f.Detail)
		if detail == "" {
			detail = "the assistant failed to respond"
		}
		err := domain.NewOpError(domain.OpStream, domain.ErrBackend, detail)
		a.logger.Warn().Str("session_id", sessionID).Str("detail", detail).Msg("stream error")
		return append(actions,
			store.StreamFailed{SessionID: sessionID, Err: err},
			store.SendMessageFailure{SessionID: sessionID, Err: err},
		)

	case protocol.TypeInfo:
		a.logger.Info().Str("session_id", sessionID).Str("message", f.Message).Msg("stream info")
		return actions

	case protocol.TypeTrace:
		if strings.TrimSpace(f.Content) == "" {
			return nil
		}
		return append(actions, store.AppendTrace{Line: f.Content})
	}

	a.logger.Warn().Str("frame_type", f.Type).Msg("ignoring unknown frame type")
	return nil
}
