package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

// Effect is a side effect requested by a transition. The reducer never performs I/O.
type Effect int

const (
	EffectNone Effect = iota
	// EffectFetchHistory asks the caller to load the history of State.SessionID.
	EffectFetchHistory
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectFetchHistory:
		return "fetch_history"
	}
	return "effect(" + strconv.Itoa(int(e)) + ")"
}

// Reduce returns the state after applying a. It is pure: s is never modified and
// slices are copied before they change.
func Reduce(s State, a Action) (State, Effect) {
	switch a := a.(type) {
	case SetSession:
		return setSession(s, a)
	case SetChatType:
		return setChatType(s, a), EffectNone
	case AddOrReplaceMessage:
		return addOrReplace(s, a.Message), EffectNone
	case StartNewSession:
		return startNewSession(s, a.Session), EffectNone

	case FetchSessionsStart:
		s.IsFetchingSessions = true
		return s, EffectNone
	case FetchSessionsSuccess:
		return fetchSessionsSuccess(s, a), EffectNone
	case FetchSessionsFailure:
		s.IsFetchingSessions = false
		s.Err = domain.AsOpError(listOp(a.Status), a.Err)
		return s, EffectNone

	case FetchHistoryStart:
		if a.SessionID == s.SessionID {
			s.IsFetchingHistory = true
		}
		return s, EffectNone
	case FetchHistorySuccess:
		return fetchHistorySuccess(s, a), EffectNone
	case FetchHistoryFailure:
		if a.SessionID != s.SessionID {
			return s, EffectNone
		}
		s.IsFetchingHistory = false
		s.Err = domain.AsOpError(domain.OpFetchHistory, a.Err)
		return s, EffectNone

	case SendMessageStart:
		s.IsLoading = true
		s.Err = clearOpError(s.Err, domain.OpSendMessage)
		return s, EffectNone
	case SendMessageSuccess:
		return sendSettled(s, a.SessionID, nil), EffectNone
	case SendMessageFailure:
		err := a.Err
		if err == nil {
			err = domain.ErrBackend
		}
		return sendSettled(s, a.SessionID, err), EffectNone

	case ArchiveSession:
		return archive(s, a.ID), EffectNone
	case UnarchiveSession:
		return unarchive(s, a.ID), EffectNone
	case RegistryFailure:
		s.Err = domain.AsOpError(a.Op, a.Err)
		return s, EffectNone

	case AppendChunk:
		return appendChunk(s, a), EffectNone
	case StreamDone:
		return streamDone(s, a.SessionID), EffectNone
	case StreamFailed:
		return streamFailed(s, a.SessionID, domain.AsOpError(domain.OpStream, a.Err)), EffectNone
	case BindSession:
		return bindSession(s, a.ID), EffectNone
	case AppendTrace:
		s.Trace = append(append([]string(nil), s.Trace...), a.Line)
		return s, EffectNone

	case SetConnected:
		s.Connected = a.Connected
		if a.Connected {
			s.Err = clearOpError(s.Err, domain.OpConnect)
		}
		return s, EffectNone
	case ConnectionLost:
		return connectionLost(s, a.Err), EffectNone
	case ClearError:
		s.Err = nil
		return s, EffectNone
	case Reset:
		return Initial(s.ChatType), EffectNone
	}

	s.Err = domain.NewOpError(domain.OpReduce, domain.ErrUnknownAction, fmt.Sprintf("%T", a))
	return s, EffectNone
}

func listOp(status domain.SessionStatus) domain.Op {
	if status == domain.SessionStatusArchived {
		return domain.OpFetchArchived
	}
	return domain.OpFetchSessions
}

func clearOpError(err *domain.OpError, op domain.Op) *domain.OpError {
	if err != nil && err.Op == op {
		return nil
	}
	return err
}

func clearSession(s State) State {
	s.SessionID = ""
	s.Phase = domain.PhaseNoSession
	s.Messages = nil
	s.Trace = nil
	s.IsLoading = false
	s.IsFetchingHistory = false
	s.JustStartedNewChat = false
	return s
}

func setSession(s State, a SetSession) (State, Effect) {
	if a.ID == "" {
		return clearSession(s), EffectNone
	}
	archived := a.Status == domain.SessionStatusArchived
	if a.Status == "" {
		if sess, ok := s.Session(a.ID); ok {
			archived = sess.Status == domain.SessionStatusArchived
		}
	}

	if a.ID == s.SessionID {
		if archived {
			s.Phase = domain.PhaseSessionArchived
		} else if s.Phase == domain.PhaseSessionArchived {
			s.Phase = domain.PhaseSessionActive
		}
		// A session bound without its history still needs one load.
		if s.Phase == domain.PhaseSessionPending && !s.JustStartedNewChat && len(s.Messages) == 0 {
			s.Phase = domain.PhaseSessionActive
			return s, EffectFetchHistory
		}
		return s, EffectNone
	}

	s = clearSession(s)
	s.SessionID = a.ID
	s.Phase = domain.PhaseSessionActive
	if archived {
		s.Phase = domain.PhaseSessionArchived
	}
	return s, EffectFetchHistory
}

func setChatType(s State, a SetChatType) State {
	if a.ChatType == s.ChatType {
		return s
	}
	return Initial(a.ChatType)
}

func startNewSession(s State, sess domain.ChatSession) State {
	s = clearSession(s)
	s.SessionID = sess.ID
	s.Phase = domain.PhaseSessionPending
	s.JustStartedNewChat = true
	if sess.ChatType != "" && sess.ChatType != s.ChatType {
		return s
	}
	if indexOfSession(s.Sessions, sess.ID) < 0 && sess.ID != "" {
		if sess.Status == "" {
			sess.Status = domain.SessionStatusActive
		}
		s.Sessions = append([]domain.ChatSession{sess}, s.Sessions...)
	}
	return s
}

// markActive moves a session out of the pending phase once content arrives.
func markActive(s State) State {
	s.JustStartedNewChat = false
	if s.Phase == domain.PhaseSessionPending {
		s.Phase = domain.PhaseSessionActive
	}
	return s
}

func addOrReplace(s State, m domain.ChatMessage) State {
	if m.ID == "" {
		return s
	}
	if m.SessionID == "" {
		m.SessionID = s.SessionID
	}
	if m.SessionID != s.SessionID {
		return s
	}

	msgs := append([]domain.ChatMessage(nil), s.Messages...)
	if m.InFlight(s.SessionID) {
		// Only one assistant turn of a session may stream.
		for i := range msgs {
			if msgs[i].ID != m.ID && msgs[i].InFlight(s.SessionID) {
				msgs[i].IsStreaming = false
				msgs[i].IsLoading = false
			}
		}
	}
	if i := indexOfMessage(msgs, m.ID); i >= 0 {
		msgs[i] = m
	} else {
		msgs = append(msgs, m)
	}
	s.Messages = msgs
	return markActive(s)
}

func fetchSessionsSuccess(s State, a FetchSessionsSuccess) State {
	s.IsFetchingSessions = false
	if a.ChatType != "" && a.ChatType != s.ChatType {
		return s
	}
	list := append([]domain.ChatSession(nil), a.Sessions...)
	if a.Status == domain.SessionStatusArchived {
		s.ArchivedSessions = list
		s.Err = clearOpError(s.Err, domain.OpFetchArchived)
	} else {
		s.Sessions = list
		s.Err = clearOpError(s.Err, domain.OpFetchSessions)
	}
	return s
}

func fetchHistorySuccess(s State, a FetchHistorySuccess) State {
	if a.SessionID != s.SessionID {
		return s
	}
	msgs := make([]domain.ChatMessage, 0, len(a.Messages))
	for _, m := range a.Messages {
		m.SessionID = a.SessionID
		m.IsStreaming, m.IsLoading, m.IsError, m.Pending = false, false, false, false
		msgs = append(msgs, m)
	}
	s.Messages = msgs
	s.IsFetchingHistory = false
	s.Trace = nil
	s.Err = clearOpError(s.Err, domain.OpFetchHistory)
	return markActive(s)
}

// sendSettled resolves the pending user message of a turn. A nil err means success.
func sendSettled(s State, sessionID string, err error) State {
	s.IsLoading = false
	if err != nil {
		s.Err = domain.AsOpError(domain.OpSendMessage, err)
	}
	if sessionID != s.SessionID {
		return s
	}

	msgs := append([]domain.ChatMessage(nil), s.Messages...)
	for i := range msgs {
		m := &msgs[i]
		if m.SessionID != sessionID {
			continue
		}
		switch {
		case m.Sender == domain.SenderUser && m.Pending:
			m.Pending = false
			m.IsLoading = false
			m.IsError = err != nil
		case err != nil && m.InFlight(sessionID):
			m.IsStreaming = false
			m.IsLoading = false
			m.IsError = true
		}
	}
	s.Messages = msgs
	return s
}

func appendChunk(s State, a AppendChunk) State {
	if a.SessionID != s.SessionID || a.Content == "" {
		return s
	}
	i := indexOfStreaming(s.Messages, s.SessionID)
	// Leading whitespace carries nothing to show and would clear the placeholder's loading state.
	if strings.TrimSpace(a.Content) == "" && (i < 0 || s.Messages[i].Content == "") {
		return s
	}
	msgs := append([]domain.ChatMessage(nil), s.Messages...)
	if i >= 0 {
		msgs[i].Content += a.Content
		msgs[i].IsLoading = false
		s.Messages = msgs
		return markActive(s)
	}

	id := a.MessageID
	if id == "" || indexOfMessage(msgs, id) >= 0 {
		id = s.SessionID + "-ai-" + strconv.Itoa(len(msgs))
	}
	s.Messages = append(msgs, domain.ChatMessage{
		ID:          id,
		SessionID:   s.SessionID,
		Sender:      domain.SenderAI,
		Content:     a.Content,
		IsStreaming: true,
	})
	return markActive(s)
}

func streamDone(s State, sessionID string) State {
	if sessionID != s.SessionID {
		return s
	}
	s.Trace = nil
	i := indexOfStreaming(s.Messages, s.SessionID)
	if i < 0 {
		return s
	}
	msgs := append([]domain.ChatMessage(nil), s.Messages...)
	msgs[i].IsStreaming = false
	msgs[i].IsLoading = false
	msgs[i].Pending = false
	s.Messages = msgs
	return s
}

func streamFailed(s State, sessionID string, err *domain.OpError) State {
	if sessionID != s.SessionID {
		return s
	}
	s.Err = err
	s.IsLoading = false
	i := indexOfStreaming(s.Messages, s.SessionID)
	if i < 0 {
		return s
	}
	msgs := append([]domain.ChatMessage(nil), s.Messages...)
	msgs[i].IsStreaming = false
	msgs[i].IsLoading = false
	msgs[i].IsError = true
	s.Messages = msgs
	return s
}

func bindSession(s State, id string) State {
	if id == "" || s.SessionID != "" {
		return s
	}
	s.SessionID = id
	s.Phase = domain.PhaseSessionActive
	msgs := append([]domain.ChatMessage(nil), s.Messages...)
	for i := range msgs {
		if msgs[i].SessionID == "" {
			msgs[i].SessionID = id
		}
	}
	s.Messages = msgs
	return s
}

func connectionLost(s State, err error) State {
	s.Connected = false
	inFlight := s.IsLoading || s.TurnInFlight()
	if err == nil {
		if !inFlight {
			return s
		}
		err = domain.ErrTransportClosedAbnormally
	}
	if inFlight {
		s = sendSettled(s, s.SessionID, err)
	}
	s.Err = domain.AsOpError(domain.OpConnect, err)
	return s
}

func archive(s State, id string) State {
	i := indexOfSession(s.Sessions, id)
	if i >= 0 {
		sess := s.Sessions[i]
		sess.Status = domain.SessionStatusArchived
		s.Sessions = removeSession(s.Sessions, i)
		if indexOfSession(s.ArchivedSessions, id) < 0 {
			s.ArchivedSessions = append([]domain.ChatSession{sess}, s.ArchivedSessions...)
		}
	}
	if id == s.SessionID {
		s = clearSession(s)
	}
	s.Err = clearOpError(s.Err, domain.OpArchive)
	return s
}

func unarchive(s State, id string) State {
	i := indexOfSession(s.ArchivedSessions, id)
	if i >= 0 {
		sess := s.ArchivedSessions[i]
		sess.Status = domain.SessionStatusActive
		s.ArchivedSessions = removeSession(s.ArchivedSessions, i)
		if indexOfSession(s.Sessions, id) < 0 {
			s.Sessions = append([]domain.ChatSession{sess}, s.Sessions...)
		}
	}
	if id == s.SessionID && s.Phase == domain.PhaseSessionArchived {
		s.Phase = domain.PhaseSessionActive
	}
	s.Err = clearOpError(s.Err, domain.OpUnarchive)
	return s
}

func removeSession(list []domain.ChatSession, i int) []domain.ChatSession {
	out := make([]domain.ChatSession, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}
