package store

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives state snapshots in dispatch order. Snapshots must be treated as read-only.
type Listener func(State)

// Store serializes actions through Reduce and fans state changes out to subscribers.
type Store struct {
	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	queue     []State
	listeners map[int]Listener
	nextID    int
	closed    bool
	done      chan struct{}
	logger    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for transition tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store holding initial and starts its notifier.
func New(initial State, opts ...Option) *Store {
	s := &Store{
		state:     initial.Clone(),
		listeners: make(map[int]Listener),
		done:      make(chan struct{}),
		logger:    zerolog.Nop(),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	go s.notify()
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Dispatch applies a and returns the effect the caller must carry out.
// Dispatch after Close is ignored.
func (s *Store) Dispatch(a Action) Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return EffectNone
	}

	next, effect := Reduce(s.state, a)
	s.state = next
	s.queue = append(s.queue, next)
	s.cond.Signal()

	ev := s.logger.Debug().Str("action", actionName(a)).Str("session_id", next.SessionID)
	if effect != EffectNone {
		ev = ev.Stringer("effect", effect)
	}
	if next.Err != nil {
		ev = ev.Str("error", next.Err.Error())
	}
	ev.Msg("dispatch")
	return effect
}

// Subscribe registers fn and returns a func that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Close stops notifications and drops all subscribers. It is safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.listeners = make(map[int]Listener)
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Store) notify() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		listeners := make([]Listener, 0, len(s.listeners))
		for _, l := range s.listeners {
			listeners = append(listeners, l)
		}
		s.mu.Unlock()

		for _, st := range batch {
			for _, l := range listeners {
				l(st)
			}
		}
	}
}

func actionName(a Action) string {
	switch a.(type) {
	case SetSession:
		return "set_session"
	case SetChatType:
		return "set_chat_type"
	case AddOrReplaceMessage:
		return "add_or_replace_message"
	case StartNewSession:
		return "start_new_session"
	case FetchSessionsStart:
		return "fetch_sessions_start"
	case FetchSessionsSuccess:
		return "fetch_sessions_success"
	case FetchSessionsFailure:
		return "fetch_sessions_failure"
	case FetchHistoryStart:
		return "fetch_history_start"
	case FetchHistorySuccess:
		return "fetch_history_success"
	case FetchHistoryFailure:
		return "fetch_history_failure"
	case SendMessageStart:
		return "send_message_start"
	case SendMessageSuccess:
		return "send_message_success"
	case SendMessageFailure:
		return "send_message_failure"
	case ArchiveSession:
		return "archive_session"
	case UnarchiveSession:
		return "unarchive_session"
	case RegistryFailure:
		return "registry_failure"
	case AppendChunk:
		return "append_chunk"
	case StreamDone:
		return "stream_done"
	case StreamFailed:
		return "stream_failed"
	case BindSession:
		return "bind_session"
	case AppendTrace:
		return "append_trace"
	case SetConnected:
		return "set_connected"
	case ConnectionLost:
		return "connection_lost"
	case ClearError:
		return "clear_error"
	case Reset:
		return "reset"
	}
	return "unknown"
}
