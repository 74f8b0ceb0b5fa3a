package assembler

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/protocol"
	"github.com/xiaot623/gogo/chatcore/internal/store"
)

func newTestAssembler(buf *bytes.Buffer) *Assembler {
	a := New(zerolog.New(buf))
	n := 0
	a.newID = func() string {
		n++
		return "gen-" + strconv.Itoa(n)
	}
	return a
}

func openSession(id string) store.State {
	s := store.Initial(domain.ChatTypeGeneral)
	s.SessionID = id
	s.Phase = domain.PhaseSessionActive
	return s
}

// run feeds frames through the assembler and reducer in arrival order.
func run(a *Assembler, s store.State, frames ...protocol.Frame) store.State {
	for _, f := range frames {
		for _, act := range a.Apply(s, f) {
			s, _ = store.Reduce(s, act)
		}
	}
	return s
}

func TestApplyChunksAndDone(t *testing.T) {
	a := newTestAssembler(&bytes.Buffer{})
	s, _ := store.Reduce(openSession("S1"), store.AddOrReplaceMessage{Message: domain.ChatMessage{
		ID: "u1", Sender: domain.SenderUser, Content: "Hello", IsLoading: true, Pending: true,
	}})
	s, _ = store.Reduce(s, store.SendMessageStart{})

	s = run(a, s,
		protocol.Chunk("", "Hi "),
		protocol.Trace("", "thinking"),
		protocol.Chunk("S1", "there!"),
	)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "gen-1", s.Messages[1].ID)
	assert.True(t, s.Messages[1].IsStreaming)
	assert.Equal(t, []string{"thinking"}, s.Trace)

	s = run(a, s, protocol.Done("S1"))
	assert.Equal(t, "Hi there!", s.Messages[1].Content)
	assert.False(t, s.Messages[1].IsStreaming)
	assert.False(t, s.Messages[0].IsLoading)
	assert.False(t, s.Messages[0].IsError)
	assert.False(t, s.IsLoading)
	assert.Empty(t, s.Trace)
}

func TestApplyEmptyChunk(t *testing.T) {
	a := newTestAssembler(&bytes.Buffer{})
	assert.Empty(t, a.Apply(openSession("S1"), protocol.Chunk("S1", "")))
}

func TestApplyDropsStaleSession(t *testing.T) {
	a := newTestAssembler(&bytes.Buffer{})
	for _, f := range []protocol.Frame{
		protocol.Chunk("A", "x"),
		protocol.Done("A"),
		protocol.Error("A", "boom"),
		protocol.Info("A", "hi"),
		protocol.Trace("A", "t"),
	} {
		assert.Empty(t, a.Apply(openSession("B"), f), f.Type)
	}
}

func TestApplyInfoBindsFreshSession(t *testing.T) {
	a := newTestAssembler(&bytes.Buffer{})

	sending := store.Initial(domain.ChatTypeGeneral)
	sending.IsLoading = true
	actions := a.Apply(sending, protocol.Info("minted", "session created"))
	assert.Equal(t, []store.Action{store.BindSession{ID: "minted"}}, actions)

	// An idle store without a session ignores notices such as an archive broadcast.
	assert.Empty(t, a.Apply(store.Initial(domain.ChatTypeGeneral), protocol.Info("old", "session archived")))

	assert.Empty(t, a.Apply(openSession("minted"), protocol.Info("minted", "again")))
	assert.Empty(t, a.Apply(store.Initial(domain.ChatTypeGeneral), protocol.Info("", "no id")))
}

func TestApplyDoneBindsFreshSession(t *testing.T) {
	a := newTestAssembler(&bytes.Buffer{})
	sending, _ := store.Reduce(store.Initial(domain.ChatTypeGeneral), store.SendMessageStart{})
	s := run(a, sending,
		protocol.Chunk("", "ok"),
		protocol.Done("minted"),
	)
	assert.Equal(t, "minted", s.SessionID)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "minted", s.Messages[0].SessionID)
	assert.False(t, s.Messages[0].IsStreaming)
}

func TestApplyErrorFailsTurn(t *testing.T) {
	a := newTestAssembler(&bytes.Buffer{})
	s, _ := store.Reduce(openSession("S1"), store.SendMessageStart{})

	s = run(a, s, protocol.Chunk("S1", "par"), protocol.Error("S1", "model overloaded"))

	require.Len(t, s.Messages, 1)
	assert.True(t, s.Messages[0].IsError)
	assert.False(t, s.Messages[0].IsStreaming)
	assert.Equal(t, "par", s.Messages[0].Content)
	assert.False(t, s.IsLoading)
	require.NotNil(t, s.Err)
	assert.ErrorIs(t, s.Err, domain.ErrBackend)
	assert.Equal(t, "model overloaded", s.Err.Message)
}

func TestApplyErrorWithoutDetail(t *testing.T) {
	a := newTestAssembler(&bytes.Buffer{})
	actions := a.Apply(openSession("S1"), protocol.Error("", " "))
	require.Len(t, actions, 2)
	failed, ok := actions[0].(store.StreamFailed)
	require.True(t, ok)
	assert.NotEmpty(t, failed.Err.Error())
}

func TestApplyUnknownFrameIsLogged(t *testing.T) {
	var buf bytes.Buffer
	a := newTestAssembler(&buf)

	assert.Empty(t, a.Apply(openSession("S1"), protocol.Frame{Type: "bogus"}))
	assert.Contains(t, buf.String(), "bogus")
}
