package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatcore/internal/auth"
	"github.com/xiaot623/gogo/chatcore/internal/chat"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/store"
)

func stateWith(msgs ...domain.ChatMessage) store.State {
	s := store.Initial(domain.ChatTypeGeneral)
	s.Messages = msgs
	return s
}

func TestRendererStreamsIncrementally(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	user := domain.ChatMessage{ID: "u", Sender: domain.SenderUser, Content: "Hello"}

	r.render(stateWith(user, domain.ChatMessage{ID: "a", Sender: domain.SenderAI, IsStreaming: true}))
	r.render(stateWith(user, domain.ChatMessage{ID: "a", Sender: domain.SenderAI, IsStreaming: true, Content: "Hi "}))
	r.render(stateWith(user, domain.ChatMessage{ID: "a", Sender: domain.SenderAI, IsStreaming: true, Content: "Hi there!"}))
	r.render(stateWith(user, domain.ChatMessage{ID: "a", Sender: domain.SenderAI, Content: "Hi there!"}))
	r.render(stateWith(user, domain.ChatMessage{ID: "a", Sender: domain.SenderAI, Content: "Hi there!"}))

	assert.Equal(t, "assistant: Hi there!\n", buf.String())
}

func TestRendererSkipsHistoryAndFlagsFailures(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	old := domain.ChatMessage{ID: "h", Sender: domain.SenderAI, Content: "from history"}

	r.render(stateWith(old, domain.ChatMessage{ID: "a", Sender: domain.SenderAI, IsStreaming: true, Content: "par"}))
	s := stateWith(old, domain.ChatMessage{ID: "a", Sender: domain.SenderAI, IsError: true, Content: "par"})
	s.Err = domain.NewOpError(domain.OpStream, domain.ErrTransportClosedAbnormally, "code 1006: EOF")
	r.render(s)
	r.render(s)

	assert.Equal(t, "assistant: par [failed]\nerror: code 1006: EOF\n", buf.String())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "you", label(domain.SenderUser))
	assert.Equal(t, "assistant", label(domain.SenderAI))
	assert.Equal(t, "system", label(domain.SenderSystem))
}

func TestHandleLineClearsPreviousError(t *testing.T) {
	st := store.New(store.Initial(domain.ChatTypeGeneral))
	defer st.Close()
	st.Dispatch(store.RegistryFailure{Op: domain.OpArchive, Err: domain.ErrRegistryRequestFailed})
	require.NotNil(t, st.State().Err)
	client := chat.New(chat.Config{}, st, nil, nil, auth.NewHolder("tok"), zerolog.Nop())
	a := &app{chatType: domain.ChatTypeGeneral}

	quit, err := a.handleLine(context.Background(), client, &bytes.Buffer{}, "")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.NotNil(t, st.State().Err, "blank lines leave the error in place")

	_, err = a.handleLine(context.Background(), client, &bytes.Buffer{}, "hello")
	assert.ErrorIs(t, err, domain.ErrSessionMissing)
	assert.Nil(t, st.State().Err)
}
