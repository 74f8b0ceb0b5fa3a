package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store *SQLiteStore, owner, id string, chatType domain.ChatType, at time.Time) {
	t.Helper()
	err := store.CreateSession(context.Background(), owner, &domain.ChatSession{
		ID:        id,
		ChatType:  chatType,
		Status:    domain.SessionStatusActive,
		CreatedAt: at,
		UpdatedAt: at,
	})
	require.NoError(t, err)
}

func TestListSessionsFiltersByOwnerTypeAndStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	seedSession(t, store, "alice", "s1", domain.ChatTypeGeneral, base)
	seedSession(t, store, "alice", "s2", domain.ChatTypeGeneral, base.Add(time.Minute))
	seedSession(t, store, "alice", "f1", domain.ChatTypeFAQ, base)
	seedSession(t, store, "bob", "b1", domain.ChatTypeGeneral, base)

	got, err := store.ListSessions(ctx, "alice", domain.ChatTypeGeneral, domain.SessionStatusActive)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID, "most recently updated first")
	assert.Equal(t, "s1", got[1].ID)

	archived, err := store.ListSessions(ctx, "alice", domain.ChatTypeGeneral, domain.SessionStatusArchived)
	require.NoError(t, err)
	assert.NotNil(t, archived)
	assert.Empty(t, archived)
}

func TestSetSessionStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store, "alice", "s1", domain.ChatTypeGeneral, time.Now().UTC())

	updated, err := store.SetSessionStatus(ctx, "alice", "s1", domain.SessionStatusArchived)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusArchived, updated.Status)

	active, err := store.ListSessions(ctx, "alice", domain.ChatTypeGeneral, domain.SessionStatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = store.SetSessionStatus(ctx, "bob", "s1", domain.SessionStatusActive)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.SetSessionStatus(ctx, "alice", "missing", domain.SessionStatusActive)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMessageUpdatesSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedSession(t, store, "alice", "s1", domain.ChatTypeGeneral, base)

	require.NoError(t, store.AddMessage(ctx, &domain.ChatMessage{
		ID: "m1", SessionID: "s1", Sender: domain.SenderUser, Content: "How do   admissions work?", CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.AddMessage(ctx, &domain.ChatMessage{
		ID: "m2", SessionID: "s1", Sender: domain.SenderAI, Content: strings.Repeat("x", 100), CreatedAt: base.Add(2 * time.Second),
	}))

	msgs, err := store.Messages(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, domain.SenderAI, msgs[1].Sender)

	session, err := store.GetSession(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, "How do admissions work?", session.Title)
	assert.Equal(t, strings.Repeat("x", 80)+"…", session.LastMessageSummary)
	assert.True(t, session.UpdatedAt.Equal(base.Add(2*time.Second)))
}

func TestAddMessageUnknownSession(t *testing.T) {
	store := newTestStore(t)
	err := store.AddMessage(context.Background(), &domain.ChatMessage{
		ID: "m1", SessionID: "nope", Sender: domain.SenderUser, Content: "hi", CreatedAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestMessagesOfForeignSession(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "alice", "s1", domain.ChatTypeGeneral, time.Now().UTC())

	_, err := store.Messages(context.Background(), "bob", "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := store.Messages(context.Background(), "alice", "s1")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
