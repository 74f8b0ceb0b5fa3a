package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

func TestStoreDispatchReturnsEffect(t *testing.T) {
	st := New(Initial(domain.ChatTypeGeneral))
	defer st.Close()

	assert.Equal(t, EffectFetchHistory, st.Dispatch(SetSession{ID: "S1"}))
	assert.Equal(t, EffectNone, st.Dispatch(SetSession{ID: "S1"}))
	assert.Equal(t, "S1", st.State().SessionID)
}

func TestStoreStateIsACopy(t *testing.T) {
	st := New(openSession("S1"))
	defer st.Close()
	st.Dispatch(AddOrReplaceMessage{Message: userMsg("u1", "S1", "hi")})

	snap := st.State()
	snap.Messages[0].Content = "changed"

	assert.Equal(t, "hi", st.State().Messages[0].Content)
}

func TestStoreNotifiesInOrder(t *testing.T) {
	st := New(openSession("S1"))
	defer st.Close()

	var mu sync.Mutex
	var got []string
	st.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if m, ok := s.Streaming(); ok {
			got = append(got, m.Content)
		}
	})

	st.Dispatch(AddOrReplaceMessage{Message: placeholder("a1", "S1")})
	for _, c := range []string{"a", "b", "c"} {
		st.Dispatch(AppendChunk{SessionID: "S1", Content: c})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"", "a", "ab", "abc"}, got)
}

func TestStoreUnsubscribe(t *testing.T) {
	st := New(Initial(domain.ChatTypeGeneral))
	defer st.Close()

	var mu sync.Mutex
	calls := 0
	unsubscribe := st.Subscribe(func(State) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	st.Dispatch(AppendTrace{Line: "one"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	st.Dispatch(AppendTrace{Line: "two"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestStoreListenerMayDispatch(t *testing.T) {
	st := New(Initial(domain.ChatTypeGeneral))
	defer st.Close()

	st.Subscribe(func(s State) {
		if len(s.Trace) == 1 {
			st.Dispatch(AppendTrace{Line: "echo"})
		}
	})
	st.Dispatch(AppendTrace{Line: "first"})

	require.Eventually(t, func() bool {
		return len(st.State().Trace) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStoreCloseIsIdempotent(t *testing.T) {
	st := New(openSession("S1"))
	st.Subscribe(func(State) {})

	st.Close()
	st.Close()

	assert.Equal(t, EffectNone, st.Dispatch(SetSession{ID: "S2"}))
	assert.Equal(t, "S1", st.State().SessionID)
}
