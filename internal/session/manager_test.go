package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odprt-chatbot/gateway/pkg/timer"
)

func newTestManager(t *testing.T, reapAfter time.Duration) (*Manager, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	m := NewManager(backend, timer.NewManual(), Config{
		IdleWindow:    5 * time.Minute,
		TopicDebounce: time.Minute,
	}, reapAfter, nil, testLogger())
	t.Cleanup(m.Stop)
	return m, backend
}

func TestManagerGetReturnsSameCoordinator(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	a := m.Get("user-1")
	b := m.Get("user-1")
	other := m.Get("user-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, m.Len())
}

func TestManagerPeekDoesNotCreate(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	_, ok := m.Peek("user-1")
	assert.False(t, ok)
	assert.Zero(t, m.Len())

	m.Get("user-1")
	c, ok := m.Peek("user-1")
	assert.True(t, ok)
	assert.NotNil(t, c)
}

func TestManagerReapDropsIdleSessions(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	idle := m.Get("idle-user")
	m.Get("busy-user")

	idle.mu.Lock()
	idle.lastActivity = time.Now().Add(-2 * time.Hour)
	idle.mu.Unlock()

	m.reap(time.Now())

	require.Equal(t, 1, m.Len())
	_, ok := m.Peek("idle-user")
	assert.False(t, ok)
	_, ok = m.Peek("busy-user")
	assert.True(t, ok)
}

func TestManagerReapedSessionRecreatedFresh(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	c := m.Get("user-1")
	c.SendMessage(context.Background(), "hello", nil)
	require.NotEmpty(t, c.Snapshot().ActiveConversationID)

	c.mu.Lock()
	c.lastActivity = time.Now().Add(-2 * time.Hour)
	c.mu.Unlock()
	m.reap(time.Now())

	fresh := m.Get("user-1")
	assert.NotSame(t, c, fresh)
	assert.Empty(t, fresh.Snapshot().ActiveConversationID)
}

func TestManagerStopClosesSessions(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	m.Get("user-1")
	m.Get("user-2")
	m.Stop()
	assert.Zero(t, m.Len())
}
