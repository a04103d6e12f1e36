package identity

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/shared/redis"
)

type fakeDirectory struct {
	mu          sync.Mutex
	known       map[string]bool
	createCalls int32
	createDelay time.Duration
}

func (d *fakeDirectory) VerifyUser(_ context.Context, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.known[userID], nil
}

func (d *fakeDirectory) CreateUser(_ context.Context, userID, faculty string) error {
	atomic.AddInt32(&d.createCalls, 1)
	if d.createDelay > 0 {
		time.Sleep(d.createDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known[userID] = true
	return nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", redis.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value.(string)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeDirectory, *memStore) {
	t.Helper()
	dir := &fakeDirectory{known: make(map[string]bool)}
	store := newMemStore()
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	return NewService(dir, store, 0, log), dir, store
}

func TestBootstrapCreatesUnknownUser(t *testing.T) {
	svc, dir, _ := newTestService(t)

	id := uuid.NewString()
	got, err := svc.Bootstrap(context.Background(), id, "Medicine")
	require.NoError(t, err)
	assert.Equal(t, id, got.UserID)
	assert.True(t, got.Created)
	assert.True(t, dir.known[id])

	prefs, err := svc.GetPreferences(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Medicine", prefs.Faculty)
	assert.True(t, prefs.HistoryVisible)
}

func TestBootstrapKnownUserSkipsCreate(t *testing.T) {
	svc, dir, _ := newTestService(t)

	id := uuid.NewString()
	dir.known[id] = true

	got, err := svc.Bootstrap(context.Background(), id, "")
	require.NoError(t, err)
	assert.False(t, got.Created)
	assert.Zero(t, atomic.LoadInt32(&dir.createCalls))
}

func TestBootstrapMintsIDWhenBlank(t *testing.T) {
	svc, _, _ := newTestService(t)

	got, err := svc.Bootstrap(context.Background(), "", "")
	require.NoError(t, err)
	_, err = uuid.Parse(got.UserID)
	assert.NoError(t, err)
	assert.True(t, got.Created)
}

func TestBootstrapRejectsMalformedID(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Bootstrap(context.Background(), "not-a-uuid", "")
	require.Error(t, err)
}

func TestBootstrapMarkerShortCircuitsBackend(t *testing.T) {
	svc, dir, _ := newTestService(t)

	id := uuid.NewString()
	_, err := svc.Bootstrap(context.Background(), id, "")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&dir.createCalls))

	// Second bootstrap hits the redis marker, not the backend.
	dir.mu.Lock()
	delete(dir.known, id)
	dir.mu.Unlock()

	got, err := svc.Bootstrap(context.Background(), id, "")
	require.NoError(t, err)
	assert.False(t, got.Created)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dir.createCalls))
}

func TestBootstrapConcurrentCreatesCollapse(t *testing.T) {
	svc, dir, _ := newTestService(t)
	dir.createDelay = 20 * time.Millisecond

	id := uuid.NewString()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Bootstrap(context.Background(), id, "Science")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dir.createCalls))
}

func TestPreferencesRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)

	id := uuid.NewString()
	prefs, err := svc.GetPreferences(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, prefs.HistoryVisible, "defaults apply before any write")

	prefs.Faculty = "Engineering"
	prefs.HistoryVisible = false
	require.NoError(t, svc.SetPreferences(context.Background(), id, prefs))

	got, err := svc.GetPreferences(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, prefs, got)
}
