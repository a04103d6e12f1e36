package ws

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odprt-chatbot/gateway/internal/session"
	"odprt-chatbot/gateway/pkg/logger"
)

// activityRecorder captures liveness reports on a channel so the test can
// wait for the frame to cross the connection.
type activityRecorder struct {
	calls chan string
}

func (r *activityRecorder) Activity(userID string) {
	r.calls <- userID
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Output: io.Discard})
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub([]string{"*"}, testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)

	engine := gin.New()
	engine.GET("/ws", func(c *gin.Context) {
		hub.Serve(c, "user-1")
	})
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return hub, srv
}

func dialTestHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestActivityFrameReachesSink(t *testing.T) {
	hub, srv := newTestHub(t)
	recorder := &activityRecorder{calls: make(chan string, 1)}
	hub.SetActivity(recorder)

	conn := dialTestHub(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"activity"}`)))

	select {
	case userID := <-recorder.calls:
		assert.Equal(t, "user-1", userID)
	case <-time.After(2 * time.Second):
		t.Fatal("activity frame never reached the sink")
	}
}

func TestPublishFansOutToConnection(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dialTestHub(t, srv)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish("user-1", session.Event{Type: session.EventTopicUpdated, ConversationID: "conv-1", Topic: "Grant applications"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev session.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, session.EventTopicUpdated, ev.Type)
	assert.Equal(t, "Grant applications", ev.Topic)
}

func TestPingFrameAnsweredWithPong(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dialTestHub(t, srv)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev session.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "pong", ev.Type)
}

func TestPublishDropsClientWithFullBuffer(t *testing.T) {
	hub := NewHub([]string{"*"}, testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)

	// An unbuffered channel with no writePump draining it models a peer
	// that stopped reading.
	stuck := &client{userID: "user-slow", send: make(chan []byte)}
	hub.register <- stuck

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish("user-slow", session.Event{Type: session.EventMessage})
	assert.Zero(t, hub.ConnectionCount())

	// The send channel was closed on drop.
	_, open := <-stuck.send
	assert.False(t, open)
}
