package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"odprt-chatbot/gateway/internal/session"
	"odprt-chatbot/gateway/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4 * 1024
)

// Activity is the handle the hub uses to report user liveness back to the
// session layer. Any inbound activity frame restarts the idle countdown.
type Activity interface {
	Activity(userID string)
}

// inbound is the envelope clients send. Only control frames come this way;
// chat itself goes over the HTTP API.
type inbound struct {
	Type string `json:"type"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// Hub fans coordinator events out to each user's open connections. A user
// may hold several tabs; every tab gets every event.
type Hub struct {
	activity Activity
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a hub. allowedOrigins of ["*"] disables the origin check.
// The activity sink is attached afterwards with SetActivity because the
// session manager publishes through the hub in turn.
func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		stop:       make(chan struct{}),
	}
}

// SetActivity attaches the session layer's liveness sink.
func (h *Hub) SetActivity(a Activity) {
	h.activity = a
}

// Run processes registrations until Stop. Call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("ws client registered", "user_id", c.userID)

		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.userID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(h.clients, c.userID)
					}
				}
			}
			h.mu.Unlock()
			h.log.Debug("ws client unregistered", "user_id", c.userID)

		case <-h.stop:
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and closes every client channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Publish implements session.Notifier: the event goes to every connection
// the user holds. A connection too slow to drain its buffer is dropped.
func (h *Hub) Publish(userID string, ev session.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.LogError(err, "ws event marshal failed", "type", ev.Type)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		return
	}
	for c := range set {
		select {
		case c.send <- payload:
		default:
			delete(set, c)
			close(c.send)
			h.log.Warn("ws client dropped, send buffer full", "user_id", userID)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// ConnectionCount reports open connections, for health reporting.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Serve upgrades the request and attaches the connection to the user's
// event stream. The user id comes from the identity middleware.
func (h *Hub) Serve(ctx *gin.Context, userID string) {
	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.log.LogError(err, "ws upgrade failed", "user_id", userID)
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h,
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.LogError(err, "ws read failed", "user_id", c.userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "activity":
			// Browser interaction; the idle feedback countdown restarts.
			if c.hub.activity != nil {
				c.hub.activity.Activity(c.userID)
			}
		case "ping":
			c.hub.Publish(c.userID, session.Event{Type: "pong"})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain anything already queued as separate frames.
			for i := 0; i < len(c.send); i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
