package status

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientBuffer = 8
	writeTimeout = 5 * time.Second
)

// Message is the JSON frame pushed to WebSocket clients
type Message struct {
	Type   string    `json:"type"`
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan Message
}

// Hub is a Sink that pushes transitions to connected WebSocket clients.
// SetStatus never blocks: a client whose buffer is full misses the frame.
// New clients receive the latest status straight away.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	last    *Message
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("events"),
		upgrader: websocket.Upgrader{
			// Provisioning clients arrive through captive DNS under arbitrary hostnames
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// SetStatus broadcasts kind
func (h *Hub) SetStatus(kind Kind) {
	msg := Message{Type: "status", Status: kind.String(), Time: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("Dropping status frame for slow client")
		}
	}
}

// ServeHTTP upgrades the request and streams status frames until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &hubClient{conn: conn, send: make(chan Message, clientBuffer)}

	h.mu.Lock()
	if h.last != nil {
		c.send <- *h.last
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Client subscribed", zap.String("remote_addr", r.RemoteAddr))

	go h.writeLoop(c)

	// Clients never send anything meaningful; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) writeLoop(c *hubClient) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Debug("Failed to write status frame", zap.Error(err))
			c.conn.Close()
			// drain until the reader unregisters us
			for range c.send {
			}
			return
		}
	}
}

// Clients returns the number of subscribed clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
