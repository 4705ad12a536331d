package serverapp

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"gridstead/internal/sim"
)

// Hub fans phase-boundary snapshots out to websocket clients. Broadcast is
// non-blocking so it is safe to call from the engine's notify hook; a slow
// client skips frames rather than stalling the simulation.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan sim.Snapshot
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
}

// Broadcast queues a snapshot for every connected client.
func (h *Hub) Broadcast(s sim.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- s:
		default: // client is behind, drop the frame
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan sim.Snapshot, 8)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("websocket client connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for snap := range c.send {
		if err := c.conn.WriteJSON(snap); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; it exists to notice the close.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, live := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if live {
		close(c.send)
		c.conn.Close()
		h.log.Info("websocket client disconnected", "remote", c.conn.RemoteAddr().String())
	}
}
