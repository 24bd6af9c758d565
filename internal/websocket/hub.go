package websocket

import (
	"context"
	"sync"

	"beacon-chat/internal/events"
	"beacon-chat/internal/metrics"

	"github.com/google/uuid"
)

// Hub is the local table of live connections, indexed by user so a publish
// is a direct lookup rather than a scan of every socket.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[string]*Client
	log     *WebSocketLogger
}

func NewHub(log *WebSocketLogger) *Hub {
	if log == nil {
		log = NewWebSocketLogger(nil)
	}
	return &Hub{
		clients: make(map[uuid.UUID]map[string]*Client),
		log:     log,
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.userID]
	if !ok {
		conns = make(map[string]*Client)
		h.clients[c.userID] = conns
	}
	conns[c.connID] = c
	metrics.Connections.Inc()
}

// remove drops the client and closes its send queue. Closing under the write
// lock guarantees no publisher is sending on it.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[c.userID]
	if conns[c.connID] != c {
		return
	}
	delete(conns, c.connID)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	metrics.Connections.Dec()
}

// Publish delivers an event to every local connection of userID and returns
// how many accepted it. Offline users are not buffered.
func (h *Hub) Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) int {
	data, err := events.Encode(event, payload)
	if err != nil {
		h.log.Error("encode failed", userID, "", err)
		return 0
	}
	return h.publishRaw(userID, event, data)
}

func (h *Hub) publishRaw(userID uuid.UUID, event string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients[userID] {
		if c.trySend(data) {
			delivered++
			continue
		}
		metrics.DeliveryFailures.WithLabelValues(event).Inc()
		h.log.Warn("send queue full, event dropped", userID, c.connID)
	}
	return delivered
}

// BroadcastAll sends an event to every connected client.
func (h *Hub) BroadcastAll(event string, payload interface{}) int {
	data, err := events.Encode(event, payload)
	if err != nil {
		h.log.Error("encode failed", uuid.Nil, "", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, conns := range h.clients {
		for _, c := range conns {
			if c.trySend(data) {
				delivered++
			} else {
				metrics.DeliveryFailures.WithLabelValues(event).Inc()
			}
		}
	}
	return delivered
}

// Connected reports whether userID has a connection on this instance.
func (h *Hub) Connected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// CloseAll closes every connection, used on shutdown. The read pumps then
// run the normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.clients {
		for _, c := range conns {
			_ = c.conn.Close()
		}
	}
}
