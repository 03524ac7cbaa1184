package marketdata

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame is the outbound payload delivered to subscribers of a
// (symbol, stream) pair.
type Frame struct {
	Stream string      `json:"stream"`
	Symbol string      `json:"symbol"`
	Data   interface{} `json:"data"`
}

// Client represents one WebSocket connection and the topics it follows.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	topics map[string]struct{}
}

func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *Client) subscribed(topic string) bool {
	c.mu.Lock()
	_, ok := c.topics[topic]
	c.mu.Unlock()
	return ok
}

// Hub fans market data frames out to WebSocket clients. Broadcast is safe
// for concurrent use by many symbol pollers; slow clients have frames
// dropped rather than stalling the pollers.
type Hub struct {
	logger    *zap.Logger
	queueSize int

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a new broadcast hub
func NewHub(logger *zap.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		logger:    logger,
		queueSize: queueSize,
		clients:   make(map[*Client]struct{}),
	}
}

// Topic returns the hub topic for a symbol and stream key.
func Topic(symbol, stream string) string {
	return symbol + "@" + stream
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	ConnectionsGauge.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
		ConnectionsGauge.Dec()
	}
}

// Broadcast delivers a frame to every client subscribed to the
// (symbol, stream) topic.
func (h *Hub) Broadcast(symbol, stream string, data interface{}) {
	frame := Frame{Stream: stream, Symbol: symbol, Data: data}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("stream", stream), zap.Error(err))
		return
	}
	topic := Topic(symbol, stream)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(topic) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow client: drop the frame, the next poll resends state.
			DroppedCounter.Inc()
		}
	}
	BroadcastCounter.WithLabelValues(stream).Inc()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump sends frames and heartbeats to the client.
func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
