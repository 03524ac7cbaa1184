package marketdata

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound control message actions.
const (
	ActionSubscribe   = "SUBSCRIBE"
	ActionUnsubscribe = "UNSUBSCRIBE"
)

// ControlMessage is the inbound subscription protocol.
type ControlMessage struct {
	Action  string `json:"action"`
	Payload struct {
		Type     string `json:"type"`
		Symbol   string `json:"symbol"`
		Limit    int    `json:"limit,omitempty"`
		Interval string `json:"interval,omitempty"`
	} `json:"payload"`
}

// Gateway upgrades HTTP requests to WebSocket sessions and bridges the
// subscription protocol to the multiplexer and hub.
type Gateway struct {
	logger   *zap.Logger
	hub      *Hub
	mux      *Mux
	upgrader websocket.Upgrader
}

// NewGateway creates a new WebSocket gateway
func NewGateway(logger *zap.Logger, hub *Hub, mux *Mux) *Gateway {
	return &Gateway{
		logger: logger,
		hub:    hub,
		mux:    mux,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS handles a market data WebSocket connection for its full
// lifetime: it upgrades the request, pumps frames out, and reads control
// messages until the peer goes away.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, g.hub.queueSize),
		topics: make(map[string]struct{}),
	}
	g.hub.register(client)
	go client.writePump(conn)
	g.readPump(conn, client)
}

// readPump consumes control messages until the connection closes, then
// releases every subscription the session still holds. Malformed frames
// are logged and ignored; they must not leak subscription state.
func (g *Gateway) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		g.hub.unregister(client)
		conn.Close()
	}()

	held := make(map[string]Subscription)
	defer func() {
		for _, sub := range held {
			g.mux.Unsubscribe(sub)
		}
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.logger.Warn("malformed control message", zap.Error(err))
			continue
		}

		sub := Subscription{
			Type:     msg.Payload.Type,
			Symbol:   msg.Payload.Symbol,
			Limit:    msg.Payload.Limit,
			Interval: msg.Payload.Interval,
		}
		if !validStreamType(sub.Type) || sub.Symbol == "" {
			g.logger.Warn("malformed control message",
				zap.String("action", msg.Action),
				zap.String("type", sub.Type),
				zap.String("symbol", sub.Symbol))
			continue
		}
		topic := Topic(sub.Symbol, sub.StreamKey())

		switch msg.Action {
		case ActionSubscribe:
			if _, ok := held[topic]; ok {
				continue
			}
			// Join the topic before the mux starts polling so the initial
			// fetch is not missed.
			client.subscribe(topic)
			if !g.mux.Subscribe(sub) {
				client.unsubscribe(topic)
				continue
			}
			held[topic] = sub

		case ActionUnsubscribe:
			if _, ok := held[topic]; !ok {
				continue
			}
			delete(held, topic)
			client.unsubscribe(topic)
			g.mux.Unsubscribe(sub)

		default:
			g.logger.Warn("unknown control action", zap.String("action", msg.Action))
		}
	}
}

func validStreamType(t string) bool {
	switch t {
	case StreamOrderbook, StreamTrades, StreamTicker, StreamOHLCV:
		return true
	}
	return false
}
