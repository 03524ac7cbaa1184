package marketdata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHubClient(queue int) *Client {
	return &Client{
		send:   make(chan []byte, queue),
		topics: make(map[string]struct{}),
	}
}

func TestBroadcastReachesOnlySubscribedTopics(t *testing.T) {
	hub := NewHub(zap.NewNop(), 4)

	btc := newHubClient(4)
	btc.subscribe(Topic("BTC/USDT", "ticker"))
	eth := newHubClient(4)
	eth.subscribe(Topic("ETH/USDT", "ticker"))
	hub.register(btc)
	hub.register(eth)
	defer hub.unregister(btc)
	defer hub.unregister(eth)

	hub.Broadcast("BTC/USDT", "ticker", map[string]string{"last": "50000"})

	require.Len(t, btc.send, 1)
	assert.Empty(t, eth.send)

	var frame Frame
	require.NoError(t, json.Unmarshal(<-btc.send, &frame))
	assert.Equal(t, "ticker", frame.Stream)
	assert.Equal(t, "BTC/USDT", frame.Symbol)
}

func TestBroadcastDropsWhenClientQueueFull(t *testing.T) {
	hub := NewHub(zap.NewNop(), 1)

	c := newHubClient(1)
	c.subscribe(Topic("BTC/USDT", "trades"))
	hub.register(c)
	defer hub.unregister(c)

	hub.Broadcast("BTC/USDT", "trades", "first")
	hub.Broadcast("BTC/USDT", "trades", "second")

	// The second frame was dropped, not queued behind the first.
	assert.Len(t, c.send, 1)
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(zap.NewNop(), 4)
	c := newHubClient(4)
	hub.register(c)
	assert.Equal(t, 1, hub.ClientCount())

	hub.unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-c.send
	assert.False(t, open)

	// A duplicate unregister must not double-close.
	hub.unregister(c)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop(), 4)
	c := newHubClient(4)
	topic := Topic("BTC/USDT", "orderbook")
	c.subscribe(topic)
	hub.register(c)
	defer hub.unregister(c)

	hub.Broadcast("BTC/USDT", "orderbook", "one")
	c.unsubscribe(topic)
	hub.Broadcast("BTC/USDT", "orderbook", "two")

	assert.Len(t, c.send, 1)
}
