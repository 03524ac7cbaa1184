package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantaex/core/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeSource serves mutable market state.
type fakeSource struct {
	mu     sync.Mutex
	snap   *models.OrderBookSnapshot
	ticker *models.Ticker
	trades []*models.Trade
	err    error
}

func (s *fakeSource) setSnap(snap *models.OrderBookSnapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *fakeSource) setTicker(t *models.Ticker) {
	s.mu.Lock()
	s.ticker = t
	s.mu.Unlock()
}

func (s *fakeSource) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

func (s *fakeSource) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades, nil
}

func (s *fakeSource) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	return nil, nil
}

func (s *fakeSource) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return &models.Ticker{Symbol: symbol}, nil
	}
	return s.ticker, nil
}

// fakeSink counts frames per stream key.
type fakeSink struct {
	mu     sync.Mutex
	frames map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{frames: make(map[string]int)}
}

func (s *fakeSink) Broadcast(symbol, stream string, data interface{}) {
	s.mu.Lock()
	s.frames[Topic(symbol, stream)]++
	s.mu.Unlock()
}

func (s *fakeSink) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[topic]
}

type allTradable struct{}

func (allTradable) Tradable(string) bool { return true }

type noneTradable struct{}

func (noneTradable) Tradable(string) bool { return false }

func staticBook() *models.OrderBookSnapshot {
	return &models.OrderBookSnapshot{
		Symbol:     "BTC/USDT",
		Asks:       []models.OrderBookLevel{{Price: dec("50000"), Amount: dec("1")}},
		Bids:       []models.OrderBookLevel{{Price: dec("49990"), Amount: dec("2")}},
		UpdateTime: time.Now().UTC(),
	}
}

func newTestMux(t *testing.T, source Source, sink Sink, markets MarketChecker) *Mux {
	t.Helper()
	m := NewMux(zap.NewNop(), source, sink, markets, nil, Options{PollInterval: 20 * time.Millisecond})
	t.Cleanup(m.Stop)
	return m
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "orderbook", Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}.StreamKey())
	assert.Equal(t, "orderbook:10", Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT", Limit: 10}.StreamKey())
	assert.Equal(t, "ticker", Subscription{Type: StreamTicker, Symbol: "BTC/USDT", Limit: 10}.StreamKey())
}

func TestSubscribeRejectsUnknownSymbol(t *testing.T) {
	sink := newFakeSink()
	m := newTestMux(t, &fakeSource{snap: staticBook()}, sink, noneTradable{})

	ok := m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "NOPE/USDT"})
	assert.False(t, ok)
	assert.Empty(t, m.ActiveSymbols())
}

func TestUnchangedBookBroadcastOnce(t *testing.T) {
	sink := newFakeSink()
	m := newTestMux(t, &fakeSource{snap: staticBook()}, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}))

	// The initial fetch broadcasts; several identical polls after it do not.
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, sink.count("BTC/USDT@orderbook"))
}

func TestChangedBookBroadcastsAgain(t *testing.T) {
	source := &fakeSource{snap: staticBook()}
	sink := newFakeSink()
	m := newTestMux(t, source, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}))
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") == 1
	}, time.Second, 5*time.Millisecond)

	changed := staticBook()
	changed.Bids[0].Amount = dec("3")
	source.setSnap(changed)

	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBookUpdateTimeAloneDoesNotBroadcast(t *testing.T) {
	source := &fakeSource{snap: staticBook()}
	sink := newFakeSink()
	m := newTestMux(t, source, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}))
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") == 1
	}, time.Second, 5*time.Millisecond)

	// Same levels, fresher timestamp: still suppressed.
	refreshed := staticBook()
	refreshed.UpdateTime = time.Now().UTC().Add(time.Minute)
	source.setSnap(refreshed)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, sink.count("BTC/USDT@orderbook"))
}

func TestForceRebroadcastBypassesSuppression(t *testing.T) {
	sink := newFakeSink()
	m := newTestMux(t, &fakeSource{snap: staticBook()}, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}))
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") == 1
	}, time.Second, 5*time.Millisecond)

	m.ForceRebroadcast("BTC/USDT")

	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestForceRebroadcastUnknownSymbolIsNoop(t *testing.T) {
	sink := newFakeSink()
	m := newTestMux(t, &fakeSource{snap: staticBook()}, sink, allTradable{})
	m.ForceRebroadcast("BTC/USDT")
	assert.Empty(t, m.ActiveSymbols())
}

func TestTickerChangeDetection(t *testing.T) {
	source := &fakeSource{snap: staticBook(), ticker: &models.Ticker{Symbol: "BTC/USDT", Last: dec("50000")}}
	sink := newFakeSink()
	m := newTestMux(t, source, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamTicker, Symbol: "BTC/USDT"}))
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@ticker") == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sink.count("BTC/USDT@ticker"))

	source.setTicker(&models.Ticker{Symbol: "BTC/USDT", Last: dec("50100")})
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@ticker") == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEmptyTradesNotBroadcast(t *testing.T) {
	source := &fakeSource{snap: staticBook()}
	sink := newFakeSink()
	m := newTestMux(t, source, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamTrades, Symbol: "BTC/USDT"}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sink.count("BTC/USDT@trades"))
}

func TestSharedFeedRefCounting(t *testing.T) {
	sink := newFakeSink()
	m := newTestMux(t, &fakeSource{snap: staticBook()}, sink, allTradable{})

	sub := Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}
	require.True(t, m.Subscribe(sub))
	require.True(t, m.Subscribe(sub))

	// Two subscribers share one poll loop.
	assert.Equal(t, []string{"BTC/USDT"}, m.ActiveSymbols())

	m.Unsubscribe(sub)
	assert.Equal(t, []string{"BTC/USDT"}, m.ActiveSymbols(), "loop survives while a subscriber remains")

	m.Unsubscribe(sub)
	assert.Empty(t, m.ActiveSymbols(), "last unsubscribe tears the loop down")
}

func TestDistinctDepthsAreDistinctStreams(t *testing.T) {
	sink := newFakeSink()
	m := newTestMux(t, &fakeSource{snap: staticBook()}, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT", Limit: 5}))
	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT", Limit: 10}))

	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook:5") >= 1 && sink.count("BTC/USDT@orderbook:10") >= 1
	}, time.Second, 5*time.Millisecond)

	m.Unsubscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT", Limit: 5})
	assert.Equal(t, []string{"BTC/USDT"}, m.ActiveSymbols())
}

func TestStreamErrorDoesNotAffectOthers(t *testing.T) {
	source := &fakeSource{
		err:    errors.New("book backend down"),
		ticker: &models.Ticker{Symbol: "BTC/USDT", Last: dec("50000")},
	}
	sink := newFakeSink()
	m := newTestMux(t, source, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}))
	require.True(t, m.Subscribe(Subscription{Type: StreamTicker, Symbol: "BTC/USDT"}))

	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@ticker") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sink.count("BTC/USDT@orderbook"))
}

func TestOrderOpenedTriggersRebroadcast(t *testing.T) {
	sink := newFakeSink()
	m := newTestMux(t, &fakeSource{snap: staticBook()}, sink, allTradable{})

	require.True(t, m.Subscribe(Subscription{Type: StreamOrderbook, Symbol: "BTC/USDT"}))
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") == 1
	}, time.Second, 5*time.Millisecond)

	m.OrderOpened("BTC/USDT")
	require.Eventually(t, func() bool {
		return sink.count("BTC/USDT@orderbook") >= 2
	}, time.Second, 5*time.Millisecond)
}
