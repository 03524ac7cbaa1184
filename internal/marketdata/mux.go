// Package marketdata distributes order book, trade, ticker and candle
// state to WebSocket subscribers. A multiplexer runs one poll loop per
// subscribed symbol, suppresses unchanged payloads, and fans deltas out
// through the hub (and optionally a pub/sub mirror for other nodes).
package marketdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantaex/core/pkg/models"
)

// Stream types accepted on the subscription protocol.
const (
	StreamOrderbook = "orderbook"
	StreamTrades    = "trades"
	StreamTicker    = "ticker"
	StreamOHLCV     = "ohlcv"
)

// Source is the read surface of the matching/storage collaborators the
// multiplexer polls.
type Source interface {
	GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error)
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error)
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
}

// Sink receives the frames that survive change-suppression. It must be
// safe for concurrent use by multiple symbol pollers.
type Sink interface {
	Broadcast(symbol, stream string, data interface{})
}

// MarketChecker validates that a symbol maps to an enabled market.
type MarketChecker interface {
	Tradable(symbol string) bool
}

// Subscription describes one requested stream on one symbol.
type Subscription struct {
	Type     string
	Symbol   string
	Limit    int
	Interval string
}

// StreamKey returns the stream identifier used in outbound frames.
// Order book subscriptions with an explicit depth get their own key so
// different depths are distinguished.
func (s Subscription) StreamKey() string {
	if s.Type == StreamOrderbook && s.Limit > 0 {
		return s.Type + ":" + strconv.Itoa(s.Limit)
	}
	return s.Type
}

// Options tunes the multiplexer.
type Options struct {
	PollInterval time.Duration
	TradeLimit   int
	CandleLimit  int
	DefaultDepth int
}

func (o *Options) fill() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.TradeLimit <= 0 {
		o.TradeLimit = 50
	}
	if o.CandleLimit <= 0 {
		o.CandleLimit = 100
	}
	if o.DefaultDepth <= 0 {
		o.DefaultDepth = 50
	}
}

type entry struct {
	sub  Subscription
	refs int
}

type feed struct {
	symbol  string
	entries map[string]*entry
	stop    chan struct{}
	kick    chan struct{}
	done    chan struct{}

	// Change-suppression caches; guarded by the mux lock because both the
	// poller and the request path (subscribe, force re-broadcast) touch
	// them.
	lastTicker   *models.Ticker
	lastBookHash map[string]string
}

// Mux is the per-symbol subscription multiplexer. It is constructed and
// owned explicitly by whoever hosts the subscription handler; there is no
// package-level instance.
type Mux struct {
	logger  *zap.Logger
	source  Source
	sink    Sink
	mirror  PubSubBackend
	markets MarketChecker
	opts    Options

	mu    sync.Mutex
	feeds map[string]*feed
}

// NewMux creates a new market data multiplexer. mirror is optional.
func NewMux(logger *zap.Logger, source Source, sink Sink, markets MarketChecker, mirror PubSubBackend, opts Options) *Mux {
	opts.fill()
	return &Mux{
		logger:  logger,
		source:  source,
		sink:    sink,
		mirror:  mirror,
		markets: markets,
		opts:    opts,
		feeds:   make(map[string]*feed),
	}
}

// Subscribe registers a stream subscription. Unknown or disabled symbols
// are dropped with a warning: the request arrives over an asynchronous
// message, so there is no caller to return an error to. The symbol's poll
// loop starts with the first subscription and fetches immediately so the
// subscriber does not wait a full interval for its first data. The return
// value reports whether the subscription was registered.
func (m *Mux) Subscribe(sub Subscription) bool {
	if !m.markets.Tradable(sub.Symbol) {
		m.logger.Warn("subscription rejected: unknown or disabled symbol", zap.String("symbol", sub.Symbol))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[sub.Symbol]
	if !ok {
		f = &feed{
			symbol:       sub.Symbol,
			entries:      make(map[string]*entry),
			stop:         make(chan struct{}),
			kick:         make(chan struct{}, 1),
			done:         make(chan struct{}),
			lastBookHash: make(map[string]string),
		}
		m.feeds[sub.Symbol] = f
		go m.run(f)
	}

	key := sub.StreamKey()
	if e, ok := f.entries[key]; ok {
		e.refs++
	} else {
		f.entries[key] = &entry{sub: sub, refs: 1}
	}
	return true
}

// Unsubscribe drops one reference to a stream subscription. When the last
// stream on a symbol goes away, the poll loop is stopped and all cached
// state for the symbol is discarded. An in-flight tick is allowed to
// finish; it will find nothing registered and broadcast nothing new.
func (m *Mux) Unsubscribe(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[sub.Symbol]
	if !ok {
		return
	}
	key := sub.StreamKey()
	e, ok := f.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(f.entries, key)
	if len(f.entries) == 0 {
		close(f.stop)
		delete(m.feeds, sub.Symbol)
	}
}

// ForceRebroadcast clears the symbol's change-suppression caches and
// triggers one immediate unconditional fetch-and-broadcast. Used after an
// operation known to have changed the book.
func (m *Mux) ForceRebroadcast(symbol string) {
	m.mu.Lock()
	f, ok := m.feeds[symbol]
	if ok {
		f.lastTicker = nil
		f.lastBookHash = make(map[string]string)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case f.kick <- struct{}{}:
	default:
		// A forced refresh is already pending.
	}
}

// OrderOpened implements the intake service's broadcast trigger.
func (m *Mux) OrderOpened(symbol string) {
	m.ForceRebroadcast(symbol)
}

// Stop tears down every poll loop and waits for them to exit.
func (m *Mux) Stop() {
	m.mu.Lock()
	feeds := make([]*feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		close(f.stop)
		feeds = append(feeds, f)
	}
	m.feeds = make(map[string]*feed)
	m.mu.Unlock()

	for _, f := range feeds {
		<-f.done
	}
}

// ActiveSymbols returns the symbols with a running poll loop.
func (m *Mux) ActiveSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.feeds))
	for s := range m.feeds {
		out = append(out, s)
	}
	return out
}

func (m *Mux) run(f *feed) {
	defer close(f.done)
	m.fetchAndBroadcast(f, true)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-f.kick:
			m.fetchAndBroadcast(f, true)
		case <-ticker.C:
			m.fetchAndBroadcast(f, false)
		}
	}
}

// fetchAndBroadcast runs one poll tick. The registered stream types are
// fetched concurrently and joined before the tick completes; one stream's
// failure never blocks or fails the others.
func (m *Mux) fetchAndBroadcast(f *feed, initial bool) {
	m.mu.Lock()
	subs := make([]Subscription, 0, len(f.entries))
	for _, e := range f.entries {
		subs = append(subs, e.sub)
	}
	m.mu.Unlock()

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			if err := m.pollStream(ctx, f, sub, initial); err != nil {
				PollErrors.WithLabelValues(sub.Type).Inc()
				m.logger.Warn("market data fetch failed",
					zap.String("symbol", sub.Symbol),
					zap.String("stream", sub.Type),
					zap.Error(err))
			}
		}(sub)
	}
	wg.Wait()
}

func (m *Mux) pollStream(ctx context.Context, f *feed, sub Subscription, initial bool) error {
	key := sub.StreamKey()
	switch sub.Type {
	case StreamOrderbook:
		depth := sub.Limit
		if depth <= 0 {
			depth = m.opts.DefaultDepth
		}
		snap, err := m.source.GetOrderBook(ctx, sub.Symbol, depth)
		if err != nil {
			return err
		}
		hash, err := snapshotHash(snap)
		if err != nil {
			return err
		}
		m.mu.Lock()
		changed := initial || f.lastBookHash[key] != hash
		if changed {
			f.lastBookHash[key] = hash
		}
		m.mu.Unlock()
		if !changed {
			SuppressedCounter.WithLabelValues(sub.Type).Inc()
			return nil
		}
		m.broadcast(ctx, sub.Symbol, key, snap)

	case StreamTicker:
		t, err := m.source.GetTicker(ctx, sub.Symbol)
		if err != nil {
			return err
		}
		m.mu.Lock()
		changed := initial || !f.lastTicker.Equal(t)
		if changed {
			f.lastTicker = t
		}
		m.mu.Unlock()
		if !changed {
			SuppressedCounter.WithLabelValues(sub.Type).Inc()
			return nil
		}
		m.broadcast(ctx, sub.Symbol, key, t)

	case StreamTrades:
		limit := sub.Limit
		if limit <= 0 {
			limit = m.opts.TradeLimit
		}
		trades, err := m.source.GetRecentTrades(ctx, sub.Symbol, limit)
		if err != nil {
			return err
		}
		// No diffing: every non-empty fetch is sent, consumers dedupe by
		// trade id if they need to.
		if len(trades) == 0 {
			return nil
		}
		m.broadcast(ctx, sub.Symbol, key, trades)

	case StreamOHLCV:
		interval := sub.Interval
		if interval == "" {
			interval = "1m"
		}
		limit := sub.Limit
		if limit <= 0 {
			limit = m.opts.CandleLimit
		}
		candles, err := m.source.GetOHLCV(ctx, sub.Symbol, interval, limit)
		if err != nil {
			return err
		}
		if len(candles) == 0 {
			return nil
		}
		m.broadcast(ctx, sub.Symbol, key, candles)

	default:
		return fmt.Errorf("unknown stream type %q", sub.Type)
	}
	return nil
}

func (m *Mux) broadcast(ctx context.Context, symbol, stream string, data interface{}) {
	m.sink.Broadcast(symbol, stream, data)
	if m.mirror != nil {
		frame := Frame{Stream: stream, Symbol: symbol, Data: data}
		if err := m.mirror.Publish(ctx, Topic(symbol, stream), frame); err != nil {
			m.logger.Warn("pub/sub mirror publish failed",
				zap.String("symbol", symbol), zap.String("stream", stream), zap.Error(err))
		}
	}
}

// snapshotHash hashes the serialized snapshot; broadcasts are suppressed
// while consecutive polls produce the same bytes.
func snapshotHash(snap *models.OrderBookSnapshot) (string, error) {
	// UpdateTime changes every poll even when the levels do not, so hash
	// only the sides.
	payload := struct {
		Asks []models.OrderBookLevel `json:"asks"`
		Bids []models.OrderBookLevel `json:"bids"`
	}{Asks: snap.Asks, Bids: snap.Bids}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
