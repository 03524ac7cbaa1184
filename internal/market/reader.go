package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantaex/core/pkg/models"
)

// Redis key prefixes for engine-published market state.
const (
	orderBookKeyPrefix = "marketdata:orderbook:"
	tickerKeyPrefix    = "marketdata:ticker:"
)

// Reader serves order book, trade, ticker and candle reads. The matching
// engine publishes book and ticker snapshots to Redis; when Redis is not
// configured (or a key is missing) the reader reconstructs state from the
// database so single-node deployments and tests work without it.
type Reader struct {
	logger *zap.Logger
	db     *gorm.DB
	rdb    *redis.Client
}

// NewReader creates a new market data reader. rdb may be nil.
func NewReader(logger *zap.Logger, db *gorm.DB, rdb *redis.Client) *Reader {
	return &Reader{logger: logger, db: db, rdb: rdb}
}

// GetOrderBook returns the aggregated book for symbol, at most depth
// levels per side, best price first.
func (r *Reader) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}
	if r.rdb != nil {
		data, err := r.rdb.Get(ctx, orderBookKeyPrefix+symbol).Bytes()
		if err == nil {
			var snap models.OrderBookSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return nil, fmt.Errorf("failed to decode order book snapshot: %w", err)
			}
			truncateBook(&snap, depth)
			return &snap, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to read order book snapshot: %w", err)
		}
	}
	return r.bookFromOrders(ctx, symbol, depth)
}

// bookFromOrders aggregates resting limit orders into price levels.
func (r *Reader) bookFromOrders(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error) {
	var orders []*models.Order
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND type = ? AND status IN ?", symbol, models.OrderTypeLimit,
			[]string{models.OrderStatusOpen, models.OrderStatusPartiallyFilled}).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load open orders: %w", err)
	}

	asks := make(map[string]*models.OrderBookLevel)
	bids := make(map[string]*models.OrderBookLevel)
	for _, o := range orders {
		side := bids
		if o.Side == models.OrderSideSell {
			side = asks
		}
		key := o.Price.String()
		if lvl, ok := side[key]; ok {
			lvl.Amount = lvl.Amount.Add(o.Amount)
		} else {
			side[key] = &models.OrderBookLevel{Price: o.Price, Amount: o.Amount}
		}
	}

	snap := &models.OrderBookSnapshot{
		Symbol:     symbol,
		Asks:       sortLevels(asks, true),
		Bids:       sortLevels(bids, false),
		UpdateTime: time.Now().UTC(),
	}
	truncateBook(snap, depth)
	return snap, nil
}

func sortLevels(levels map[string]*models.OrderBookLevel, ascending bool) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Price.GreaterThan(out[j].Price)
	})
	return out
}

func truncateBook(snap *models.OrderBookSnapshot, depth int) {
	if len(snap.Asks) > depth {
		snap.Asks = snap.Asks[:depth]
	}
	if len(snap.Bids) > depth {
		snap.Bids = snap.Bids[:depth]
	}
}

// GetRecentTrades returns the most recent trades for symbol, newest first.
func (r *Reader) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var trades []*models.Trade
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return trades, nil
}

// GetTicker returns the 24h market summary for symbol. The engine's Redis
// snapshot is preferred; otherwise the summary is computed from trades.
func (r *Reader) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	if r.rdb != nil {
		data, err := r.rdb.Get(ctx, tickerKeyPrefix+symbol).Bytes()
		if err == nil {
			var t models.Ticker
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, fmt.Errorf("failed to decode ticker: %w", err)
			}
			return &t, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to read ticker: %w", err)
		}
	}
	return r.tickerFromTrades(ctx, symbol)
}

func (r *Reader) tickerFromTrades(ctx context.Context, symbol string) (*models.Ticker, error) {
	since := time.Now().Add(-24 * time.Hour)
	var trades []*models.Trade
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND created_at >= ?", symbol, since).
		Order("created_at ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	t := &models.Ticker{Symbol: symbol, UpdatedAt: time.Now().UTC()}
	if len(trades) == 0 {
		return t, nil
	}

	first := trades[0].Price
	for _, tr := range trades {
		t.BaseVolume = t.BaseVolume.Add(tr.Amount)
		t.QuoteVolume = t.QuoteVolume.Add(tr.Amount.Mul(tr.Price))
	}
	t.Last = trades[len(trades)-1].Price
	if first.IsPositive() {
		t.Change = t.Last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return t, nil
}

// Candle intervals accepted by GetOHLCV.
var candleIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// GetOHLCV buckets recent trades into at most limit candles of the given
// interval, oldest first. Buckets with no trades are omitted.
func (r *Reader) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	dur, ok := candleIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported candle interval %q", interval)
	}
	if limit <= 0 {
		limit = 100
	}

	since := time.Now().Add(-time.Duration(limit) * dur)
	var trades []*models.Trade
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND created_at >= ?", symbol, since).
		Order("created_at ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	var candles []*models.Candle
	var current *models.Candle
	for _, tr := range trades {
		bucket := tr.CreatedAt.Truncate(dur)
		if current == nil || !current.Timestamp.Equal(bucket) {
			current = &models.Candle{
				Timestamp: bucket,
				Open:      tr.Price,
				High:      tr.Price,
				Low:       tr.Price,
			}
			candles = append(candles, current)
		}
		if tr.Price.GreaterThan(current.High) {
			current.High = tr.Price
		}
		if tr.Price.LessThan(current.Low) {
			current.Low = tr.Price
		}
		current.Close = tr.Price
		current.Volume = current.Volume.Add(tr.Amount)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}
