package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaex/core/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func i32(v int32) *int32 { return &v }

func btcUsdt() *models.TradingPair {
	return &models.TradingPair{
		Symbol:          "BTC/USDT",
		BaseCurrency:    "BTC",
		QuoteCurrency:   "USDT",
		AmountPrecision: i32(6),
		PricePrecision:  i32(2),
		MakerFeeRate:    decimal.NullDecimal{Valid: true, Decimal: dec("0.1")},
		TakerFeeRate:    decimal.NullDecimal{Valid: true, Decimal: dec("0.2")},
	}
}

func book(bestAsk, bestBid string) *models.OrderBookSnapshot {
	snap := &models.OrderBookSnapshot{Symbol: "BTC/USDT"}
	if bestAsk != "" {
		snap.Asks = []models.OrderBookLevel{{Price: dec(bestAsk), Amount: dec("1")}}
	}
	if bestBid != "" {
		snap.Bids = []models.OrderBookLevel{{Price: dec(bestBid), Amount: dec("1")}}
	}
	return snap
}

func TestPriceMarketBuyTakerFee(t *testing.T) {
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeMarket,
		Amount: dec("0.01"),
	}

	q, err := Price(req, btcUsdt(), book("50000", "49990"))
	require.NoError(t, err)

	assert.True(t, q.Taker)
	assert.True(t, q.EffectivePrice.Equal(dec("50000")), "effective price %s", q.EffectivePrice)
	// 0.01 * 50000 * 0.2% = 1.00
	assert.True(t, q.Fee.Equal(dec("1.00")), "fee %s", q.Fee)
	// 0.01 * 50000 + 1.00 = 501.00
	assert.True(t, q.Cost.Equal(dec("501.00")), "cost %s", q.Cost)
}

func TestPriceMarketSellUsesBestBid(t *testing.T) {
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideSell,
		Type:   models.OrderTypeMarket,
		Amount: dec("0.5"),
	}

	q, err := Price(req, btcUsdt(), book("50000", "49990"))
	require.NoError(t, err)

	assert.True(t, q.Taker)
	assert.True(t, q.EffectivePrice.Equal(dec("49990")))
	// A sell reserves only the base amount.
	assert.True(t, q.Cost.Equal(dec("0.5")), "cost %s", q.Cost)
}

func TestPriceMarketOrderNoLiquidity(t *testing.T) {
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeMarket,
		Amount: dec("1"),
	}

	_, err := Price(req, btcUsdt(), book("", "49990"))
	assert.ErrorIs(t, err, ErrNoLiquidity)
}

func TestPriceLimitMakerTakerBoundary(t *testing.T) {
	tests := []struct {
		name  string
		side  string
		price string
		taker bool
	}{
		{"buy below ask rests", models.OrderSideBuy, "49999", false},
		{"buy at ask crosses", models.OrderSideBuy, "50000", true},
		{"buy above ask crosses", models.OrderSideBuy, "50100", true},
		{"sell above bid rests", models.OrderSideSell, "49991", false},
		{"sell at bid crosses", models.OrderSideSell, "49990", true},
		{"sell below bid crosses", models.OrderSideSell, "49000", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &models.OrderRequest{
				Symbol: "BTC/USDT",
				Side:   tt.side,
				Type:   models.OrderTypeLimit,
				Amount: dec("0.01"),
				Price:  dec(tt.price),
			}
			q, err := Price(req, btcUsdt(), book("50000", "49990"))
			require.NoError(t, err)
			assert.Equal(t, tt.taker, q.Taker)
			assert.True(t, q.EffectivePrice.Equal(dec(tt.price)))
		})
	}
}

func TestPriceLimitMakerFeeApplied(t *testing.T) {
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeLimit,
		Amount: dec("0.01"),
		Price:  dec("49000"),
	}

	q, err := Price(req, btcUsdt(), book("50000", "49990"))
	require.NoError(t, err)

	assert.False(t, q.Taker)
	assert.True(t, q.FeeRate.Equal(dec("0.1")))
	// 0.01 * 49000 * 0.1% = 0.49
	assert.True(t, q.Fee.Equal(dec("0.49")), "fee %s", q.Fee)
	assert.True(t, q.Cost.Equal(dec("490.49")), "cost %s", q.Cost)
}

func TestPriceLimitAgainstEmptyBookIsMaker(t *testing.T) {
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeLimit,
		Amount: dec("1"),
		Price:  dec("50000"),
	}

	q, err := Price(req, btcUsdt(), &models.OrderBookSnapshot{Symbol: "BTC/USDT"})
	require.NoError(t, err)
	assert.False(t, q.Taker)
}

func TestPriceLimitNonPositivePrice(t *testing.T) {
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideSell,
		Type:   models.OrderTypeLimit,
		Amount: dec("1"),
		Price:  dec("0"),
	}

	_, err := Price(req, btcUsdt(), book("50000", "49990"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestPriceFeeRoundedToPricePrecision(t *testing.T) {
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeLimit,
		Amount: dec("0.003"),
		Price:  dec("41111.11"),
	}

	q, err := Price(req, btcUsdt(), book("50000", "49990"))
	require.NoError(t, err)

	// 0.003 * 41111.11 * 0.1% = 0.12333333 -> 0.12 at 2 decimals.
	assert.True(t, q.Fee.Equal(dec("0.12")), "fee %s", q.Fee)
	// 123.33333 + 0.12 = 123.45333 -> 123.45; cost is re-rounded, never
	// carried at full precision.
	assert.True(t, q.Cost.Equal(dec("123.45")), "cost %s", q.Cost)
}

func TestPriceNegativeFeeRateRejected(t *testing.T) {
	pair := btcUsdt()
	pair.TakerFeeRate = decimal.NullDecimal{Valid: true, Decimal: dec("-0.1")}
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeMarket,
		Amount: dec("1"),
	}

	_, err := Price(req, pair, book("50000", "49990"))
	assert.ErrorIs(t, err, ErrInvalidFeeRate)
}

func TestPriceZeroFeeRateIsValid(t *testing.T) {
	pair := btcUsdt()
	pair.TakerFeeRate = decimal.NullDecimal{Valid: true, Decimal: decimal.Zero}
	req := &models.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeMarket,
		Amount: dec("0.01"),
	}

	q, err := Price(req, pair, book("50000", "49990"))
	require.NoError(t, err)
	assert.True(t, q.Fee.IsZero())
	assert.True(t, q.Cost.Equal(dec("500.00")), "cost %s", q.Cost)
}
