// Package pricing resolves the effective price, maker/taker classification,
// fee and total cost of an order against a point-in-time order book. It is
// pure computation; callers supply the market metadata and book snapshot.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantaex/core/pkg/models"
)

var (
	// ErrNoLiquidity is returned for a market order when the opposing side
	// of the book is empty.
	ErrNoLiquidity = errors.New("pricing: no liquidity on opposing side")
	// ErrInvalidPrice is returned for a limit order with a non-positive price.
	ErrInvalidPrice = errors.New("pricing: limit price must be positive")
	// ErrInvalidFeeRate is returned when the resolved fee rate is negative.
	ErrInvalidFeeRate = errors.New("pricing: fee rate is negative")
)

var oneHundred = decimal.NewFromInt(100)

// Quote is the priced form of an order request.
type Quote struct {
	EffectivePrice decimal.Decimal
	Taker          bool
	FeeRate        decimal.Decimal
	Fee            decimal.Decimal
	Cost           decimal.Decimal
}

// Price resolves the effective price, taker flag, fee and cost for req.
//
// Market orders take the best opposing price. Limit orders use the
// submitted price, but the taker flag is still decided against the book at
// submission time: a limit buy at or above the best ask (or a limit sell at
// or below the best bid) crosses the spread and is economically a taker.
func Price(req *models.OrderRequest, market *models.TradingPair, book *models.OrderBookSnapshot) (Quote, error) {
	var q Quote

	px, taker, err := effectivePrice(req, book)
	if err != nil {
		return q, err
	}

	rateCol := market.MakerFeeRate
	if taker {
		rateCol = market.TakerFeeRate
	}
	if !rateCol.Valid || rateCol.Decimal.IsNegative() {
		return q, ErrInvalidFeeRate
	}
	rate := rateCol.Decimal
	pricePrec := *market.PricePrecision

	// Fee and cost are re-rounded at each boundary so the settled amounts
	// cannot drift from what the fee formula displays.
	fee := req.Amount.Mul(px).Mul(rate).Div(oneHundred).Round(pricePrec)

	var cost decimal.Decimal
	if req.Side == models.OrderSideBuy {
		cost = req.Amount.Mul(px).Add(fee).Round(pricePrec)
	} else {
		// Sell proceeds carry the fee; the order itself only spends the
		// base amount.
		cost = req.Amount
	}

	q.EffectivePrice = px
	q.Taker = taker
	q.FeeRate = rate
	q.Fee = fee
	q.Cost = cost
	return q, nil
}

func effectivePrice(req *models.OrderRequest, book *models.OrderBookSnapshot) (decimal.Decimal, bool, error) {
	if req.Type == models.OrderTypeMarket {
		var best *models.OrderBookLevel
		if req.Side == models.OrderSideBuy {
			best = book.BestAsk()
		} else {
			best = book.BestBid()
		}
		if best == nil {
			return decimal.Zero, false, ErrNoLiquidity
		}
		return best.Price, true, nil
	}

	if !req.Price.IsPositive() {
		return decimal.Zero, false, ErrInvalidPrice
	}

	taker := false
	if req.Side == models.OrderSideBuy {
		if ask := book.BestAsk(); ask != nil && req.Price.GreaterThanOrEqual(ask.Price) {
			taker = true
		}
	} else {
		if bid := book.BestBid(); bid != nil && req.Price.LessThanOrEqual(bid.Price) {
			taker = true
		}
	}
	return req.Price, taker, nil
}
