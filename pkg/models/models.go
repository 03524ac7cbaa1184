package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides, types and statuses
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	OrderStatusOpen            = "OPEN"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
)

// Order represents an order in the system. Monetary fields are exact
// decimals; the numeric columns keep the decimal string representation so
// the persisted record never goes through binary floating point.
type Order struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID       `json:"user_id" gorm:"type:uuid;index:idx_orders_user_symbol"`
	Symbol      string          `json:"symbol" gorm:"index:idx_orders_user_symbol"`
	Side        string          `json:"side"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(36,18)"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(36,18)"`
	Cost        decimal.Decimal `json:"cost" gorm:"type:decimal(36,18)"`
	Fee         decimal.Decimal `json:"fee" gorm:"type:decimal(36,18)"`
	FeeCurrency string          `json:"fee_currency"`
	Taker       bool            `json:"taker"`
	Status      string          `json:"status" gorm:"index"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FilledAt    *time.Time      `json:"filled_at,omitempty"`
}

// IsOpen reports whether the order still rests on the book.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// Trade represents an executed trade.
type Trade struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OrderID     uuid.UUID       `json:"order_id" gorm:"type:uuid;index"`
	UserID      uuid.UUID       `json:"user_id" gorm:"type:uuid;index"`
	Symbol      string          `json:"symbol" gorm:"index"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(36,18)"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(36,18)"`
	Fee         decimal.Decimal `json:"fee" gorm:"type:decimal(36,18)"`
	FeeCurrency string          `json:"fee_currency"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TradingPair represents a market and the metadata the intake path needs:
// precision, maker/taker fee rates (percent) and order limits. Precision
// and fee columns are nullable; a market missing either is not tradable.
// A zero max bound means the bound is not enforced.
type TradingPair struct {
	ID              uuid.UUID           `json:"id" gorm:"primaryKey;type:uuid"`
	Symbol          string              `json:"symbol" gorm:"uniqueIndex"`
	BaseCurrency    string              `json:"base_currency"`
	QuoteCurrency   string              `json:"quote_currency"`
	AmountPrecision *int32              `json:"amount_precision"`
	PricePrecision  *int32              `json:"price_precision"`
	MakerFeeRate    decimal.NullDecimal `json:"maker_fee_rate" gorm:"type:decimal(12,6)"`
	TakerFeeRate    decimal.NullDecimal `json:"taker_fee_rate" gorm:"type:decimal(12,6)"`
	MinAmount       decimal.Decimal     `json:"min_amount" gorm:"type:decimal(36,18)"`
	MaxAmount       decimal.Decimal     `json:"max_amount" gorm:"type:decimal(36,18)"`
	MinPrice        decimal.Decimal     `json:"min_price" gorm:"type:decimal(36,18)"`
	MaxPrice        decimal.Decimal     `json:"max_price" gorm:"type:decimal(36,18)"`
	MinCost         decimal.Decimal     `json:"min_cost" gorm:"type:decimal(36,18)"`
	MaxCost         decimal.Decimal     `json:"max_cost" gorm:"type:decimal(36,18)"`
	Enabled         bool                `json:"enabled" gorm:"default:true"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// MetadataComplete reports whether the market carries the precision and
// fee metadata the intake path needs to price an order.
func (p *TradingPair) MetadataComplete() bool {
	return p.AmountPrecision != nil && p.PricePrecision != nil &&
		p.MakerFeeRate.Valid && p.TakerFeeRate.Valid
}

// Wallet represents a user's balance in one currency. InOrder is the amount
// reserved for open orders; Balance - InOrder must never go negative.
type Wallet struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_wallets_user_currency"`
	Currency  string          `json:"currency" gorm:"uniqueIndex:idx_wallets_user_currency"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(36,18)"`
	InOrder   decimal.Decimal `json:"in_order" gorm:"type:decimal(36,18)"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Spendable returns balance minus the amount already reserved.
func (w *Wallet) Spendable() decimal.Decimal {
	return w.Balance.Sub(w.InOrder)
}

// Ticker represents the current market summary for a symbol.
type Ticker struct {
	Symbol      string          `json:"symbol"`
	Last        decimal.Decimal `json:"last"`
	BaseVolume  decimal.Decimal `json:"base_volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Change      decimal.Decimal `json:"change"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Equal reports whether the fields subject to change-suppression match.
func (t *Ticker) Equal(o *Ticker) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Last.Equal(o.Last) &&
		t.BaseVolume.Equal(o.BaseVolume) &&
		t.QuoteVolume.Equal(o.QuoteVolume) &&
		t.Change.Equal(o.Change)
}

// Candle represents one OHLCV bucket.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OrderBookLevel is one price level of the book.
type OrderBookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBookSnapshot holds both sides of the book, best price first
// (asks ascending, bids descending).
type OrderBookSnapshot struct {
	Symbol     string           `json:"symbol"`
	Asks       []OrderBookLevel `json:"asks"`
	Bids       []OrderBookLevel `json:"bids"`
	UpdateTime time.Time        `json:"update_time"`
}

// BestAsk returns the lowest ask, or nil when that side is empty.
func (s *OrderBookSnapshot) BestAsk() *OrderBookLevel {
	if s == nil || len(s.Asks) == 0 {
		return nil
	}
	return &s.Asks[0]
}

// BestBid returns the highest bid, or nil when that side is empty.
func (s *OrderBookSnapshot) BestBid() *OrderBookLevel {
	if s == nil || len(s.Bids) == 0 {
		return nil
	}
	return &s.Bids[0]
}

// OrderRequest represents an inbound order placement request.
type OrderRequest struct {
	Symbol string          `json:"symbol" binding:"required,trading_pair"`
	Side   string          `json:"side" binding:"required,oneof=BUY SELL"`
	Type   string          `json:"type" binding:"required,oneof=LIMIT MARKET"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Price  decimal.Decimal `json:"price"`
}
