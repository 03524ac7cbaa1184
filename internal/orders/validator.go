package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantaex/core/internal/market"
	"github.com/quantaex/core/internal/pricing"
	"github.com/quantaex/core/pkg/models"
)

// Validator enforces request shape, market limits and self-trade
// prevention. It only reads: open-order lookups go through the order store,
// market metadata through the registry.
type Validator struct {
	logger   *zap.Logger
	registry *market.Registry
	store    OrderStore
}

// NewValidator creates a new order validator
func NewValidator(logger *zap.Logger, registry *market.Registry, store OrderStore) *Validator {
	return &Validator{logger: logger, registry: registry, store: store}
}

// ValidateRequest rejects structurally invalid requests before any side
// effect or collaborator read.
func (v *Validator) ValidateRequest(req *models.OrderRequest) error {
	if !validSymbol(req.Symbol) {
		return &ValidationError{Field: "symbol", Reason: "must be BASE/QUOTE"}
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if req.Type != models.OrderTypeLimit && req.Type != models.OrderTypeMarket {
		return &ValidationError{Field: "type", Reason: "must be LIMIT or MARKET"}
	}
	if !req.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}

// Market resolves the symbol to a tradable market.
func (v *Validator) Market(symbol string) (*models.TradingPair, error) {
	pair, ok := v.registry.Get(symbol)
	if !ok {
		return nil, ErrMarketNotFound
	}
	if !pair.Enabled {
		return nil, ErrMarketDisabled
	}
	if !pair.MetadataComplete() {
		return nil, ErrMarketMetadataIncomplete
	}
	return pair, nil
}

// CheckAmount enforces the market's amount bounds. Both sides reject an
// amount below the minimum; only SELL enforces the maximum. The asymmetry
// is intentional and must not be "fixed" here.
func (v *Validator) CheckAmount(req *models.OrderRequest, pair *models.TradingPair) error {
	if pair.MinAmount.IsPositive() && req.Amount.LessThan(pair.MinAmount) {
		return &LimitError{Field: "amount", Bound: "min", Limit: pair.MinAmount, Value: req.Amount}
	}
	if req.Side == models.OrderSideSell && pair.MaxAmount.IsPositive() && req.Amount.GreaterThan(pair.MaxAmount) {
		return &LimitError{Field: "amount", Bound: "max", Limit: pair.MaxAmount, Value: req.Amount}
	}
	return nil
}

// CheckQuote enforces price bounds on the resolved effective price and, for
// BUY orders, the cost bounds. SELL cost is the amount itself and is
// already covered by CheckAmount.
func (v *Validator) CheckQuote(req *models.OrderRequest, pair *models.TradingPair, q pricing.Quote) error {
	if pair.MinPrice.IsPositive() && q.EffectivePrice.LessThan(pair.MinPrice) {
		return &LimitError{Field: "price", Bound: "min", Limit: pair.MinPrice, Value: q.EffectivePrice}
	}
	if pair.MaxPrice.IsPositive() && q.EffectivePrice.GreaterThan(pair.MaxPrice) {
		return &LimitError{Field: "price", Bound: "max", Limit: pair.MaxPrice, Value: q.EffectivePrice}
	}
	if req.Side == models.OrderSideBuy {
		if pair.MinCost.IsPositive() && q.Cost.LessThan(pair.MinCost) {
			return &LimitError{Field: "cost", Bound: "min", Limit: pair.MinCost, Value: q.Cost}
		}
		if pair.MaxCost.IsPositive() && q.Cost.GreaterThan(pair.MaxCost) {
			return &LimitError{Field: "cost", Bound: "max", Limit: pair.MaxCost, Value: q.Cost}
		}
	}
	return nil
}

// CheckSelfTrade rejects an order that would immediately cross one of the
// user's own resting orders on the same symbol. This is a hard reject, not
// a silent self-cancel; the conflicting price travels with the error.
func (v *Validator) CheckSelfTrade(ctx context.Context, userID uuid.UUID, symbol, side string, price decimal.Decimal) error {
	open, err := v.store.GetOpenOrders(ctx, userID, symbol)
	if err != nil {
		return err
	}
	for _, o := range open {
		switch side {
		case models.OrderSideSell:
			// A resting BUY at or above the new SELL price would match it.
			if o.Side == models.OrderSideBuy && o.Price.GreaterThanOrEqual(price) {
				return &SelfMatchError{ConflictingPrice: o.Price}
			}
		case models.OrderSideBuy:
			// A resting SELL at or below the new BUY price would match it.
			if o.Side == models.OrderSideSell && o.Price.LessThanOrEqual(price) {
				return &SelfMatchError{ConflictingPrice: o.Price}
			}
		}
	}
	return nil
}

func validSymbol(symbol string) bool {
	base, quote, ok := strings.Cut(symbol, "/")
	return ok && base != "" && quote != "" && !strings.Contains(quote, "/")
}
