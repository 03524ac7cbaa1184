// Package orders implements order intake: validation, pricing, wallet
// reservation, persistence and the compensating rollback that keeps the
// order store and wallet reservations consistent.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantaex/core/internal/pricing"
	"github.com/quantaex/core/internal/wallet"
	"github.com/quantaex/core/pkg/models"
)

// Broadcaster is notified after an order is accepted so the market data
// layer can re-broadcast the affected symbol without waiting for the next
// poll tick. Best-effort; implementations must not block for long.
type Broadcaster interface {
	OrderOpened(symbol string)
}

// CopyTradeQueue fans accepted orders out to the copy-trading pipeline.
// Best-effort; a failed enqueue never fails the order.
type CopyTradeQueue interface {
	Enqueue(ctx context.Context, order *models.Order) error
}

// Service orchestrates order intake. Each request moves through
// validation, pricing, wallet check, persistence and wallet debit; a debit
// failure after the order exists triggers the compensating rollback.
type Service struct {
	logger    *zap.Logger
	validator *Validator
	store     OrderStore
	book      BookSource
	wallets   wallet.Service
	feeds     Broadcaster
	copyTrade CopyTradeQueue
	bookDepth int

	// Wallet check and self-trade check are read-then-act; serializing
	// per user closes the double-submission race between them and the
	// debit.
	userMu sync.Mutex
	users  map[uuid.UUID]*sync.Mutex
}

// NewService creates a new order intake service. feeds and copyTrade are
// optional; nil disables the corresponding best-effort trigger.
func NewService(logger *zap.Logger, validator *Validator, store OrderStore, book BookSource, wallets wallet.Service, feeds Broadcaster, copyTrade CopyTradeQueue) *Service {
	return &Service{
		logger:    logger,
		validator: validator,
		store:     store,
		book:      book,
		wallets:   wallets,
		feeds:     feeds,
		copyTrade: copyTrade,
		bookDepth: 50,
		users:     make(map[uuid.UUID]*sync.Mutex),
	}
}

// PlaceOrder validates, prices and persists an order, reserving the
// spending currency in the user's wallet. On success the order is OPEN and
// the reservation covers it; on any error nothing observable remains.
//
// Retried requests are not deduplicated here; idempotency keys are the API
// layer's concern.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, req *models.OrderRequest) (*models.Order, error) {
	// Validating
	if err := s.validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	pair, err := s.validator.Market(req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CheckAmount(req, pair); err != nil {
		return nil, err
	}

	// Pricing, against the book at submission time.
	book, err := s.book.GetOrderBook(ctx, req.Symbol, s.bookDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order book: %w", err)
	}
	quote, err := pricing.Price(req, pair, book)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CheckQuote(req, pair, quote); err != nil {
		return nil, err
	}
	if err := s.validator.CheckSelfTrade(ctx, userID, req.Symbol, req.Side, quote.EffectivePrice); err != nil {
		return nil, err
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	// WalletChecking
	spendCurrency, spendAmount := spendLeg(req, pair, quote)
	w, err := s.wallets.GetWallet(ctx, userID, spendCurrency)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, &InsufficientBalanceError{Currency: spendCurrency, Required: spendAmount}
		}
		return nil, fmt.Errorf("failed to read wallet: %w", err)
	}
	if w.Spendable().LessThan(spendAmount) {
		return nil, &InsufficientBalanceError{
			Currency:  spendCurrency,
			Required:  spendAmount,
			Spendable: w.Spendable(),
		}
	}

	// Persisting: the order record exists before the wallet is touched.
	now := time.Now().UTC()
	order := &models.Order{
		ID:          uuid.New(),
		UserID:      userID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Amount:      req.Amount.Round(*pair.AmountPrecision),
		Price:       quote.EffectivePrice,
		Cost:        quote.Cost,
		Fee:         quote.Fee,
		FeeCurrency: pair.QuoteCurrency,
		Taker:       quote.Taker,
		Status:      models.OrderStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	// WalletDebiting, with compensating rollback on failure. The caller
	// must never observe a persisted order without its reservation.
	if err := s.wallets.Reserve(ctx, userID, spendCurrency, spendAmount); err != nil {
		werr := &WalletUpdateFailedError{OrderID: order.ID.String(), Cause: err}
		if rbErr := s.store.RollbackOrderCreation(ctx, order.ID, userID, order.CreatedAt); rbErr != nil {
			// No safe local recovery: an order now exists with no
			// backing reservation.
			werr.RollbackErr = rbErr
			s.logger.Error("data-integrity incident: order rollback failed after wallet debit failure",
				zap.String("order_id", order.ID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(rbErr))
		}
		return nil, werr
	}

	// Broadcasting: best-effort, never rolls the order back.
	if s.feeds != nil {
		s.feeds.OrderOpened(order.Symbol)
	}
	if s.copyTrade != nil {
		if err := s.copyTrade.Enqueue(ctx, order); err != nil {
			s.logger.Warn("copy-trade fan-out failed",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}

	s.logger.Info("order accepted",
		zap.String("order_id", order.ID.String()),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("type", order.Type),
		zap.Bool("taker", order.Taker))
	return order, nil
}

// GetOrders returns the user's orders, newest first.
func (s *Service) GetOrders(ctx context.Context, userID uuid.UUID, symbol string, limit, offset int) ([]*models.Order, error) {
	return s.store.GetOrders(ctx, userID, symbol, limit, offset)
}

// spendLeg returns the currency and amount the order reserves: quote cost
// for a BUY, the base amount for a SELL.
func spendLeg(req *models.OrderRequest, pair *models.TradingPair, q pricing.Quote) (string, decimal.Decimal) {
	if req.Side == models.OrderSideBuy {
		return pair.QuoteCurrency, q.Cost
	}
	return pair.BaseCurrency, req.Amount
}

func (s *Service) userLock(userID uuid.UUID) *sync.Mutex {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	mu, ok := s.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.users[userID] = mu
	}
	return mu
}
