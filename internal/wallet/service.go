// Package wallet manages per-user, per-currency balances and the reserved
// (in-order) amounts backing open orders.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantaex/core/pkg/models"
)

var (
	ErrWalletNotFound    = errors.New("wallet: not found")
	ErrInsufficientFunds = errors.New("wallet: insufficient spendable funds")
	ErrNothingReserved   = errors.New("wallet: release exceeds reserved amount")
)

// Service defines wallet operations. Every mutation preserves
// balance - in_order >= 0.
type Service interface {
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
	// Reserve moves amount from spendable into in-order. Fails with
	// ErrInsufficientFunds when spendable cannot cover it.
	Reserve(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
	// Release returns a previously reserved amount to spendable.
	Release(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
}

type service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new wallet service
func NewService(logger *zap.Logger, db *gorm.DB) Service {
	return &service{logger: logger, db: db}
}

// GetWallet gets a user's wallet for a currency
func (s *service) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	return &w, nil
}

// CreateWallet creates an empty wallet for a user and currency
func (s *service) CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	now := time.Now().UTC()
	w := &models.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		InOrder:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return w, nil
}

// Deposit credits the wallet balance.
func (s *service) Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return s.mutate(ctx, userID, currency, func(w *models.Wallet) error {
		w.Balance = w.Balance.Add(amount)
		return nil
	})
}

// Reserve moves amount from spendable into in-order.
func (s *service) Reserve(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return s.mutate(ctx, userID, currency, func(w *models.Wallet) error {
		if w.Spendable().LessThan(amount) {
			return ErrInsufficientFunds
		}
		w.InOrder = w.InOrder.Add(amount)
		return nil
	})
}

// Release returns a reserved amount to spendable.
func (s *service) Release(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return s.mutate(ctx, userID, currency, func(w *models.Wallet) error {
		if w.InOrder.LessThan(amount) {
			return ErrNothingReserved
		}
		w.InOrder = w.InOrder.Sub(amount)
		return nil
	})
}

// mutate loads the wallet inside a transaction, applies fn and saves it.
// The row is re-read under the transaction so the invariant check and the
// write are one atomic unit against the store.
func (s *service) mutate(ctx context.Context, userID uuid.UUID, currency string, fn func(*models.Wallet) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var w models.Wallet
	if err := tx.Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		return fmt.Errorf("failed to find wallet: %w", err)
	}

	if err := fn(&w); err != nil {
		tx.Rollback()
		return err
	}

	if w.Balance.Sub(w.InOrder).IsNegative() {
		tx.Rollback()
		return ErrInsufficientFunds
	}

	w.UpdatedAt = time.Now().UTC()
	if err := tx.Save(&w).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save wallet: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
