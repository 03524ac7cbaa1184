package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantaex/core/pkg/models"
)

// OrderStore is the persistent order storage consumed by the intake
// service. The matching engine owns fills; the intake path only creates,
// reads and rolls back records.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	// RollbackOrderCreation deletes a just-created order, keyed by id,
	// owner and creation time so a retried request can never delete a
	// different record.
	RollbackOrderCreation(ctx context.Context, orderID, userID uuid.UUID, createdAt time.Time) error
	GetOpenOrders(ctx context.Context, userID uuid.UUID, symbol string) ([]*models.Order, error)
	GetOrders(ctx context.Context, userID uuid.UUID, symbol string, limit, offset int) ([]*models.Order, error)
}

// BookSource exposes the matching collaborator's read surface used by the
// intake path.
type BookSource interface {
	GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error)
}

// GormStore implements OrderStore on a GORM database.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a new GORM-backed order store
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// CreateOrder creates a new order record with status OPEN.
func (s *GormStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = models.OrderStatusOpen
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// RollbackOrderCreation removes a freshly persisted order after a failed
// wallet debit.
func (s *GormStore) RollbackOrderCreation(ctx context.Context, orderID, userID uuid.UUID, createdAt time.Time) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND created_at = ?", orderID, userID, createdAt).
		Delete(&models.Order{})
	if res.Error != nil {
		return fmt.Errorf("failed to roll back order %s: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to roll back order %s: no matching record", orderID)
	}
	return nil
}

// GetOpenOrders returns the user's resting orders on a symbol.
func (s *GormStore) GetOpenOrders(ctx context.Context, userID uuid.UUID, symbol string) ([]*models.Order, error) {
	var out []*models.Order
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ? AND status IN ?", userID, symbol,
			[]string{models.OrderStatusOpen, models.OrderStatusPartiallyFilled}).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find open orders: %w", err)
	}
	return out, nil
}

// GetOrders returns the user's orders, newest first. Symbol is optional.
func (s *GormStore) GetOrders(ctx context.Context, userID uuid.UUID, symbol string, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var out []*models.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	return out, nil
}
