// Package market holds the in-memory registry of trading pairs.
package market

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantaex/core/pkg/models"
)

// Registry caches trading pairs loaded from the database. It is read-mostly:
// the intake path and the market data multiplexer look up markets on every
// request, while refreshes happen rarely.
type Registry struct {
	logger *zap.Logger
	db     *gorm.DB

	mu    sync.RWMutex
	pairs map[string]*models.TradingPair
}

// NewRegistry creates a new market registry
func NewRegistry(logger *zap.Logger, db *gorm.DB) *Registry {
	return &Registry{
		logger: logger,
		db:     db,
		pairs:  make(map[string]*models.TradingPair),
	}
}

// Load replaces the cache with all pairs currently in the database.
func (r *Registry) Load(ctx context.Context) error {
	var pairs []*models.TradingPair
	if err := r.db.WithContext(ctx).Find(&pairs).Error; err != nil {
		return fmt.Errorf("failed to load trading pairs: %w", err)
	}

	next := make(map[string]*models.TradingPair, len(pairs))
	for _, p := range pairs {
		next[p.Symbol] = p
	}

	r.mu.Lock()
	r.pairs = next
	r.mu.Unlock()

	r.logger.Info("Trading pairs loaded", zap.Int("count", len(next)))
	return nil
}

// Get returns the pair for symbol, or false when unknown.
func (r *Registry) Get(symbol string) (*models.TradingPair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[symbol]
	return p, ok
}

// All returns every cached pair, for listing endpoints. The slice is a
// copy; the pointed-to pairs are shared and treated as immutable.
func (r *Registry) All() []*models.TradingPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.TradingPair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	return out
}

// Tradable reports whether the symbol maps to an enabled market with
// complete metadata.
func (r *Registry) Tradable(symbol string) bool {
	p, ok := r.Get(symbol)
	return ok && p.Enabled && p.MetadataComplete()
}

// Upsert inserts or updates a pair in both the database and the cache.
func (r *Registry) Upsert(ctx context.Context, pair *models.TradingPair) error {
	if err := r.db.WithContext(ctx).Save(pair).Error; err != nil {
		return fmt.Errorf("failed to save trading pair: %w", err)
	}
	r.mu.Lock()
	r.pairs[pair.Symbol] = pair
	r.mu.Unlock()
	return nil
}
