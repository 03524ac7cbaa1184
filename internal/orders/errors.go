package orders

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Market lookup failures. These reject the request before pricing.
var (
	ErrMarketNotFound           = errors.New("orders: market not found")
	ErrMarketDisabled           = errors.New("orders: market is disabled")
	ErrMarketMetadataIncomplete = errors.New("orders: market metadata incomplete")
)

// ValidationError rejects a request whose shape is wrong before any side
// effect is taken.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("orders: invalid %s: %s", e.Field, e.Reason)
}

// LimitError rejects a request that is outside the market's configured
// amount/price/cost bounds.
type LimitError struct {
	Field string // amount, price, cost
	Bound string // min, max
	Limit decimal.Decimal
	Value decimal.Decimal
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("orders: %s %s outside %s bound %s", e.Field, e.Value, e.Bound, e.Limit)
}

// SelfMatchError rejects an order that would immediately cross one of the
// same user's resting orders. The conflicting price is carried so the
// client can adjust.
type SelfMatchError struct {
	ConflictingPrice decimal.Decimal
}

func (e *SelfMatchError) Error() string {
	return fmt.Sprintf("orders: order would self-match against own resting order at %s", e.ConflictingPrice)
}

// InsufficientBalanceError rejects an order the user's spendable balance
// cannot cover. Shortfall is the missing amount in Currency.
type InsufficientBalanceError struct {
	Currency  string
	Required  decimal.Decimal
	Spendable decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("orders: insufficient %s balance: need %s, spendable %s (short %s)",
		e.Currency, e.Required, e.Spendable, e.Shortfall())
}

// Shortfall returns the amount the spendable balance is missing.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Spendable)
}

// WalletUpdateFailedError signals that the wallet debit failed after the
// order record already existed; the order has been rolled back. RollbackErr
// is non-nil only in the data-integrity case where the compensating delete
// itself failed.
type WalletUpdateFailedError struct {
	OrderID     string
	Cause       error
	RollbackErr error
}

func (e *WalletUpdateFailedError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("orders: wallet update failed for order %s (%v); rollback also failed: %v",
			e.OrderID, e.Cause, e.RollbackErr)
	}
	return fmt.Sprintf("orders: wallet update failed for order %s, order rolled back: %v", e.OrderID, e.Cause)
}

func (e *WalletUpdateFailedError) Unwrap() error { return e.Cause }
