package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quantaex/core/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(t *testing.T) Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Wallet{}))
	return NewService(zap.NewNop(), db)
}

func TestWalletLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.GetWallet(ctx, user, "USDT")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	w, err := svc.CreateWallet(ctx, user, "USDT")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.InOrder.IsZero())

	require.NoError(t, svc.Deposit(ctx, user, "USDT", dec("1000")))

	w, err = svc.GetWallet(ctx, user, "USDT")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("1000")))
	assert.True(t, w.Spendable().Equal(dec("1000")))
}

func TestReserveAndRelease(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.CreateWallet(ctx, user, "USDT")
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, user, "USDT", dec("500")))

	require.NoError(t, svc.Reserve(ctx, user, "USDT", dec("300")))

	w, err := svc.GetWallet(ctx, user, "USDT")
	require.NoError(t, err)
	assert.True(t, w.InOrder.Equal(dec("300")))
	assert.True(t, w.Spendable().Equal(dec("200")))

	// Spendable, not balance, bounds further reservations.
	err = svc.Reserve(ctx, user, "USDT", dec("201"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, svc.Release(ctx, user, "USDT", dec("100")))
	w, err = svc.GetWallet(ctx, user, "USDT")
	require.NoError(t, err)
	assert.True(t, w.InOrder.Equal(dec("200")))

	err = svc.Release(ctx, user, "USDT", dec("500"))
	assert.ErrorIs(t, err, ErrNothingReserved)
}

func TestReserveUnknownWallet(t *testing.T) {
	svc := newTestService(t)
	err := svc.Reserve(context.Background(), uuid.New(), "USDT", dec("1"))
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestSpendableNeverNegative(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.CreateWallet(ctx, user, "USDT")
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, user, "USDT", dec("10")))

	// Exhaust the balance in pieces; every state in between keeps
	// balance - in_order >= 0.
	require.NoError(t, svc.Reserve(ctx, user, "USDT", dec("4")))
	require.NoError(t, svc.Reserve(ctx, user, "USDT", dec("6")))
	assert.ErrorIs(t, svc.Reserve(ctx, user, "USDT", dec("0.000001")), ErrInsufficientFunds)

	w, err := svc.GetWallet(ctx, user, "USDT")
	require.NoError(t, err)
	assert.False(t, w.Spendable().IsNegative())
	assert.True(t, w.Spendable().IsZero())
}
