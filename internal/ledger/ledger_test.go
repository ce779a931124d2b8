package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gold-exchange-go/internal/dbtest"
	"gold-exchange-go/internal/models"
)

func newTrade(buyer, seller uint, grams string, price, fee int64) *models.Trade {
	return &models.Trade{
		ID:           7,
		BuyerID:      buyer,
		SellerID:     seller,
		BuyOrderID:   1,
		SellOrderID:  2,
		Amount:       decimal.RequireFromString(grams),
		PricePerUnit: price,
		Fee:          fee,
		Status:       models.TradeStatusCompleted,
	}
}

func TestLedger_Settle(t *testing.T) {
	db := dbtest.New(t)
	l := NewLedger(db, zap.NewNop())
	dbtest.CreateAccount(t, db, 1, 2_000_000_000, "0")
	dbtest.CreateAccount(t, db, 2, 0, "20")

	trade := newTrade(1, 2, "10", 50_000_000, 100)
	err := db.Transaction(func(tx *gorm.DB) error { return l.Settle(tx, trade) })
	require.NoError(t, err)

	buyer := dbtest.ReloadAccount(t, db, 1)
	seller := dbtest.ReloadAccount(t, db, 2)
	assert.Equal(t, int64(2_000_000_000-500_000_000-100), buyer.BalanceCurrency)
	assert.True(t, decimal.NewFromInt(10).Equal(buyer.BalanceCommodity))
	assert.Equal(t, int64(500_000_000-100), seller.BalanceCurrency)
	assert.True(t, decimal.NewFromInt(10).Equal(seller.BalanceCommodity))

	entries, err := l.Entries(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-500_000_100), entries[0].CurrencyDelta)
	assert.True(t, decimal.NewFromInt(10).Equal(entries[0].CommodityDelta))
}

func TestLedger_Settle_CreatesMissingAccounts(t *testing.T) {
	db := dbtest.New(t)
	l := NewLedger(db, zap.NewNop())

	trade := newTrade(3, 4, "1.5", 1_000, 30)
	err := db.Transaction(func(tx *gorm.DB) error { return l.Settle(tx, trade) })
	require.NoError(t, err)

	buyer := dbtest.ReloadAccount(t, db, 3)
	seller := dbtest.ReloadAccount(t, db, 4)
	// Balances are not floored at zero.
	assert.Equal(t, int64(-1_530), buyer.BalanceCurrency)
	assert.True(t, decimal.RequireFromString("1.5").Equal(buyer.BalanceCommodity))
	assert.Equal(t, int64(1_470), seller.BalanceCurrency)
	assert.True(t, decimal.RequireFromString("-1.5").Equal(seller.BalanceCommodity))
}

func TestLedger_Settle_SameUserOnBothSides(t *testing.T) {
	db := dbtest.New(t)
	l := NewLedger(db, zap.NewNop())
	dbtest.CreateAccount(t, db, 5, 1_000_000, "3")

	trade := newTrade(5, 5, "2", 10_000, 250)
	err := db.Transaction(func(tx *gorm.DB) error { return l.Settle(tx, trade) })
	require.NoError(t, err)

	account := dbtest.ReloadAccount(t, db, 5)
	assert.Equal(t, int64(1_000_000-500), account.BalanceCurrency)
	assert.True(t, decimal.NewFromInt(3).Equal(account.BalanceCommodity))

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("user_id = ?", 5).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestLedger_Settle_RolledBackWithOuterTransaction(t *testing.T) {
	db := dbtest.New(t)
	l := NewLedger(db, zap.NewNop())
	dbtest.CreateAccount(t, db, 1, 1_000, "0")
	dbtest.CreateAccount(t, db, 2, 0, "1")

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := l.Settle(tx, newTrade(1, 2, "1", 500, 10)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(1_000), dbtest.ReloadAccount(t, db, 1).BalanceCurrency)
	assert.True(t, decimal.NewFromInt(1).Equal(dbtest.ReloadAccount(t, db, 2).BalanceCommodity))
	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLedger_Balance(t *testing.T) {
	db := dbtest.New(t)
	l := NewLedger(db, zap.NewNop())
	dbtest.CreateAccount(t, db, 1, 42, "0.125")

	account, err := l.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), account.BalanceCurrency)
	assert.Equal(t, "0.125", account.BalanceCommodity.String())

	empty, err := l.Balance(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, uint(99), empty.UserID)
	assert.Zero(t, empty.BalanceCurrency)
	assert.True(t, empty.BalanceCommodity.IsZero())
}
