// Package dbtest provides a throwaway SQLite database for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gold-exchange-go/internal/database"
	"gold-exchange-go/internal/models"
)

// New opens a migrated SQLite database in the test's temp dir. A single
// connection is used so transactions serialize the same way row locks would.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "test.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// OrderOption customises an order created by CreateOrder.
type OrderOption func(*models.Order)

// WithUser sets the owner of the order.
func WithUser(userID uint) OrderOption {
	return func(o *models.Order) { o.UserID = userID }
}

// WithStatus sets the order status.
func WithStatus(status models.OrderStatus) OrderOption {
	return func(o *models.Order) { o.Status = status }
}

// WithRemaining sets the remaining amount without touching the original amount.
func WithRemaining(grams string) OrderOption {
	return func(o *models.Order) { o.Remaining = decimal.RequireFromString(grams) }
}

// WithCreatedAt pins the creation time.
func WithCreatedAt(ts time.Time) OrderOption {
	return func(o *models.Order) { o.CreatedAt = ts }
}

// CreateOrder inserts an OPEN order for user 1 with remaining equal to amount.
func CreateOrder(t testing.TB, db *gorm.DB, side models.Side, grams string, price int64, opts ...OrderOption) *models.Order {
	t.Helper()

	amount := decimal.RequireFromString(grams)
	order := &models.Order{
		UserID:       1,
		Side:         side,
		Amount:       amount,
		Remaining:    amount,
		PricePerUnit: price,
		Status:       models.OrderStatusOpen,
	}
	for _, opt := range opts {
		opt(order)
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

// CreateAccount inserts a ledger account with the given balances.
func CreateAccount(t testing.TB, db *gorm.DB, userID uint, currency int64, grams string) *models.Account {
	t.Helper()

	account := &models.Account{
		UserID:           userID,
		BalanceCurrency:  currency,
		BalanceCommodity: decimal.RequireFromString(grams),
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

// ReloadOrder fetches the current row for an order.
func ReloadOrder(t testing.TB, db *gorm.DB, id uint) *models.Order {
	t.Helper()

	var order models.Order
	require.NoError(t, db.First(&order, id).Error)
	return &order
}

// ReloadAccount fetches the current ledger account for a user.
func ReloadAccount(t testing.TB, db *gorm.DB, userID uint) *models.Account {
	t.Helper()

	var account models.Account
	require.NoError(t, db.Where("user_id = ?", userID).First(&account).Error)
	return &account
}
