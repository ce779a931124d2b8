package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/dbtest"
	"gold-exchange-go/internal/ledger"
	"gold-exchange-go/internal/models"
	"gold-exchange-go/internal/pipeline"
	"gold-exchange-go/internal/queue"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	q := queue.New(db, config.Queue{VisibilityTimeoutSeconds: 60, MaxAttempts: 3}, zap.NewNop())
	return NewService(db, q, ledger.NewLedger(db, zap.NewNop()), zap.NewNop()), db
}

func grams(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateOrder
		wantErr bool
	}{
		{"Valid buy", CreateOrder{Side: models.SideBuy, Amount: grams("1.5"), PricePerUnit: 100}, false},
		{"Smallest amount", CreateOrder{Side: models.SideSell, Amount: grams("0.001"), PricePerUnit: 1}, false},
		{"Unknown side", CreateOrder{Side: "HOLD", Amount: grams("1"), PricePerUnit: 100}, true},
		{"Zero amount", CreateOrder{Side: models.SideBuy, Amount: grams("0"), PricePerUnit: 100}, true},
		{"Negative amount", CreateOrder{Side: models.SideBuy, Amount: grams("-1"), PricePerUnit: 100}, true},
		{"Too many decimals", CreateOrder{Side: models.SideBuy, Amount: grams("1.0005"), PricePerUnit: 100}, true},
		{"Too large", CreateOrder{Side: models.SideBuy, Amount: grams("10000000"), PricePerUnit: 100}, true},
		{"Zero price", CreateOrder{Side: models.SideBuy, Amount: grams("1"), PricePerUnit: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidOrder))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_Create(t *testing.T) {
	svc, db := newService(t)

	order, created, err := svc.Create(context.Background(), 7, CreateOrder{Side: models.SideBuy, Amount: grams("2.5"), PricePerUnit: 1_000_000})

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint(7), order.UserID)
	assert.Equal(t, models.OrderStatusOpen, order.Status)
	assert.True(t, order.Remaining.Equal(order.Amount))

	var jobs []models.Job
	require.NoError(t, db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, pipeline.KindDiscoverMatches, jobs[0].Kind)
	var payload pipeline.DiscoverPayload
	require.NoError(t, queue.Decode(&jobs[0], &payload))
	assert.Equal(t, order.ID, payload.OrderID)
}

func TestService_Create_Invalid(t *testing.T) {
	svc, db := newService(t)

	_, _, err := svc.Create(context.Background(), 7, CreateOrder{Side: models.SideBuy, Amount: grams("0"), PricePerUnit: 1})

	assert.True(t, errors.Is(err, ErrInvalidOrder))
	var n int64
	require.NoError(t, db.Model(&models.Job{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestService_Create_Idempotent(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	req := CreateOrder{Side: models.SideSell, Amount: grams("1"), PricePerUnit: 500, IdempotencyKey: "abc-123"}

	first, created, err := svc.Create(ctx, 7, req)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.Create(ctx, 7, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// the key is scoped per user
	other, created, err := svc.Create(ctx, 8, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	var n int64
	require.NoError(t, db.Model(&models.Job{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestService_Get(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	buy := dbtest.CreateOrder(t, db, models.SideBuy, "3", 100, dbtest.WithUser(7))
	sell := dbtest.CreateOrder(t, db, models.SideSell, "3", 100, dbtest.WithUser(8))
	other := dbtest.CreateOrder(t, db, models.SideSell, "1", 100, dbtest.WithUser(9))
	require.NoError(t, db.Create(&models.Trade{
		BuyerID: 7, SellerID: 8, BuyOrderID: buy.ID, SellOrderID: sell.ID,
		Amount: grams("1"), PricePerUnit: 100, Fee: 2, Status: models.TradeStatusCompleted,
	}).Error)
	require.NoError(t, db.Create(&models.Trade{
		BuyerID: 7, SellerID: 9, BuyOrderID: buy.ID, SellOrderID: other.ID,
		Amount: grams("1"), PricePerUnit: 100, Fee: 2, Status: models.TradeStatusCompleted,
	}).Error)

	detail, err := svc.Get(ctx, 7, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, buy.ID, detail.Order.ID)
	assert.Len(t, detail.Trades, 2)

	detail, err = svc.Get(ctx, 8, sell.ID)
	require.NoError(t, err)
	require.Len(t, detail.Trades, 1)
	assert.Equal(t, sell.ID, detail.Trades[0].SellOrderID)

	_, err = svc.Get(ctx, 8, buy.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = svc.Get(ctx, 7, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestService_List(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 12, 12, 0, 0, 0, time.UTC)
	var ids []uint
	for i := 0; i < 12; i++ {
		o := dbtest.CreateOrder(t, db, models.SideBuy, "1", 100, dbtest.WithUser(7), dbtest.WithCreatedAt(base.Add(time.Duration(i)*time.Minute)))
		ids = append(ids, o.ID)
	}
	dbtest.CreateOrder(t, db, models.SideBuy, "1", 100, dbtest.WithUser(8))

	page, err := svc.List(ctx, 7, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), page.Total)
	assert.Equal(t, DefaultPerPage, page.PerPage)
	require.Len(t, page.Orders, 10)
	assert.Equal(t, ids[11], page.Orders[0].ID, "newest first")

	page, err = svc.List(ctx, 7, 2, 10)
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, ids[0], page.Orders[1].ID)

	page, err = svc.List(ctx, 99, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.NotNil(t, page.Orders)
}

func TestService_Cancel(t *testing.T) {
	tests := []struct {
		name    string
		status  models.OrderStatus
		wantErr error
	}{
		{"Open", models.OrderStatusOpen, nil},
		{"Partial", models.OrderStatusPartial, nil},
		{"Filled", models.OrderStatusFilled, ErrNotCancellable},
		{"Already cancelled", models.OrderStatusCancelled, ErrNotCancellable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := newService(t)
			order := dbtest.CreateOrder(t, db, models.SideSell, "1", 100, dbtest.WithUser(7), dbtest.WithStatus(tt.status))

			cancelled, err := svc.Cancel(context.Background(), 7, order.ID)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, tt.status, dbtest.ReloadOrder(t, db, order.ID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
			assert.Equal(t, models.OrderStatusCancelled, dbtest.ReloadOrder(t, db, order.ID).Status)
		})
	}
}

func TestService_Cancel_OtherUsersOrder(t *testing.T) {
	svc, db := newService(t)
	order := dbtest.CreateOrder(t, db, models.SideSell, "1", 100, dbtest.WithUser(7))

	_, err := svc.Cancel(context.Background(), 8, order.ID)

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, models.OrderStatusOpen, dbtest.ReloadOrder(t, db, order.ID).Status)
}

func TestService_Balance(t *testing.T) {
	svc, db := newService(t)
	dbtest.CreateAccount(t, db, 7, 1_000, "2.5")

	account, err := svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), account.BalanceCurrency)
	assert.Equal(t, "2.5", account.BalanceCommodity.String())

	account, err = svc.Balance(context.Background(), 8)
	require.NoError(t, err)
	assert.Zero(t, account.BalanceCurrency)
	assert.True(t, account.BalanceCommodity.IsZero())
}
