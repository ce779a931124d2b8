// Package orders is the user-facing side of the market: placing, reading and
// cancelling orders, and reading balances.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gold-exchange-go/internal/ledger"
	"gold-exchange-go/internal/models"
	"gold-exchange-go/internal/pipeline"
	"gold-exchange-go/internal/queue"
)

var (
	ErrNotFound       = errors.New("order not found")
	ErrNotCancellable = errors.New("order cannot be cancelled")
	ErrInvalidOrder   = errors.New("invalid order")
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// amount columns are decimal(10,3)
var maxAmount = decimal.RequireFromString("9999999.999")

// CreateOrder is a request to place an order.
type CreateOrder struct {
	Side           models.Side
	Amount         decimal.Decimal
	PricePerUnit   int64
	IdempotencyKey string
}

// Validate checks the request and returns an error wrapping ErrInvalidOrder.
func (c CreateOrder) Validate() error {
	switch {
	case !c.Side.Valid():
		return fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidOrder)
	case !c.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	case !c.Amount.Equal(c.Amount.Truncate(3)):
		return fmt.Errorf("%w: amount has more than 3 decimal places", ErrInvalidOrder)
	case c.Amount.GreaterThan(maxAmount):
		return fmt.Errorf("%w: amount is too large", ErrInvalidOrder)
	case c.PricePerUnit < 1:
		return fmt.Errorf("%w: price per unit must be at least 1", ErrInvalidOrder)
	case len(c.IdempotencyKey) > 128:
		return fmt.Errorf("%w: idempotency key is too long", ErrInvalidOrder)
	}
	return nil
}

// OrderDetail is an order together with the trades it took part in.
type OrderDetail struct {
	Order  models.Order
	Trades []models.Trade
}

// Page is one page of a user's orders, newest first.
type Page struct {
	Orders  []models.Order
	Page    int
	PerPage int
	Total   int64
}

// Service implements the order operations.
type Service struct {
	db     *gorm.DB
	queue  *queue.Queue
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewService creates a new Service.
func NewService(db *gorm.DB, q *queue.Queue, l *ledger.Ledger, logger *zap.Logger) *Service {
	return &Service{db: db, queue: q, ledger: l, logger: logger.Named("orders")}
}

// Create places an OPEN order and schedules its discovery in the same
// transaction. A repeated idempotency key returns the original order and
// created=false.
func (s *Service) Create(ctx context.Context, userID uint, req CreateOrder) (order *models.Order, created bool, err error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil || existing != nil {
			return existing, false, err
		}
	}

	order = &models.Order{
		UserID:       userID,
		Side:         req.Side,
		Amount:       req.Amount,
		Remaining:    req.Amount,
		PricePerUnit: req.PricePerUnit,
		Status:       models.OrderStatusOpen,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		_, err := pipeline.EnqueueDiscovery(tx, s.queue, order.ID)
		return err
	})
	if err != nil {
		// a concurrent request with the same key won the insert
		if req.IdempotencyKey != "" {
			if existing, findErr := s.findByIdempotencyKey(ctx, userID, req.IdempotencyKey); findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	s.logger.Info("Order placed",
		zap.Uint("order_id", order.ID),
		zap.Uint("user_id", userID),
		zap.String("side", string(order.Side)),
		zap.String("amount", order.Amount.String()),
		zap.Int64("price_per_unit", order.PricePerUnit),
	)
	return order, true, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, userID uint, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &order, nil
}

// Get returns one of the user's orders with its trades. Orders of other
// users are reported as not found.
func (s *Service) Get(ctx context.Context, userID, orderID uint) (*OrderDetail, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}

	column := "sell_order_id"
	if order.Side == models.SideBuy {
		column = "buy_order_id"
	}
	var trades []models.Trade
	if err := s.db.WithContext(ctx).Where(column+" = ?", order.ID).Order("id ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades of order %d: %w", orderID, err)
	}
	return &OrderDetail{Order: order, Trades: trades}, nil
}

// List returns a page of the user's orders, newest first. Pages start at 1.
func (s *Service) List(ctx context.Context, userID uint, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	result := &Page{Page: page, PerPage: perPage, Orders: []models.Order{}}
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID).Count(&result.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&result.Orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return result, nil
}

// Cancel moves an OPEN or PARTIAL order to CANCELLED. Settlement tasks still
// queued for it will skip it.
func (s *Service) Cancel(ctx context.Context, userID, orderID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", orderID, userID).
			First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load order %d: %w", orderID, err)
		}
		if !order.Status.Active() {
			return fmt.Errorf("%w: order is %s", ErrNotCancellable, order.Status)
		}

		order.Status = models.OrderStatusCancelled
		return tx.Model(&order).Update("status", order.Status).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order cancelled", zap.Uint("order_id", orderID), zap.Uint("user_id", userID))
	return &order, nil
}

// Balance returns the user's ledger account.
func (s *Service) Balance(ctx context.Context, userID uint) (*models.Account, error) {
	return s.ledger.Balance(ctx, userID)
}
