// Package matching finds counter-orders for an order and computes what a pair
// of orders can execute.
package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gold-exchange-go/internal/fee"
	"gold-exchange-go/internal/models"
)

// DefaultChunkSize is how many candidate rows are read per query while scanning.
const DefaultChunkSize = 100

// MatchResult is the executable outcome of pairing a buy order with a sell order.
type MatchResult struct {
	Amount       decimal.Decimal
	BuyerID      uint
	BuyOrderID   uint
	SellerID     uint
	SellOrderID  uint
	PricePerUnit int64
	Fee          int64
}

// Matcher locates counter-orders with price-time priority and prices matches.
type Matcher struct {
	db        *gorm.DB
	fee       fee.Strategy
	chunkSize int
	logger    *zap.Logger
}

// NewMatcher creates a new Matcher. A non-positive chunkSize falls back to DefaultChunkSize.
func NewMatcher(db *gorm.DB, strategy fee.Strategy, chunkSize int, logger *zap.Logger) *Matcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Matcher{
		db:        db,
		fee:       strategy,
		chunkSize: chunkSize,
		logger:    logger.Named("matcher"),
	}
}

// FindMatchingOrders returns the opposite-side orders at exactly the order's price
// that are still active, oldest first. Candidates are included until their
// accumulated remaining amount reaches the order's remaining amount; the last one
// may cover more than is needed. The table is read in chunks using keyset
// pagination on (created_at, id). No candidates is an empty slice, not an error.
func (m *Matcher) FindMatchingOrders(ctx context.Context, order *models.Order) ([]models.Order, error) {
	required := order.Remaining
	if required.LessThanOrEqual(decimal.Zero) {
		return []models.Order{}, nil
	}

	accumulated := decimal.Zero
	var ids []uint
	var cursorTime time.Time
	var cursorID uint

	for accumulated.LessThan(required) {
		q := m.db.WithContext(ctx).
			Where("side = ?", order.Side.Opposite()).
			Where("price_per_unit = ?", order.PricePerUnit).
			Where("remaining > ?", 0).
			Where("status IN ?", models.ActiveStatuses)
		if cursorID != 0 {
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", cursorTime, cursorTime, cursorID)
		}

		var chunk []models.Order
		if err := q.Order("created_at ASC").Order("id ASC").Limit(m.chunkSize).Find(&chunk).Error; err != nil {
			return nil, fmt.Errorf("failed to scan candidate orders: %w", err)
		}

		for _, candidate := range chunk {
			if accumulated.GreaterThanOrEqual(required) {
				break
			}
			ids = append(ids, candidate.ID)
			accumulated = accumulated.Add(candidate.Remaining)
		}

		if len(chunk) < m.chunkSize {
			break
		}
		last := chunk[len(chunk)-1]
		cursorTime, cursorID = last.CreatedAt, last.ID
	}

	m.logger.Debug("Scanned for counter-orders",
		zap.Uint("order_id", order.ID),
		zap.Int("candidates", len(ids)),
		zap.String("required", required.String()),
		zap.String("accumulated", accumulated.String()),
	)

	if len(ids) == 0 {
		return []models.Order{}, nil
	}

	var matches []models.Order
	if err := m.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").Order("id ASC").
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("failed to load matching orders: %w", err)
	}
	return matches, nil
}

// ProcessMatch computes what orders a and b can execute against each other. It
// returns nil when there is nothing to execute. Exactly one of the two must be a
// BUY and the prices must already be equal; neither is re-checked here.
func (m *Matcher) ProcessMatch(a, b *models.Order) *MatchResult {
	amount := decimal.Min(a.Remaining, b.Remaining)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	buy, sell := a, b
	if a.Side != models.SideBuy {
		buy, sell = b, a
	}

	return &MatchResult{
		Amount:       amount,
		BuyerID:      buy.UserID,
		BuyOrderID:   buy.ID,
		SellerID:     sell.UserID,
		SellOrderID:  sell.ID,
		PricePerUnit: a.PricePerUnit,
		Fee:          m.fee.CalculateFee(amount, a.PricePerUnit),
	}
}
