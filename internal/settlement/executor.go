// Package settlement executes one matched pair of orders: it locks both
// orders, re-validates them, records the trade, and moves balances.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gold-exchange-go/internal/events"
	"gold-exchange-go/internal/ledger"
	"gold-exchange-go/internal/matching"
	"gold-exchange-go/internal/models"
)

// ErrOrderNotFound is returned when an order referenced by a settlement task
// no longer exists at lock time.
var ErrOrderNotFound = errors.New("order not found")

// Outcome is the terminal result of a settlement attempt.
type Outcome string

const (
	OutcomeSettled Outcome = "settled"
	OutcomeSkipped Outcome = "skipped"
)

// Result describes what a settlement did. Trade is set only when settled.
type Result struct {
	Outcome Outcome
	Reason  string
	Trade   *models.Trade
}

// Skipped reports whether the pair was found invalid and left untouched.
func (r *Result) Skipped() bool {
	return r.Outcome == OutcomeSkipped
}

// MatchPricer computes the executable match for two locked orders.
type MatchPricer interface {
	ProcessMatch(a, b *models.Order) *matching.MatchResult
}

// Executor settles matched pairs.
type Executor struct {
	db        *gorm.DB
	matcher   MatchPricer
	ledger    *ledger.Ledger
	publisher events.Publisher
	logger    *zap.Logger
}

// NewExecutor creates a new Executor. A nil publisher disables trade events.
func NewExecutor(db *gorm.DB, matcher MatchPricer, l *ledger.Ledger, publisher events.Publisher, logger *zap.Logger) *Executor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Executor{
		db:        db,
		matcher:   matcher,
		ledger:    l,
		publisher: publisher,
		logger:    logger.Named("settlement"),
	}
}

// Settle executes the match between newOrderID and matchedOrderID in a single
// transaction. An invalid pair is a skip, not an error, so running the same
// task twice is harmless. Any error rolls back every write of this attempt.
func (e *Executor) Settle(ctx context.Context, newOrderID, matchedOrderID uint) (*Result, error) {
	log := e.logger.With(zap.Uint("new_order_id", newOrderID), zap.Uint("matched_order_id", matchedOrderID))

	var result *Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders, err := lockOrders(tx, newOrderID, matchedOrderID)
		if err != nil {
			return err
		}
		newOrder, matchedOrder := orders[newOrderID], orders[matchedOrderID]

		if reason := validate(newOrder, matchedOrder); reason != "" {
			result = &Result{Outcome: OutcomeSkipped, Reason: reason}
			return nil
		}

		match := e.matcher.ProcessMatch(newOrder, matchedOrder)
		if match == nil {
			result = &Result{Outcome: OutcomeSkipped, Reason: "nothing to execute"}
			return nil
		}

		trade := &models.Trade{
			BuyerID:      match.BuyerID,
			SellerID:     match.SellerID,
			BuyOrderID:   match.BuyOrderID,
			SellOrderID:  match.SellOrderID,
			Amount:       match.Amount,
			PricePerUnit: match.PricePerUnit,
			Fee:          match.Fee,
			Status:       models.TradeStatusCompleted,
		}
		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("failed to record trade: %w", err)
		}

		for _, order := range []*models.Order{newOrder, matchedOrder} {
			order.Apply(match.Amount)
			if err := tx.Model(order).Updates(map[string]any{
				"remaining": order.Remaining,
				"status":    order.Status,
			}).Error; err != nil {
				return fmt.Errorf("failed to update order %d: %w", order.ID, err)
			}
		}

		if err := e.ledger.Settle(tx, trade); err != nil {
			return fmt.Errorf("failed to settle balances: %w", err)
		}

		result = &Result{Outcome: OutcomeSettled, Trade: trade}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Skipped() {
		log.Info("Skipped settlement", zap.String("reason", result.Reason))
		return result, nil
	}

	trade := result.Trade
	log.Info("Settled match",
		zap.Uint("trade_id", trade.ID),
		zap.String("amount", trade.Amount.String()),
		zap.Int64("price_per_unit", trade.PricePerUnit),
		zap.Int64("fee", trade.Fee),
	)

	if err := e.publisher.PublishTrade(ctx, events.NewTradeEvent(trade)); err != nil {
		log.Warn("Failed to publish trade event", zap.Uint("trade_id", trade.ID), zap.Error(err))
	}
	return result, nil
}

// lockOrders takes row locks on both orders in ascending id order so two
// settlements touching the same pair can never wait on each other in a cycle.
func lockOrders(tx *gorm.DB, ids ...uint) (map[uint]*models.Order, error) {
	lo, hi := ids[0], ids[1]
	if hi < lo {
		lo, hi = hi, lo
	}

	orders := make(map[uint]*models.Order, 2)
	for _, id := range []uint{lo, hi} {
		if _, ok := orders[id]; ok {
			continue
		}
		var order models.Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock order %d: %w", id, err)
		}
		orders[id] = &order
	}
	return orders, nil
}

// validate returns why the pair cannot settle, or "" when it can.
func validate(a, b *models.Order) string {
	switch {
	case a.ID == b.ID:
		return "order matched against itself"
	case !a.Status.Active():
		return fmt.Sprintf("order %d is %s", a.ID, a.Status)
	case !b.Status.Active():
		return fmt.Sprintf("order %d is %s", b.ID, b.Status)
	case !a.Remaining.IsPositive():
		return fmt.Sprintf("order %d has nothing remaining", a.ID)
	case !b.Remaining.IsPositive():
		return fmt.Sprintf("order %d has nothing remaining", b.ID)
	case a.Side == b.Side:
		return "orders are on the same side"
	case a.PricePerUnit != b.PricePerUnit:
		return "prices differ"
	}
	return ""
}
