package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the BUY or SELL designation of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Active reports whether an order in this status can still be matched or cancelled.
func (s OrderStatus) Active() bool {
	return s == OrderStatusOpen || s == OrderStatusPartial
}

// ActiveStatuses lists the statuses eligible for matching.
var ActiveStatuses = []OrderStatus{OrderStatusOpen, OrderStatusPartial}

// Order is a user's standing request to buy or sell grams of gold at a fixed price.
// Amount and Remaining are grams with three decimal places; PricePerUnit is in
// minor currency units per gram.
type Order struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"not null;index;uniqueIndex:idx_orders_user_idempotency" json:"user_id"`
	Side           Side            `gorm:"type:varchar(4);not null;index:idx_orders_book" json:"side"`
	Amount         decimal.Decimal `gorm:"type:decimal(10,3);not null" json:"amount"`
	Remaining      decimal.Decimal `gorm:"type:decimal(10,3);not null" json:"remaining"`
	PricePerUnit   int64           `gorm:"not null;index:idx_orders_book" json:"price_per_unit"`
	Status         OrderStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	IdempotencyKey *string         `gorm:"type:varchar(128);uniqueIndex:idx_orders_user_idempotency" json:"-"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Apply decrements the remaining amount by a matched quantity and derives the
// resulting status: nothing left is FILLED, anything left is PARTIAL.
func (o *Order) Apply(matched decimal.Decimal) {
	o.Remaining = o.Remaining.Sub(matched)
	if o.Remaining.LessThanOrEqual(decimal.Zero) {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartial
	}
}
