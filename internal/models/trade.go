package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the state of a settlement record.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// Trade is one executed settlement between a buy order and a sell order.
// It is written once by the settlement executor and never updated.
type Trade struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	BuyerID      uint            `gorm:"not null;index" json:"buyer_id"`
	SellerID     uint            `gorm:"not null;index" json:"seller_id"`
	BuyOrderID   uint            `gorm:"not null;index" json:"buy_order_id"`
	SellOrderID  uint            `gorm:"not null;index" json:"sell_order_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(10,3);not null" json:"amount"`
	PricePerUnit int64           `gorm:"not null" json:"price_per_unit"`
	Fee          int64           `gorm:"not null" json:"fee"`
	Status       TradeStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}
