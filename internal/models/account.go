package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's running balance of currency (minor units) and gold (grams).
type Account struct {
	ID               uint            `gorm:"primaryKey" json:"-"`
	UserID           uint            `gorm:"not null;uniqueIndex" json:"user_id"`
	BalanceCurrency  int64           `gorm:"not null;default:0" json:"balance_currency"`
	BalanceCommodity decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"balance_commodity"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// LedgerEntry is an append-only record of one balance movement caused by a trade.
type LedgerEntry struct {
	ID             uint            `gorm:"primaryKey"`
	UserID         uint            `gorm:"not null;index"`
	TradeID        uint            `gorm:"not null;index"`
	CurrencyDelta  int64           `gorm:"not null"`
	CommodityDelta decimal.Decimal `gorm:"type:decimal(20,3);not null"`
	CreatedAt      time.Time
}
