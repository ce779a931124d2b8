// Package fee computes the commission charged on a settled match.
package fee

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gold-exchange-go/internal/config"
)

// Strategy computes the fee, in minor currency units, for matching amount grams at
// pricePerUnit. Implementations must be pure: same inputs, same fee, no I/O.
type Strategy interface {
	Name() string
	CalculateFee(amount decimal.Decimal, pricePerUnit int64) int64
}

// NewStrategy builds the strategy named in the configuration.
func NewStrategy(cfg config.Fee) (Strategy, error) {
	switch cfg.Strategy {
	case "", "tiered":
		return &TieredStrategy{MinFee: cfg.MinFee, MaxFee: cfg.MaxFee}, nil
	case "flat":
		return &FlatStrategy{RateBps: cfg.FlatRateBps, MinFee: cfg.MinFee, MaxFee: cfg.MaxFee}, nil
	default:
		return nil, fmt.Errorf("unknown fee strategy %q", cfg.Strategy)
	}
}

// Notional is amount × pricePerUnit, exact.
func Notional(amount decimal.Decimal, pricePerUnit int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(pricePerUnit))
}

// roundHalfUp rounds to the nearest integer, halves away from zero.
// Fees and notionals are never negative, so this is half-up.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// NotionalMinor is the notional rounded half-up to whole minor units.
func NotionalMinor(amount decimal.Decimal, pricePerUnit int64) int64 {
	return roundHalfUp(Notional(amount, pricePerUnit))
}

func clamp(fee, minFee, maxFee int64) int64 {
	if maxFee > 0 && fee > maxFee {
		fee = maxFee
	}
	if fee < minFee {
		fee = minFee
	}
	return fee
}
