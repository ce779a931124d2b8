package fee

import "github.com/shopspring/decimal"

var tenThousand = decimal.NewFromInt(10_000)

// FlatStrategy charges the same rate, in basis points, on every match.
type FlatStrategy struct {
	RateBps int64
	MinFee  int64
	MaxFee  int64
}

// Name returns the unique name of the strategy.
func (s *FlatStrategy) Name() string {
	return "flat"
}

// CalculateFee implements Strategy.
func (s *FlatStrategy) CalculateFee(amount decimal.Decimal, pricePerUnit int64) int64 {
	fee := roundHalfUp(Notional(amount, pricePerUnit).Mul(decimal.NewFromInt(s.RateBps)).Div(tenThousand))
	return clamp(fee, s.MinFee, s.MaxFee)
}
