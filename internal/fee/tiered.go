package fee

import "github.com/shopspring/decimal"

var (
	oneGram  = decimal.NewFromInt(1)
	tenGrams = decimal.NewFromInt(10)
	hundred  = decimal.NewFromInt(100)

	rateSmall  = decimal.RequireFromString("2.0")
	rateMedium = decimal.RequireFromString("1.5")
	rateLarge  = decimal.RequireFromString("1.0")
)

// TieredStrategy charges a percentage of the notional that falls as the matched
// amount grows: up to 1 gram 2%, up to 10 grams 1.5%, above that 1%.
// The result is clamped to [MinFee, MaxFee]; a zero MaxFee means no ceiling.
type TieredStrategy struct {
	MinFee int64
	MaxFee int64
}

// Name returns the unique name of the strategy.
func (s *TieredStrategy) Name() string {
	return "tiered"
}

// CalculateFee implements Strategy.
func (s *TieredStrategy) CalculateFee(amount decimal.Decimal, pricePerUnit int64) int64 {
	rate := s.rate(amount)
	fee := roundHalfUp(Notional(amount, pricePerUnit).Mul(rate).Div(hundred))
	return clamp(fee, s.MinFee, s.MaxFee)
}

// rate returns the percentage for the amount. Tier edges are inclusive.
func (s *TieredStrategy) rate(amount decimal.Decimal) decimal.Decimal {
	switch {
	case amount.LessThanOrEqual(oneGram):
		return rateSmall
	case amount.LessThanOrEqual(tenGrams):
		return rateMedium
	default:
		return rateLarge
	}
}
