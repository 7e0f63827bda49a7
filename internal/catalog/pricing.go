package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price bills GPU execution time for a catalog entry.
type Price struct {
	PerSecond decimal.Decimal
	Currency  string
}

// NewPrice builds a price from the configured per-second rate.
func NewPrice(perSecond float64, currency string) Price {
	if currency == "" {
		currency = "USD"
	}
	return Price{PerSecond: decimal.NewFromFloat(perSecond), Currency: currency}
}

// Cost returns the charge for the given upstream execution time.
func (p Price) Cost(execution time.Duration) decimal.Decimal {
	if p.PerSecond.IsZero() || execution <= 0 {
		return decimal.Zero
	}
	millis := decimal.NewFromInt(execution.Milliseconds())
	total := p.PerSecond.Mul(millis).Div(decimal.NewFromInt(1000))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// ToMicros converts a currency amount into integer millionths.
func ToMicros(value decimal.Decimal) int64 {
	if value.IsZero() {
		return 0
	}
	return value.Mul(decimal.NewFromInt(1_000_000)).Round(0).IntPart()
}
