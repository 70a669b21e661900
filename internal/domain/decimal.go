package domain

import "github.com/shopspring/decimal"

// Rounding scales used before anything is persisted or rendered.
// Prices and ratios carry 4 fractional digits, notional amounts such as
// market cap carry 2, share counts carry 0.
const (
	PriceScale    = 4
	NotionalScale = 2
	QuantityScale = 0
)

// RoundPrice rounds a price or ratio to its persisted scale using
// banker's rounding.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PriceScale)
}

// RoundNotional rounds a notional amount (market cap, revenue) to its
// persisted scale.
func RoundNotional(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(NotionalScale)
}

// RoundQuantity rounds a share count to a whole number.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(QuantityScale)
}

// SafeDiv divides a by b, returning zero when b is zero instead of
// panicking. Indicator code uses documented neutral values instead;
// this is for ratio fields where zero denominators mean "no data".
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// DecSum sums a slice of decimals.
func DecSum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// DecMean returns the arithmetic mean of values, or zero for an empty
// slice.
func DecMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return DecSum(values).Div(decimal.NewFromInt(int64(len(values))))
}
