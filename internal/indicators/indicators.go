// Package indicators implements the technical indicator library. Every
// function accepts ascending price/volume series, returns a same-length
// result with nil entries where history is insufficient, and keeps all
// arithmetic in Decimal. Indicators are pure: they never log.
//
// Division by zero is never propagated; each indicator documents its
// neutral value (RSI 100 with no losses, Stochastic %K 50 on a flat
// range, nil when context is truly absent).
package indicators

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

var (
	decTwo     = decimal.NewFromInt(2)
	decHundred = decimal.NewFromInt(100)
)

// checkSeries validates the common preconditions of a single-series
// indicator.
func checkSeries(values []decimal.Decimal, period, minLen int) error {
	if period <= 0 {
		return errs.InvalidParameter("period must be positive, got %d", period)
	}
	if len(values) < minLen {
		return errs.InsufficientData(minLen, len(values))
	}
	return nil
}

// checkAligned validates that parallel OHLC arrays share one length.
func checkAligned(series ...[]decimal.Decimal) (int, error) {
	if len(series) == 0 {
		return 0, nil
	}
	n := len(series[0])
	for _, s := range series[1:] {
		if len(s) != n {
			return 0, errs.InvalidParameter("input series lengths differ: %d vs %d", n, len(s))
		}
	}
	return n, nil
}

// decSqrt computes a square root by Newton iteration in Decimal. The
// float seed only picks the starting point; refinement stays decimal.
func decSqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	guess := decimal.NewFromFloat(math.Sqrt(d.InexactFloat64()))
	if guess.Sign() <= 0 {
		guess = d
	}
	for i := 0; i < 8; i++ {
		guess = guess.Add(d.Div(guess)).Div(decTwo)
	}
	return guess
}

// stddev returns the population standard deviation of values.
func stddev(values []decimal.Decimal) decimal.Decimal {
	n := len(values)
	if n == 0 {
		return decimal.Zero
	}
	mean := decimal.Zero
	for _, v := range values {
		mean = mean.Add(v)
	}
	mean = mean.Div(decimal.NewFromInt(int64(n)))

	variance := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(n)))
	return decSqrt(variance)
}

// ref returns a pointer to a copy, the Some of an optional result slot.
func ref(d decimal.Decimal) *decimal.Decimal { return &d }
