package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// TrendDirection is the SuperTrend regime at one candle.
type TrendDirection int

const (
	TrendDown TrendDirection = -1
	TrendUp   TrendDirection = 1
)

// SuperTrendResult is one observation of the SuperTrend line.
type SuperTrendResult struct {
	Value     *decimal.Decimal
	Direction TrendDirection
}

// SuperTrend computes the ATR-banded trend line with the published
// recurrence: bands ratchet toward price and the trend flips when the
// close crosses the active band.
func SuperTrend(high, low, close []decimal.Decimal, atrPeriod int, mult decimal.Decimal) ([]SuperTrendResult, error) {
	if mult.Sign() <= 0 {
		return nil, errs.InvalidParameter("multiplier must be positive, got %s", mult)
	}
	n, err := checkAligned(high, low, close)
	if err != nil {
		return nil, err
	}

	atr, err := ATR(high, low, close, atrPeriod)
	if err != nil {
		return nil, err
	}

	out := make([]SuperTrendResult, n)
	var (
		finalUpper decimal.Decimal
		finalLower decimal.Decimal
		direction  = TrendUp
		started    bool
	)

	for i := atrPeriod; i < n; i++ {
		mid := high[i].Add(low[i]).Div(decTwo)
		band := atr[i].Mul(mult)
		basicUpper := mid.Add(band)
		basicLower := mid.Sub(band)

		if !started {
			finalUpper = basicUpper
			finalLower = basicLower
			started = true
		} else {
			// Upper band only moves down, lower band only moves up,
			// unless the previous close escaped it.
			if basicUpper.LessThan(finalUpper) || close[i-1].GreaterThan(finalUpper) {
				finalUpper = basicUpper
			}
			if basicLower.GreaterThan(finalLower) || close[i-1].LessThan(finalLower) {
				finalLower = basicLower
			}
		}

		if direction == TrendUp && close[i].LessThan(finalLower) {
			direction = TrendDown
		} else if direction == TrendDown && close[i].GreaterThan(finalUpper) {
			direction = TrendUp
		}

		value := finalLower
		if direction == TrendDown {
			value = finalUpper
		}
		out[i] = SuperTrendResult{Value: ref(value), Direction: direction}
	}
	return out, nil
}
