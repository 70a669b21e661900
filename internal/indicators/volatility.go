package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// BollingerResult is one (upper, middle, lower) band triple.
type BollingerResult struct {
	Upper  *decimal.Decimal
	Middle *decimal.Decimal
	Lower  *decimal.Decimal
}

// Bollinger computes Bollinger bands: middle = SMA(period), upper/lower
// = middle +/- k standard deviations.
func Bollinger(prices []decimal.Decimal, period int, k decimal.Decimal) ([]BollingerResult, error) {
	if k.Sign() <= 0 {
		return nil, errs.InvalidParameter("band multiplier must be positive, got %s", k)
	}
	middle, err := SMA(prices, period)
	if err != nil {
		return nil, err
	}

	out := make([]BollingerResult, len(prices))
	for i := period - 1; i < len(prices); i++ {
		sd := stddev(prices[i+1-period : i+1])
		band := sd.Mul(k)
		out[i] = BollingerResult{
			Upper:  ref(middle[i].Add(band)),
			Middle: middle[i],
			Lower:  ref(middle[i].Sub(band)),
		}
	}
	return out, nil
}

// ATR computes the average true range with Wilder smoothing. True range
// uses the previous close, so the first defined entry sits at index
// period.
func ATR(high, low, close []decimal.Decimal, period int) ([]*decimal.Decimal, error) {
	if period <= 0 {
		return nil, errs.InvalidParameter("period must be positive, got %d", period)
	}
	n, err := checkAligned(high, low, close)
	if err != nil {
		return nil, err
	}
	if n < period+1 {
		return nil, errs.InsufficientData(period+1, n)
	}

	// True range from index 1.
	tr := make([]decimal.Decimal, n)
	for i := 1; i < n; i++ {
		hl := high[i].Sub(low[i])
		hc := high[i].Sub(close[i-1]).Abs()
		lc := low[i].Sub(close[i-1]).Abs()
		tr[i] = decimal.Max(hl, hc, lc)
	}

	out := make([]*decimal.Decimal, n)
	periodDec := decimal.NewFromInt(int64(period))
	var atr decimal.Decimal
	for i := period; i < n; i++ {
		if i == period {
			sum := decimal.Zero
			for _, v := range tr[1 : period+1] {
				sum = sum.Add(v)
			}
			atr = sum.Div(periodDec)
		} else {
			atr = atr.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(tr[i]).Div(periodDec)
		}
		out[i] = ref(atr)
	}
	return out, nil
}

// KeltnerResult is one (upper, middle, lower) channel triple.
type KeltnerResult struct {
	Upper  *decimal.Decimal
	Middle *decimal.Decimal
	Lower  *decimal.Decimal
}

// Keltner computes the Keltner channel: middle = EMA(period), bands =
// middle +/- atrMult * ATR(period).
func Keltner(high, low, close []decimal.Decimal, period int, atrMult decimal.Decimal) ([]KeltnerResult, error) {
	if atrMult.Sign() <= 0 {
		return nil, errs.InvalidParameter("atr multiplier must be positive, got %s", atrMult)
	}
	middle, err := EMA(close, period)
	if err != nil {
		return nil, err
	}
	atr, err := ATR(high, low, close, period)
	if err != nil {
		return nil, err
	}

	out := make([]KeltnerResult, len(close))
	for i := range close {
		if middle[i] == nil || atr[i] == nil {
			continue
		}
		band := atr[i].Mul(atrMult)
		out[i] = KeltnerResult{
			Upper:  ref(middle[i].Add(band)),
			Middle: middle[i],
			Lower:  ref(middle[i].Sub(band)),
		}
	}
	return out, nil
}

// TTMSqueezeResult is one squeeze observation.
type TTMSqueezeResult struct {
	IsSqueeze    bool
	Momentum     *decimal.Decimal
	SqueezeCount int
}

// TTMSqueeze flags candles where the Bollinger bands sit entirely
// inside the Keltner channel. SqueezeCount is the number of consecutive
// candles, including the current one, for which the squeeze has been
// continuously active. Momentum is the close's distance from the mean
// of the Donchian midpoint (highest high and lowest low over bbPeriod)
// and the bbPeriod SMA.
func TTMSqueeze(high, low, close []decimal.Decimal, bbPeriod, kcPeriod int, atrMult decimal.Decimal) ([]TTMSqueezeResult, error) {
	bb, err := Bollinger(close, bbPeriod, decTwo)
	if err != nil {
		return nil, err
	}
	kc, err := Keltner(high, low, close, kcPeriod, atrMult)
	if err != nil {
		return nil, err
	}
	sma, err := SMA(close, bbPeriod)
	if err != nil {
		return nil, err
	}

	out := make([]TTMSqueezeResult, len(close))
	streak := 0
	for i := range close {
		if bb[i].Upper == nil || kc[i].Upper == nil {
			continue
		}

		isSqueeze := bb[i].Upper.LessThan(*kc[i].Upper) && bb[i].Lower.GreaterThan(*kc[i].Lower)
		if isSqueeze {
			streak++
		} else {
			streak = 0
		}

		result := TTMSqueezeResult{IsSqueeze: isSqueeze, SqueezeCount: streak}
		if sma[i] != nil {
			// Donchian midpoint over the squeeze window.
			start := i + 1 - bbPeriod
			highest := high[start]
			lowest := low[start]
			for j := start + 1; j <= i; j++ {
				highest = decimal.Max(highest, high[j])
				lowest = decimal.Min(lowest, low[j])
			}
			mid := highest.Add(lowest).Div(decTwo).Add(*sma[i]).Div(decTwo)
			result.Momentum = ref(close[i].Sub(mid))
		}
		out[i] = result
	}
	return out, nil
}
