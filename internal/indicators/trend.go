package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// SMA computes the simple moving average. The first defined entry sits
// at index period-1.
func SMA(prices []decimal.Decimal, period int) ([]*decimal.Decimal, error) {
	if err := checkSeries(prices, period, period); err != nil {
		return nil, err
	}

	out := make([]*decimal.Decimal, len(prices))
	window := decimal.Zero
	for i, p := range prices {
		window = window.Add(p)
		if i >= period {
			window = window.Sub(prices[i-period])
		}
		if i >= period-1 {
			out[i] = ref(window.Div(decimal.NewFromInt(int64(period))))
		}
	}
	return out, nil
}

// EMA computes the exponential moving average with alpha = 2/(period+1),
// seeded from the SMA of the first period values.
func EMA(prices []decimal.Decimal, period int) ([]*decimal.Decimal, error) {
	if err := checkSeries(prices, period, period); err != nil {
		return nil, err
	}

	alpha := decTwo.Div(decimal.NewFromInt(int64(period + 1)))
	oneMinus := decimal.NewFromInt(1).Sub(alpha)

	out := make([]*decimal.Decimal, len(prices))
	var ema decimal.Decimal
	for i, p := range prices {
		switch {
		case i < period-1:
			// warmup
		case i == period-1:
			sum := decimal.Zero
			for _, v := range prices[:period] {
				sum = sum.Add(v)
			}
			ema = sum.Div(decimal.NewFromInt(int64(period)))
			out[i] = ref(ema)
		default:
			ema = p.Mul(alpha).Add(ema.Mul(oneMinus))
			out[i] = ref(ema)
		}
	}
	return out, nil
}

// WMA computes the linearly weighted moving average used by HMA.
func WMA(prices []decimal.Decimal, period int) ([]*decimal.Decimal, error) {
	if err := checkSeries(prices, period, period); err != nil {
		return nil, err
	}

	denom := decimal.NewFromInt(int64(period * (period + 1) / 2))
	out := make([]*decimal.Decimal, len(prices))
	for i := period - 1; i < len(prices); i++ {
		weighted := decimal.Zero
		for j := 0; j < period; j++ {
			weight := decimal.NewFromInt(int64(j + 1))
			weighted = weighted.Add(prices[i-period+1+j].Mul(weight))
		}
		out[i] = ref(weighted.Div(denom))
	}
	return out, nil
}

// MACDResult is one point of the MACD triple.
type MACDResult struct {
	MACD      *decimal.Decimal
	Signal    *decimal.Decimal
	Histogram *decimal.Decimal
}

// MACD computes macd = EMA(fast) - EMA(slow), signal = EMA(macd, signal
// period), histogram = macd - signal.
func MACD(prices []decimal.Decimal, fast, slow, signal int) ([]MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return nil, errs.InvalidParameter("macd periods must be positive (%d, %d, %d)", fast, slow, signal)
	}
	if fast >= slow {
		return nil, errs.InvalidParameter("fast period %d must be below slow period %d", fast, slow)
	}
	if len(prices) < slow+signal {
		return nil, errs.InsufficientData(slow+signal, len(prices))
	}

	emaFast, err := EMA(prices, fast)
	if err != nil {
		return nil, err
	}
	emaSlow, err := EMA(prices, slow)
	if err != nil {
		return nil, err
	}

	out := make([]MACDResult, len(prices))
	macdLine := make([]decimal.Decimal, 0, len(prices)-slow+1)
	for i := range prices {
		if emaFast[i] == nil || emaSlow[i] == nil {
			continue
		}
		macd := emaFast[i].Sub(*emaSlow[i])
		out[i].MACD = ref(macd)
		macdLine = append(macdLine, macd)
	}

	signalLine, err := EMA(macdLine, signal)
	if err != nil {
		return nil, err
	}
	offset := slow - 1 // index of the first defined macd value
	for j, sig := range signalLine {
		if sig == nil {
			continue
		}
		i := offset + j
		out[i].Signal = ref(*sig)
		out[i].Histogram = ref(out[i].MACD.Sub(*sig))
	}
	return out, nil
}

// HMA computes the Hull moving average:
// WMA(2*WMA(period/2) - WMA(period), sqrt(period)).
func HMA(prices []decimal.Decimal, period int) ([]*decimal.Decimal, error) {
	if period < 4 {
		return nil, errs.InvalidParameter("hma period must be at least 4, got %d", period)
	}
	if err := checkSeries(prices, period, period); err != nil {
		return nil, err
	}

	half := period / 2
	sqrtPeriod := intSqrt(period)

	wmaHalf, err := WMA(prices, half)
	if err != nil {
		return nil, err
	}
	wmaFull, err := WMA(prices, period)
	if err != nil {
		return nil, err
	}

	// raw = 2*WMA(half) - WMA(full), defined from period-1 onward.
	raw := make([]decimal.Decimal, 0, len(prices)-period+1)
	for i := period - 1; i < len(prices); i++ {
		raw = append(raw, wmaHalf[i].Mul(decTwo).Sub(*wmaFull[i]))
	}
	if len(raw) < sqrtPeriod {
		return nil, errs.InsufficientData(period-1+sqrtPeriod, len(prices))
	}

	smoothed, err := WMA(raw, sqrtPeriod)
	if err != nil {
		return nil, err
	}

	out := make([]*decimal.Decimal, len(prices))
	for j, v := range smoothed {
		if v != nil {
			out[period-1+j] = v
		}
	}
	return out, nil
}

func intSqrt(n int) int {
	r := 1
	for r*r <= n {
		r++
	}
	return r - 1
}

// DetectGoldenCross flags indexes where the short MA crosses above the
// long MA.
func DetectGoldenCross(short, long []*decimal.Decimal) []bool {
	n := min(len(short), len(long))
	out := make([]bool, n)
	for i := 1; i < n; i++ {
		if short[i] == nil || long[i] == nil || short[i-1] == nil || long[i-1] == nil {
			continue
		}
		out[i] = short[i-1].LessThanOrEqual(*long[i-1]) && short[i].GreaterThan(*long[i])
	}
	return out
}

// DetectDeadCross flags indexes where the short MA crosses below the
// long MA.
func DetectDeadCross(short, long []*decimal.Decimal) []bool {
	n := min(len(short), len(long))
	out := make([]bool, n)
	for i := 1; i < n; i++ {
		if short[i] == nil || long[i] == nil || short[i-1] == nil || long[i-1] == nil {
			continue
		}
		out[i] = short[i-1].GreaterThanOrEqual(*long[i-1]) && short[i].LessThan(*long[i])
	}
	return out
}
