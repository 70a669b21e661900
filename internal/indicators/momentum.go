package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// RSI computes the relative strength index using an exponentially
// weighted mean of gains and losses with alpha = 1/period (not the
// simple Wilder mean-of-N). The first defined entry sits at index
// period. When the average loss is zero the output is 100.
func RSI(prices []decimal.Decimal, period int) ([]*decimal.Decimal, error) {
	if period <= 0 {
		return nil, errs.InvalidParameter("period must be positive, got %d", period)
	}
	if len(prices) < period+1 {
		return nil, errs.InsufficientData(period+1, len(prices))
	}

	// Deltas start at price index 1.
	gains := make([]decimal.Decimal, len(prices)-1)
	losses := make([]decimal.Decimal, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		delta := prices[i].Sub(prices[i-1])
		if delta.Sign() > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = delta.Abs()
		}
	}

	alpha := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(period)))
	oneMinus := decimal.NewFromInt(1).Sub(alpha)

	avgGains := ewm(gains, alpha, oneMinus, period)
	avgLosses := ewm(losses, alpha, oneMinus, period)

	out := make([]*decimal.Decimal, len(prices))
	for i := range gains {
		if avgGains[i] == nil || avgLosses[i] == nil {
			continue
		}
		idx := i + 1 // back to price indexing
		if avgLosses[i].IsZero() {
			out[idx] = ref(decHundred)
			continue
		}
		rs := avgGains[i].Div(*avgLosses[i])
		rsi := decHundred.Sub(decHundred.Div(decimal.NewFromInt(1).Add(rs)))
		out[idx] = ref(rsi)
	}
	return out, nil
}

// ewm computes the exponentially weighted mean with min_periods
// semantics: the first defined entry, at index minPeriods-1, is the
// simple mean of the values so far; later entries recurse.
func ewm(values []decimal.Decimal, alpha, oneMinus decimal.Decimal, minPeriods int) []*decimal.Decimal {
	out := make([]*decimal.Decimal, len(values))
	if len(values) == 0 {
		return out
	}

	var current decimal.Decimal
	for i, v := range values {
		switch {
		case i < minPeriods-1:
			if i == 0 {
				current = v
			} else {
				current = v.Mul(alpha).Add(current.Mul(oneMinus))
			}
		case i == minPeriods-1:
			sum := decimal.Zero
			for _, w := range values[:i+1] {
				sum = sum.Add(w)
			}
			current = sum.Div(decimal.NewFromInt(int64(i + 1)))
			out[i] = ref(current)
		default:
			current = v.Mul(alpha).Add(current.Mul(oneMinus))
			out[i] = ref(current)
		}
	}
	return out
}

// StochasticResult is one (%K, %D) pair.
type StochasticResult struct {
	K *decimal.Decimal
	D *decimal.Decimal
}

// Stochastic computes the stochastic oscillator. A zero high-low range
// yields the neutral %K of 50.
func Stochastic(high, low, close []decimal.Decimal, kPeriod, dPeriod int) ([]StochasticResult, error) {
	if kPeriod <= 0 || dPeriod <= 0 {
		return nil, errs.InvalidParameter("stochastic periods must be positive (%d, %d)", kPeriod, dPeriod)
	}
	n, err := checkAligned(high, low, close)
	if err != nil {
		return nil, err
	}
	if n < kPeriod {
		return nil, errs.InsufficientData(kPeriod, n)
	}

	fifty := decimal.NewFromInt(50)
	kValues := make([]*decimal.Decimal, n)
	for i := kPeriod - 1; i < n; i++ {
		start := i + 1 - kPeriod
		highest := high[start]
		lowest := low[start]
		for _, h := range high[start+1 : i+1] {
			highest = decimal.Max(highest, h)
		}
		for _, l := range low[start+1 : i+1] {
			lowest = decimal.Min(lowest, l)
		}

		rng := highest.Sub(lowest)
		if rng.IsZero() {
			kValues[i] = ref(fifty)
		} else {
			kValues[i] = ref(close[i].Sub(lowest).Div(rng).Mul(decHundred))
		}
	}

	out := make([]StochasticResult, n)
	for i := range out {
		out[i].K = kValues[i]
		if i < kPeriod+dPeriod-2 {
			continue
		}
		sum := decimal.Zero
		count := 0
		for _, k := range kValues[i+1-dPeriod : i+1] {
			if k != nil {
				sum = sum.Add(*k)
				count++
			}
		}
		if count > 0 {
			out[i].D = ref(sum.Div(decimal.NewFromInt(int64(count))))
		}
	}
	return out, nil
}

// MomentumScore averages the percentage change over each lookback
// period at the final index.
func MomentumScore(prices []decimal.Decimal, lookbacks []int) (decimal.Decimal, error) {
	if len(lookbacks) == 0 {
		return decimal.Zero, errs.InvalidParameter("lookbacks must not be empty")
	}
	maxLookback := 0
	for _, lb := range lookbacks {
		if lb <= 0 {
			return decimal.Zero, errs.InvalidParameter("lookback must be positive, got %d", lb)
		}
		maxLookback = max(maxLookback, lb)
	}
	if len(prices) < maxLookback+1 {
		return decimal.Zero, errs.InsufficientData(maxLookback+1, len(prices))
	}

	current := prices[len(prices)-1]
	sum := decimal.Zero
	valid := 0
	for _, lb := range lookbacks {
		past := prices[len(prices)-1-lb]
		if past.IsZero() {
			continue
		}
		sum = sum.Add(current.Sub(past).Div(past))
		valid++
	}
	if valid == 0 {
		return decimal.Zero, errs.Calculation("no valid momentum samples")
	}
	return sum.Div(decimal.NewFromInt(int64(valid))), nil
}
