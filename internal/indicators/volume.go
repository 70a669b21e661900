package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// OBVResult is one on-balance volume observation. Change is the sign of
// the close-to-close move that produced it: -1, 0 or 1.
type OBVResult struct {
	Value  decimal.Decimal
	Change int
}

// OBV accumulates signed volume across close-to-close moves.
func OBV(close, volume []decimal.Decimal) ([]OBVResult, error) {
	n, err := checkAligned(close, volume)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errs.InsufficientData(1, 0)
	}

	out := make([]OBVResult, n)
	obv := decimal.Zero
	for i := 1; i < n; i++ {
		change := close[i].Cmp(close[i-1])
		switch change {
		case 1:
			obv = obv.Add(volume[i])
		case -1:
			obv = obv.Sub(volume[i])
		}
		out[i] = OBVResult{Value: obv, Change: change}
	}
	return out, nil
}

// DetectOBVDivergence flags indexes where price and OBV move in
// opposite directions across the lookback window.
func DetectOBVDivergence(close []decimal.Decimal, obv []OBVResult, lookback int) ([]bool, error) {
	if lookback <= 0 {
		return nil, errs.InvalidParameter("lookback must be positive, got %d", lookback)
	}
	if len(close) != len(obv) {
		return nil, errs.InvalidParameter("close and obv lengths differ: %d vs %d", len(close), len(obv))
	}

	out := make([]bool, len(close))
	for i := lookback; i < len(close); i++ {
		priceUp := close[i].GreaterThan(close[i-lookback])
		obvUp := obv[i].Value.GreaterThan(obv[i-lookback].Value)
		out[i] = priceUp != obvUp
	}
	return out, nil
}

// VWAPResult is one rolling VWAP observation with its bands.
type VWAPResult struct {
	VWAP         *decimal.Decimal
	Upper        *decimal.Decimal
	Lower        *decimal.Decimal
	DeviationPct *decimal.Decimal
}

// VWAP computes the rolling volume-weighted average price over period
// candles, with bands at +/- bandMult standard deviations of the
// typical price and the close's percentage deviation from the VWAP.
func VWAP(high, low, close, volume []decimal.Decimal, period int, bandMult decimal.Decimal) ([]VWAPResult, error) {
	if period <= 0 {
		return nil, errs.InvalidParameter("period must be positive, got %d", period)
	}
	if bandMult.Sign() <= 0 {
		return nil, errs.InvalidParameter("band multiplier must be positive, got %s", bandMult)
	}
	n, err := checkAligned(high, low, close, volume)
	if err != nil {
		return nil, err
	}
	if n < period {
		return nil, errs.InsufficientData(period, n)
	}

	three := decimal.NewFromInt(3)
	typical := make([]decimal.Decimal, n)
	for i := range typical {
		typical[i] = high[i].Add(low[i]).Add(close[i]).Div(three)
	}

	out := make([]VWAPResult, n)
	for i := period - 1; i < n; i++ {
		start := i + 1 - period
		pv := decimal.Zero
		vol := decimal.Zero
		for j := start; j <= i; j++ {
			pv = pv.Add(typical[j].Mul(volume[j]))
			vol = vol.Add(volume[j])
		}
		if vol.IsZero() {
			continue
		}

		vwap := pv.Div(vol)
		band := stddev(typical[start : i+1]).Mul(bandMult)
		result := VWAPResult{
			VWAP:  ref(vwap),
			Upper: ref(vwap.Add(band)),
			Lower: ref(vwap.Sub(band)),
		}
		if !vwap.IsZero() {
			result.DeviationPct = ref(close[i].Sub(vwap).Div(vwap).Mul(decHundred))
		}
		out[i] = result
	}
	return out, nil
}

// DetectVWAPCrossover returns the crossing direction at each index:
// 1 when the close crosses above the VWAP, -1 below, 0 otherwise.
func DetectVWAPCrossover(close []decimal.Decimal, vwap []VWAPResult) ([]int, error) {
	if len(close) != len(vwap) {
		return nil, errs.InvalidParameter("close and vwap lengths differ: %d vs %d", len(close), len(vwap))
	}

	out := make([]int, len(close))
	for i := 1; i < len(close); i++ {
		if vwap[i].VWAP == nil || vwap[i-1].VWAP == nil {
			continue
		}
		switch {
		case close[i-1].LessThanOrEqual(*vwap[i-1].VWAP) && close[i].GreaterThan(*vwap[i].VWAP):
			out[i] = 1
		case close[i-1].GreaterThanOrEqual(*vwap[i-1].VWAP) && close[i].LessThan(*vwap[i].VWAP):
			out[i] = -1
		}
	}
	return out, nil
}
