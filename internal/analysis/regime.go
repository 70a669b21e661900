package analysis

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
	"github.com/tyeom/zeroquant/internal/indicators"
)

// MarketRegime labels the macro context of a symbol. Serialized forms
// are the SCREAMING_SNAKE_CASE constant values.
type MarketRegime string

const (
	RegimeStrongUptrend   MarketRegime = "STRONG_UPTREND"
	RegimeUptrend         MarketRegime = "UPTREND"
	RegimeBottomBounce    MarketRegime = "BOTTOM_BOUNCE"
	RegimeNeutral         MarketRegime = "NEUTRAL"
	RegimeDowntrend       MarketRegime = "DOWNTREND"
	RegimeStrongDowntrend MarketRegime = "STRONG_DOWNTREND"
)

// MinRegimeCandles is the minimum history the classifier needs.
const MinRegimeCandles = 70

// Named thresholds of the regime case analysis.
const (
	strongSlopePct  = 0.15 // daily long-MA slope (% of price) for "strong"
	trendSlopePct   = 0.03
	highRangePos    = 0.7 // position in the 52-week (or available) range
	lowRangePos     = 0.3
	bounceMomentum  = 0.5 // ATR-normalized momentum for a bottom bounce
	weakMomentum    = -0.5
)

// RegimeResult carries the label and the components that produced it.
type RegimeResult struct {
	Regime    MarketRegime `json:"regime"`
	MASlope   float64      `json:"ma_slope_pct"`
	RangePos  float64      `json:"range_pos_52w"`
	Momentum  float64      `json:"atr_momentum"`
}

// ClassifyMarketRegime reads at least 70 candles and labels the macro
// context from the long-MA slope, the position in the yearly range and
// ATR-normalized momentum. Pure: same candles, same label.
func ClassifyMarketRegime(candles []domain.Kline) (RegimeResult, error) {
	if len(candles) < MinRegimeCandles {
		return RegimeResult{}, errs.InsufficientData(MinRegimeCandles, len(candles))
	}

	closes := domain.Closes(candles)
	highs := domain.Highs(candles)
	lows := domain.Lows(candles)
	current := closes[len(closes)-1]

	// Long-MA slope over the last ten candles, as % of price per candle.
	ma50, err := indicators.SMA(closes, 50)
	if err != nil {
		return RegimeResult{}, err
	}
	slopeWindow := 10
	older := ma50[len(ma50)-1-slopeWindow]
	newer := ma50[len(ma50)-1]
	if older == nil || newer == nil {
		return RegimeResult{}, errs.Calculation("ma50 undefined in slope window")
	}
	maSlope := 0.0
	if older.Sign() > 0 {
		maSlope = newer.Sub(*older).Div(*older).
			Div(decimal.NewFromInt(int64(slopeWindow))).
			Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	// Position inside the available yearly range.
	maxHigh := highs[0]
	minLow := lows[0]
	for i := 1; i < len(highs); i++ {
		maxHigh = decimal.Max(maxHigh, highs[i])
		minLow = decimal.Min(minLow, lows[i])
	}
	rangePos := 0.5
	if rng := maxHigh.Sub(minLow); rng.Sign() > 0 {
		rangePos = clamp(current.Sub(minLow).Div(rng).InexactFloat64(), 0, 1)
	}

	// 20-candle move normalized by ATR.
	atr, err := indicators.ATR(highs, lows, closes, 14)
	if err != nil {
		return RegimeResult{}, err
	}
	lastATR := atr[len(atr)-1]
	momentum := 0.0
	if lastATR != nil && lastATR.Sign() > 0 {
		momentum = current.Sub(closes[len(closes)-21]).Div(*lastATR).InexactFloat64()
	}

	result := RegimeResult{MASlope: maSlope, RangePos: rangePos, Momentum: momentum}
	result.Regime = classifyRegime(maSlope, rangePos, momentum)
	return result, nil
}

func classifyRegime(maSlope, rangePos, momentum float64) MarketRegime {
	switch {
	case maSlope >= strongSlopePct && rangePos >= highRangePos:
		return RegimeStrongUptrend
	case maSlope >= trendSlopePct:
		return RegimeUptrend
	case maSlope <= -strongSlopePct && rangePos <= lowRangePos:
		return RegimeStrongDowntrend
	case maSlope <= -trendSlopePct && momentum <= weakMomentum:
		return RegimeDowntrend
	case rangePos <= lowRangePos && momentum >= bounceMomentum:
		// Falling knife turning: near the bottom of the range but
		// recent candles push hard upward.
		return RegimeBottomBounce
	default:
		return RegimeNeutral
	}
}
