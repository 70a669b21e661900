// Package analysis builds structural features, the route-state and
// market-regime classifiers, the volume profile and the sector
// relative-strength ranking on top of the indicator library.
//
// The feature computations that run linear regressions escape to
// float64 briefly (via gonum); everything persisted re-enters Decimal.
package analysis

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
	"github.com/tyeom/zeroquant/internal/indicators"
)

// MinStructuralCandles is the minimum history the feature set needs.
const MinStructuralCandles = 40

// structuralWindow is the lookback for the custom features.
const structuralWindow = 20

// StructuralFeatures distinguishes live consolidation from dead drift.
type StructuralFeatures struct {
	// LowTrend is the regression slope of recent lows normalized by the
	// mean close, clamped to [-1, 1]. Positive means rising lows.
	LowTrend float64 `json:"low_trend"`
	// VolQuality compares up-day and down-day volume, in [-1, 1].
	// Positive means volume concentrates on up days.
	VolQuality float64 `json:"vol_quality"`
	// RangePos is the close's position inside the 20-candle range, in
	// [0, 1].
	RangePos float64 `json:"range_pos"`
	// DistMA20 is the percentage distance from the 20-candle SMA.
	DistMA20 float64 `json:"dist_ma20"`
	// BBWidth is the Bollinger band width as a percentage of the middle
	// band. Narrow means volatility compression.
	BBWidth float64 `json:"bb_width"`
	// RSI is the 14-period RSI.
	RSI float64 `json:"rsi"`
}

// ComputeStructuralFeatures derives the feature set from at least 40
// ascending candles.
func ComputeStructuralFeatures(candles []domain.Kline) (StructuralFeatures, error) {
	if len(candles) < MinStructuralCandles {
		return StructuralFeatures{}, errs.InsufficientData(MinStructuralCandles, len(candles))
	}

	closes := domain.Closes(candles)
	highs := domain.Highs(candles)
	lows := domain.Lows(candles)
	current := closes[len(closes)-1]

	ma20, err := indicators.SMA(closes, 20)
	if err != nil {
		return StructuralFeatures{}, err
	}
	lastMA := ma20[len(ma20)-1]
	if lastMA == nil {
		return StructuralFeatures{}, errs.Calculation("ma20 undefined at series end")
	}
	distMA20 := 0.0
	if lastMA.Sign() > 0 {
		distMA20 = current.Sub(*lastMA).Div(*lastMA).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	bb, err := indicators.Bollinger(closes, 20, decimal.NewFromInt(2))
	if err != nil {
		return StructuralFeatures{}, err
	}
	lastBB := bb[len(bb)-1]
	bbWidth := 0.0
	if lastBB.Middle != nil && lastBB.Middle.Sign() > 0 {
		bbWidth = lastBB.Upper.Sub(*lastBB.Lower).Div(*lastBB.Middle).
			Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	rsiSeries, err := indicators.RSI(closes, 14)
	if err != nil {
		return StructuralFeatures{}, err
	}
	lastRSI := rsiSeries[len(rsiSeries)-1]
	if lastRSI == nil {
		return StructuralFeatures{}, errs.Calculation("rsi undefined at series end")
	}

	return StructuralFeatures{
		LowTrend:   lowTrend(lows, closes),
		VolQuality: volQuality(candles),
		RangePos:   rangePosition(highs, lows, current),
		DistMA20:   distMA20,
		BBWidth:    bbWidth,
		RSI:        lastRSI.InexactFloat64(),
	}, nil
}

// lowTrend fits a line through the recent lows and normalizes the slope
// by the mean close over the same window.
func lowTrend(lows, closes []decimal.Decimal) float64 {
	start := len(lows) - structuralWindow
	xs := make([]float64, structuralWindow)
	ys := make([]float64, structuralWindow)
	meanClose := 0.0
	for i := 0; i < structuralWindow; i++ {
		xs[i] = float64(i)
		ys[i] = lows[start+i].InexactFloat64()
		meanClose += closes[start+i].InexactFloat64()
	}
	meanClose /= structuralWindow

	if meanClose <= 0 {
		return 0
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return clamp(slope/meanClose*100, -1, 1)
}

// volQuality compares average up-day volume against average down-day
// volume, normalized by the window's mean volume.
func volQuality(candles []domain.Kline) float64 {
	start := len(candles) - structuralWindow
	recent := candles[start:]

	var upVolume, downVolume float64
	upCount, downCount := 0, 0
	for _, c := range recent {
		vol := c.Volume.InexactFloat64()
		switch c.Close.Cmp(c.Open) {
		case 1:
			upVolume += vol
			upCount++
		case -1:
			downVolume += vol
			downCount++
		}
	}

	avgUp := 0.0
	if upCount > 0 {
		avgUp = upVolume / float64(upCount)
	}
	avgDown := 0.0
	if downCount > 0 {
		avgDown = downVolume / float64(downCount)
	}
	totalAvg := (upVolume + downVolume) / float64(len(recent))
	if totalAvg <= 0 {
		return 0
	}
	return clamp((avgUp-avgDown)/totalAvg, -1, 1)
}

// rangePosition places the close inside the window's high-low range.
// A degenerate range reads as the middle.
func rangePosition(highs, lows []decimal.Decimal, current decimal.Decimal) float64 {
	start := len(highs) - structuralWindow
	maxHigh := highs[start]
	minLow := lows[start]
	for i := start + 1; i < len(highs); i++ {
		maxHigh = decimal.Max(maxHigh, highs[i])
		minLow = decimal.Min(minLow, lows[i])
	}

	rng := maxHigh.Sub(minLow)
	if rng.Sign() <= 0 {
		return 0.5
	}
	return clamp(current.Sub(minLow).Div(rng).InexactFloat64(), 0, 1)
}

// BreakoutScore folds the features into a 0..100 score. Weights:
// low_trend 30%, vol_quality 25%, range_pos 20%, band width 15%
// (narrower scores higher), MA20 distance 10%.
func (f StructuralFeatures) BreakoutScore() float64 {
	score := (f.LowTrend*0.3+0.3)*50 +
		(f.VolQuality*0.25+0.25)*50 +
		f.RangePos*0.2*100 +
		(1-min(f.BBWidth/20, 1))*0.15*100 +
		min(abs(f.DistMA20)/10, 1)*0.1*100
	return clamp(score, 0, 100)
}

// IsAliveConsolidation reports rising lows, accumulating volume and
// compressed volatility together.
func (f StructuralFeatures) IsAliveConsolidation() bool {
	return f.LowTrend > 0.2 && f.VolQuality > 0.1 && f.BBWidth < 3.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
