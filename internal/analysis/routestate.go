package analysis

import (
	"github.com/tyeom/zeroquant/internal/domain"
)

// RouteState is the five-phase ordinal classification of a symbol's
// current structural regime. The serialized form is the upper-case
// constant value.
type RouteState string

const (
	RouteAttack   RouteState = "ATTACK"
	RouteArmed    RouteState = "ARMED"
	RouteNeutral  RouteState = "NEUTRAL"
	RouteWait     RouteState = "WAIT"
	RouteOverheat RouteState = "OVERHEAT"
)

// Named thresholds of the classifier. The hard gates take precedence
// over the score bands.
const (
	overheatRSI      = 75.0 // RSI at or above reads overheated
	overheatDistMA20 = 15.0 // % above MA20 at or above reads overheated
	attackScore      = 70.0
	armedScore       = 50.0
	neutralScore     = 30.0
)

// ClassifyRouteState reads at least 40 candles and labels the current
// phase. It is pure: the same candles always yield the same state.
//
// Case analysis, in order:
//  1. Overheat gate: stretched RSI or a close far above MA20 overrides
//     everything — chasing here buys the top.
//  2. Score bands on the breakout score, with hard gates on ATTACK
//     (rising lows and accumulating volume must both confirm).
func ClassifyRouteState(candles []domain.Kline) (RouteState, error) {
	features, err := ComputeStructuralFeatures(candles)
	if err != nil {
		return "", err
	}
	return classifyFeatures(features), nil
}

func classifyFeatures(f StructuralFeatures) RouteState {
	if f.RSI >= overheatRSI || f.DistMA20 >= overheatDistMA20 {
		return RouteOverheat
	}

	score := f.BreakoutScore()
	switch {
	case score >= attackScore && f.LowTrend > 0 && f.VolQuality > 0:
		return RouteAttack
	case score >= armedScore:
		return RouteArmed
	case score >= neutralScore:
		return RouteNeutral
	default:
		return RouteWait
	}
}
