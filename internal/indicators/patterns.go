package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// PatternType names a detected candlestick pattern.
type PatternType string

const (
	PatternNone             PatternType = "none"
	PatternDoji             PatternType = "doji"
	PatternHammer           PatternType = "hammer"
	PatternInvertedHammer   PatternType = "inverted_hammer"
	PatternHangingMan       PatternType = "hanging_man"
	PatternShootingStar     PatternType = "shooting_star"
	PatternBullishEngulfing PatternType = "bullish_engulfing"
	PatternBearishEngulfing PatternType = "bearish_engulfing"
)

// PatternResult is the detection outcome for one candle. Confidence is
// a ranked score in [0, 1], not a probability.
type PatternResult struct {
	Pattern    PatternType
	Confidence decimal.Decimal
}

// PatternParams tunes the detector.
type PatternParams struct {
	// BodyRatioThreshold marks a doji when body/range falls below it.
	BodyRatioThreshold decimal.Decimal
	// ShadowRatioThreshold is the minimum shadow/body ratio for hammer
	// family patterns.
	ShadowRatioThreshold decimal.Decimal
	// TrendPeriod is the lookback used to classify the local trend.
	TrendPeriod int
}

// DefaultPatternParams returns the detector defaults.
func DefaultPatternParams() PatternParams {
	return PatternParams{
		BodyRatioThreshold:   decimal.NewFromFloat(0.1),
		ShadowRatioThreshold: decTwo,
		TrendPeriod:          5,
	}
}

type candle struct {
	open, high, low, close decimal.Decimal
}

func (c candle) body() decimal.Decimal  { return c.close.Sub(c.open).Abs() }
func (c candle) rng() decimal.Decimal   { return c.high.Sub(c.low) }
func (c candle) upper() decimal.Decimal { return c.high.Sub(decimal.Max(c.open, c.close)) }
func (c candle) lower() decimal.Decimal { return decimal.Min(c.open, c.close).Sub(c.low) }
func (c candle) bullish() bool          { return c.close.GreaterThan(c.open) }

// DetectPatterns classifies each candle. Trend context (+1/0/-1 from the
// close TrendPeriod candles back) modulates confidence and picks between
// the bullish and bearish reading of the same shape. Zero-range candles
// degrade to a full-confidence doji.
func DetectPatterns(open, high, low, close []decimal.Decimal, params PatternParams) ([]PatternResult, error) {
	n, err := checkAligned(open, high, low, close)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errs.InsufficientData(1, 0)
	}
	if params.TrendPeriod <= 0 {
		return nil, errs.InvalidParameter("trend period must be positive, got %d", params.TrendPeriod)
	}

	out := make([]PatternResult, n)
	for i := 0; i < n; i++ {
		cur := candle{open[i], high[i], low[i], close[i]}

		trend := 0
		if i >= params.TrendPeriod {
			trend = detectTrend(close, i, params.TrendPeriod)
		}

		var prev *candle
		if i > 0 {
			p := candle{open[i-1], high[i-1], low[i-1], close[i-1]}
			prev = &p
		}
		out[i] = classify(cur, prev, trend, params)
	}
	return out, nil
}

func classify(cur candle, prev *candle, trend int, params PatternParams) PatternResult {
	if conf, ok := isDoji(cur, params); ok {
		return PatternResult{Pattern: PatternDoji, Confidence: conf}
	}

	if prev != nil {
		if conf, ok := isBullishEngulfing(cur, *prev, trend); ok {
			return PatternResult{Pattern: PatternBullishEngulfing, Confidence: conf}
		}
		if conf, ok := isBearishEngulfing(cur, *prev, trend); ok {
			return PatternResult{Pattern: PatternBearishEngulfing, Confidence: conf}
		}
	}

	if conf, ok := isHammerShape(cur, trend, params); ok {
		pattern := PatternHangingMan
		if trend < 0 {
			pattern = PatternHammer
		}
		return PatternResult{Pattern: pattern, Confidence: conf}
	}
	if conf, ok := isInvertedHammerShape(cur, trend, params); ok {
		pattern := PatternShootingStar
		if trend < 0 {
			pattern = PatternInvertedHammer
		}
		return PatternResult{Pattern: pattern, Confidence: conf}
	}

	return PatternResult{Pattern: PatternNone, Confidence: decimal.Zero}
}

func isDoji(c candle, params PatternParams) (decimal.Decimal, bool) {
	rng := c.rng()
	if rng.IsZero() {
		// open == high == low == close: the purest doji.
		return decimal.NewFromInt(1), true
	}
	bodyRatio := c.body().Div(rng)
	if bodyRatio.GreaterThanOrEqual(params.BodyRatioThreshold) {
		return decimal.Zero, false
	}
	conf := decimal.NewFromInt(1).Sub(bodyRatio.Div(params.BodyRatioThreshold))
	return decimal.Min(conf, decimal.NewFromInt(1)), true
}

func isHammerShape(c candle, trend int, params PatternParams) (decimal.Decimal, bool) {
	body := c.body()
	if body.IsZero() {
		return decimal.Zero, false
	}
	half := decimal.NewFromFloat(0.5)
	if c.lower().LessThan(body.Mul(params.ShadowRatioThreshold)) || c.upper().GreaterThanOrEqual(body.Mul(half)) {
		return decimal.Zero, false
	}

	conf := decimal.NewFromFloat(0.7)
	if trend < 0 {
		conf = conf.Add(decimal.NewFromFloat(0.2))
	}
	if c.lower().Div(body).GreaterThan(decimal.NewFromInt(3)) {
		conf = conf.Add(decimal.NewFromFloat(0.1))
	}
	return decimal.Min(conf, decimal.NewFromInt(1)), true
}

func isInvertedHammerShape(c candle, trend int, params PatternParams) (decimal.Decimal, bool) {
	body := c.body()
	if body.IsZero() {
		return decimal.Zero, false
	}
	half := decimal.NewFromFloat(0.5)
	if c.upper().LessThan(body.Mul(params.ShadowRatioThreshold)) || c.lower().GreaterThanOrEqual(body.Mul(half)) {
		return decimal.Zero, false
	}

	conf := decimal.NewFromFloat(0.6)
	if trend < 0 {
		conf = conf.Add(decimal.NewFromFloat(0.2))
	}
	if c.upper().Div(body).GreaterThan(decimal.NewFromInt(3)) {
		conf = conf.Add(decimal.NewFromFloat(0.1))
	}
	return decimal.Min(conf, decimal.NewFromInt(1)), true
}

func isBullishEngulfing(cur, prev candle, trend int) (decimal.Decimal, bool) {
	if prev.bullish() || !cur.bullish() ||
		cur.open.GreaterThanOrEqual(prev.close) || cur.close.LessThanOrEqual(prev.open) {
		return decimal.Zero, false
	}

	conf := decimal.NewFromFloat(0.8)
	if trend < 0 {
		conf = conf.Add(decimal.NewFromFloat(0.15))
	}
	if !prev.body().IsZero() && cur.body().Div(prev.body()).GreaterThan(decimal.NewFromFloat(1.5)) {
		conf = conf.Add(decimal.NewFromFloat(0.05))
	}
	return decimal.Min(conf, decimal.NewFromInt(1)), true
}

func isBearishEngulfing(cur, prev candle, trend int) (decimal.Decimal, bool) {
	if !prev.bullish() || cur.bullish() ||
		cur.open.LessThanOrEqual(prev.close) || cur.close.GreaterThanOrEqual(prev.open) {
		return decimal.Zero, false
	}

	conf := decimal.NewFromFloat(0.8)
	if trend > 0 {
		conf = conf.Add(decimal.NewFromFloat(0.15))
	}
	if !prev.body().IsZero() && cur.body().Div(prev.body()).GreaterThan(decimal.NewFromFloat(1.5)) {
		conf = conf.Add(decimal.NewFromFloat(0.05))
	}
	return decimal.Min(conf, decimal.NewFromInt(1)), true
}

// detectTrend labels the local trend: +1 above a 2% rise over the
// period, -1 below a 2% fall, 0 otherwise.
func detectTrend(close []decimal.Decimal, index, period int) int {
	current := close[index]
	past := close[index-period]
	if current.GreaterThan(past.Mul(decimal.NewFromFloat(1.02))) {
		return 1
	}
	if current.LessThan(past.Mul(decimal.NewFromFloat(0.98))) {
		return -1
	}
	return 0
}
