package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectOne(t *testing.T, open, high, low, close float64) PatternResult {
	t.Helper()
	results, err := DetectPatterns(decs(open), decs(high), decs(low), decs(close), DefaultPatternParams())
	require.NoError(t, err)
	require.Len(t, results, 1)
	return results[0]
}

func TestDojiDetection(t *testing.T) {
	result := detectOne(t, 100, 102, 98, 100)
	assert.Equal(t, PatternDoji, result.Pattern)
	assert.True(t, result.Confidence.GreaterThan(decimal.NewFromFloat(0.9)))
}

func TestFourPriceDoji(t *testing.T) {
	// open == high == low == close: confidence 1.
	result := detectOne(t, 100, 100, 100, 100)
	assert.Equal(t, PatternDoji, result.Pattern)
	assert.Equal(t, "1", result.Confidence.String())
}

func TestHammerInDowntrend(t *testing.T) {
	// Falling closes, then a candle with a long lower shadow.
	open := decs(110, 108, 106, 104, 102, 100, 98.5)
	close := decs(108, 106, 104, 102, 100, 98, 99)
	high := decs(110.5, 108.5, 106.5, 104.5, 102.5, 100.5, 99.1)
	low := decs(107.5, 105.5, 103.5, 101.5, 99.5, 97.5, 96)

	results, err := DetectPatterns(open, high, low, close, DefaultPatternParams())
	require.NoError(t, err)

	last := results[len(results)-1]
	assert.Equal(t, PatternHammer, last.Pattern)
	assert.True(t, last.Confidence.GreaterThanOrEqual(decimal.NewFromFloat(0.7)))
}

func TestBullishEngulfing(t *testing.T) {
	// Previous bearish candle fully engulfed by a bullish one.
	open := decs(102, 98)
	close := decs(100, 103)
	high := decs(102.5, 103.5)
	low := decs(99.5, 97.5)

	results, err := DetectPatterns(open, high, low, close, DefaultPatternParams())
	require.NoError(t, err)
	assert.Equal(t, PatternBullishEngulfing, results[1].Pattern)
}

func TestBearishEngulfing(t *testing.T) {
	open := decs(98, 103)
	close := decs(102, 97)
	high := decs(102.5, 103.5)
	low := decs(97.5, 96.5)

	results, err := DetectPatterns(open, high, low, close, DefaultPatternParams())
	require.NoError(t, err)
	assert.Equal(t, PatternBearishEngulfing, results[1].Pattern)
}

func TestPatternLengthMismatch(t *testing.T) {
	_, err := DetectPatterns(decs(1, 2), decs(1), decs(1, 2), decs(1, 2), DefaultPatternParams())
	assert.Error(t, err)
}

func TestConfidenceStaysInUnitInterval(t *testing.T) {
	high, low, close := sampleOHLC(50)
	open := make([]decimal.Decimal, len(close))
	for i := range open {
		if i == 0 {
			open[i] = close[i]
		} else {
			open[i] = close[i-1]
		}
	}

	results, err := DetectPatterns(open, high, low, close, DefaultPatternParams())
	require.NoError(t, err)
	for i, r := range results {
		assert.True(t, r.Confidence.GreaterThanOrEqual(decimal.Zero), "index %d", i)
		assert.True(t, r.Confidence.LessThanOrEqual(decimal.NewFromInt(1)), "index %d", i)
	}
}
