package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOHLC(n int) (high, low, close []decimal.Decimal) {
	high = make([]decimal.Decimal, n)
	low = make([]decimal.Decimal, n)
	close = make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		base := 100 + i%7 - i%3 // mild oscillation with drift
		close[i] = decimal.NewFromInt(int64(base + i/4))
		high[i] = close[i].Add(decimal.NewFromInt(2))
		low[i] = close[i].Sub(decimal.NewFromInt(2))
	}
	return
}

func TestBollingerBandOrdering(t *testing.T) {
	prices := samplePrices()
	bands, err := Bollinger(prices, 5, decimal.NewFromInt(2))
	require.NoError(t, err)

	assert.Nil(t, bands[3].Middle)
	for i := 4; i < len(bands); i++ {
		require.NotNil(t, bands[i].Middle)
		assert.True(t, bands[i].Upper.GreaterThanOrEqual(*bands[i].Middle))
		assert.True(t, bands[i].Lower.LessThanOrEqual(*bands[i].Middle))
	}
}

func TestBollingerFlatSeries(t *testing.T) {
	flat := make([]decimal.Decimal, 10)
	for i := range flat {
		flat[i] = decimal.NewFromInt(100)
	}
	bands, err := Bollinger(flat, 5, decimal.NewFromInt(2))
	require.NoError(t, err)
	last := bands[9]
	// Zero deviation: all three bands collapse onto the mean.
	assert.True(t, last.Upper.Equal(*last.Middle))
	assert.True(t, last.Lower.Equal(*last.Middle))
}

func TestATRWilderSmoothing(t *testing.T) {
	high, low, close := sampleOHLC(30)
	atr, err := ATR(high, low, close, 14)
	require.NoError(t, err)

	for i := 0; i < 14; i++ {
		assert.Nil(t, atr[i])
	}
	for i := 14; i < 30; i++ {
		require.NotNil(t, atr[i])
		assert.True(t, atr[i].GreaterThan(decimal.Zero))
	}
}

func TestKeltnerChannelOrdering(t *testing.T) {
	high, low, close := sampleOHLC(40)
	kc, err := Keltner(high, low, close, 20, decimal.NewFromFloat(1.5))
	require.NoError(t, err)

	last := kc[39]
	require.NotNil(t, last.Middle)
	assert.True(t, last.Upper.GreaterThan(*last.Middle))
	assert.True(t, last.Lower.LessThan(*last.Middle))
}

func TestTTMSqueezeCountsConsecutive(t *testing.T) {
	// Low volatility closes inside a wide true-range envelope produce a
	// squeeze: Bollinger narrows while ATR keeps Keltner wide.
	n := 60
	high := make([]decimal.Decimal, n)
	low := make([]decimal.Decimal, n)
	close := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		close[i] = decimal.NewFromFloat(100 + 0.1*float64(i%2))
		high[i] = close[i].Add(decimal.NewFromInt(5))
		low[i] = close[i].Sub(decimal.NewFromInt(5))
	}

	results, err := TTMSqueeze(high, low, close, 20, 20, decimal.NewFromFloat(1.5))
	require.NoError(t, err)

	last := results[n-1]
	assert.True(t, last.IsSqueeze, "flat closes inside a wide envelope should squeeze")
	assert.Greater(t, last.SqueezeCount, 1)

	// The count increments along an unbroken squeeze run.
	for i := 1; i < n; i++ {
		if results[i].IsSqueeze && results[i-1].IsSqueeze {
			assert.Equal(t, results[i-1].SqueezeCount+1, results[i].SqueezeCount)
		}
		if !results[i].IsSqueeze {
			assert.Zero(t, results[i].SqueezeCount)
		}
	}
}

func TestDecSqrt(t *testing.T) {
	four := decSqrt(decimal.NewFromInt(16))
	diff := four.Sub(decimal.NewFromInt(4)).Abs()
	assert.True(t, diff.LessThan(decimal.NewFromFloat(1e-10)), "sqrt(16)=%s", four)

	assert.True(t, decSqrt(decimal.Zero).IsZero())
	assert.True(t, decSqrt(decimal.NewFromInt(-4)).IsZero())
}
