package backtest

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/strategy"
)

func dailyKlines(symbol string, closes []float64) []domain.Kline {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Kline, len(closes))
	for i, c := range closes {
		closeVal := decimal.NewFromFloat(c)
		out[i] = domain.Kline{
			Symbol:    symbol,
			Timeframe: domain.D1,
			OpenTime:  base.AddDate(0, 0, i),
			CloseTime: base.AddDate(0, 0, i+1),
			Open:      closeVal,
			High:      closeVal.Add(decimal.NewFromInt(1)),
			Low:       closeVal.Sub(decimal.NewFromInt(1)),
			Close:     closeVal,
			Volume:    decimal.NewFromInt(10000),
		}
	}
	return out
}

func trailingStopStrategy(t *testing.T) strategy.Strategy {
	t.Helper()
	strat, err := strategy.Create("trailing_stop")
	require.NoError(t, err)
	require.NoError(t, strat.Initialize(json.RawMessage(`{"symbol":"AAPL","amount":"1000000"}`)))
	return strat
}

func TestBacktestTrailingStopRoundTrip(t *testing.T) {
	// Rise to 120, then collapse through the 5% trailing stop.
	closes := []float64{100, 105, 110, 115, 120, 118, 112, 108}
	engine := NewEngine(DefaultConfig())

	report := engine.Run(trailingStopStrategy(t), dailyKlines("AAPL", closes))
	require.True(t, report.Success, report.Error)

	require.NotEmpty(t, report.Trades, "the stop must have fired a round trip")
	trade := report.Trades[0]
	assert.Equal(t, domain.SideBuy, trade.Side)
	assert.True(t, trade.ExitTime.After(trade.EntryTime))
	assert.True(t, trade.ExitPrice.LessThan(decimal.NewFromInt(120)))

	assert.Len(t, report.EquityCurve, len(closes))
	assert.Equal(t, len(report.Trades), report.Metrics.TotalTrades)
}

func TestBacktestDeterminism(t *testing.T) {
	closes := []float64{100, 104, 108, 112, 110, 105, 99, 103, 107, 101}

	run := func() Report {
		engine := NewEngine(DefaultConfig())
		return engine.Run(trailingStopStrategy(t), dailyKlines("AAPL", closes))
	}

	a := run()
	b := run()
	require.True(t, a.Success)
	require.True(t, b.Success)

	// Byte-identical apart from the run and trade ids.
	assert.True(t, a.FinalEquity.Equal(b.FinalEquity))
	require.Equal(t, len(a.EquityCurve), len(b.EquityCurve))
	for i := range a.EquityCurve {
		assert.True(t, a.EquityCurve[i].Equity.Equal(b.EquityCurve[i].Equity), "equity diverged at %d", i)
		assert.True(t, a.EquityCurve[i].Time.Equal(b.EquityCurve[i].Time))
	}
	require.Equal(t, len(a.Trades), len(b.Trades))
	for i := range a.Trades {
		assert.True(t, a.Trades[i].PnL.Equal(b.Trades[i].PnL))
		assert.True(t, a.Trades[i].EntryPrice.Equal(b.Trades[i].EntryPrice))
	}
	assert.True(t, a.Metrics.TotalReturnPct.Equal(b.Metrics.TotalReturnPct))
	assert.True(t, a.Metrics.Sharpe.Equal(b.Metrics.Sharpe))
}

func TestCommissionAndSlippageReduceEquity(t *testing.T) {
	closes := []float64{100, 100, 100, 100}

	frictionless := DefaultConfig()
	frictionless.CommissionRate = decimal.Zero
	frictionless.SlippageRate = decimal.Zero

	costly := DefaultConfig()
	costly.CommissionRate = decimal.NewFromFloat(0.001)
	costly.SlippageRate = decimal.NewFromFloat(0.001)

	runWith := func(cfg Config) Report {
		engine := NewEngine(cfg)
		return engine.Run(trailingStopStrategy(t), dailyKlines("AAPL", closes))
	}

	free := runWith(frictionless)
	paid := runWith(costly)
	require.True(t, free.Success)
	require.True(t, paid.Success)
	assert.True(t, paid.FinalEquity.LessThan(free.FinalEquity),
		"friction must cost equity: %s vs %s", paid.FinalEquity, free.FinalEquity)
}

func TestEquityCurveDrawdown(t *testing.T) {
	closes := []float64{100, 120, 90, 95}
	engine := NewEngine(DefaultConfig())
	report := engine.Run(trailingStopStrategy(t), dailyKlines("AAPL", closes))
	require.True(t, report.Success)

	// Drawdown is measured from the running peak and never negative.
	for _, p := range report.EquityCurve {
		assert.True(t, p.DrawdownPct.GreaterThanOrEqual(decimal.Zero))
	}
	maxDD := report.Metrics.MaxDrawdownPct
	assert.True(t, maxDD.GreaterThan(decimal.Zero), "collapse must register a drawdown")
}

func TestEquityMarksVenueRenderedSymbols(t *testing.T) {
	// Provider-normalized candles carry the Yahoo rendering ("005930.KS")
	// while signals carry the canonical base ("005930"); the mark-to-close
	// must bridge the two or unrealized P&L silently flatlines.
	cfg := DefaultConfig()
	cfg.CommissionRate = decimal.Zero
	cfg.SlippageRate = decimal.Zero

	strat, err := strategy.Create("trailing_stop")
	require.NoError(t, err)
	require.NoError(t, strat.Initialize(json.RawMessage(`{"symbol":"005930","amount":"100000"}`)))

	closes := []float64{100, 110, 120}
	report := NewEngine(cfg).Run(strat, dailyKlines("005930.KS", closes))
	require.True(t, report.Success, report.Error)
	require.Len(t, report.EquityCurve, 3)

	initial := cfg.InitialCapital
	// Entry fills at 100 for 1000 shares on the first candle; later
	// candles must mark the open position to their close.
	assert.True(t, report.EquityCurve[0].Equity.Equal(initial),
		"entry candle equity: %s", report.EquityCurve[0].Equity)
	assert.True(t, report.EquityCurve[1].Equity.Equal(initial.Add(decimal.NewFromInt(10000))),
		"unrealized P&L missing at close 110: %s", report.EquityCurve[1].Equity)
	assert.True(t, report.EquityCurve[2].Equity.Equal(initial.Add(decimal.NewFromInt(20000))),
		"unrealized P&L missing at close 120: %s", report.EquityCurve[2].Equity)
	assert.True(t, report.FinalEquity.Equal(initial.Add(decimal.NewFromInt(20000))))
}

func TestMergeMultiAsset(t *testing.T) {
	a := dailyKlines("AAA", []float64{1, 2, 3})
	b := dailyKlines("BBB", []float64{10, 20, 30})

	merged := MergeMultiAsset(map[string][]domain.Kline{"BBB": b, "AAA": a})
	require.Len(t, merged, 6)

	for i := 1; i < len(merged); i++ {
		prev, cur := merged[i-1], merged[i]
		ok := prev.OpenTime.Before(cur.OpenTime) ||
			(prev.OpenTime.Equal(cur.OpenTime) && prev.Symbol <= cur.Symbol)
		assert.True(t, ok, "merge order violated at %d", i)
	}
	// Ties break lexicographically.
	assert.Equal(t, "AAA", merged[0].Symbol)
	assert.Equal(t, "BBB", merged[1].Symbol)
}

func TestProfitFactorSentinel(t *testing.T) {
	// Monotone rise with a final exit: no losing trades.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + 3*float64(i)
	}
	// Collapse far below the stop at the very end to force one exit,
	// but the locked-in profit keeps the trade positive.
	closes = append(closes, 150)

	engine := NewEngine(DefaultConfig())
	report := engine.Run(trailingStopStrategy(t), dailyKlines("AAPL", closes))
	require.True(t, report.Success)

	if report.Metrics.LosingTrades == 0 && report.Metrics.WinningTrades > 0 {
		assert.True(t, report.Metrics.ProfitFactor.Equal(profitFactorSentinel))
	}
}

func TestEmptyInputFails(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	report := engine.Run(trailingStopStrategy(t), nil)
	assert.False(t, report.Success)
	assert.NotEmpty(t, report.Error)
}

func TestReportMetricsJSONRoundTrip(t *testing.T) {
	closes := []float64{100, 110, 105, 115, 108}
	engine := NewEngine(DefaultConfig())
	report := engine.Run(trailingStopStrategy(t), dailyKlines("AAPL", closes))
	require.True(t, report.Success)

	raw, err := json.Marshal(report.Metrics)
	require.NoError(t, err)
	var back Metrics
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, report.Metrics.TotalReturnPct.Equal(back.TotalReturnPct))
	assert.Equal(t, fmt.Sprint(report.Metrics.TotalTrades), fmt.Sprint(back.TotalTrades))
}
