package strategy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyeom/zeroquant/internal/domain"
)

func kline(symbol string, close float64, day int) domain.Kline {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := decimal.NewFromFloat(close)
	return domain.Kline{
		Symbol:    symbol,
		Timeframe: domain.D1,
		OpenTime:  base.AddDate(0, 0, day),
		CloseTime: base.AddDate(0, 0, day+1),
		Open:      c,
		High:      c.Add(decimal.NewFromInt(1)),
		Low:       c.Sub(decimal.NewFromInt(1)),
		Close:     c,
		Volume:    decimal.NewFromInt(1000),
	}
}

func fill(strat Strategy, symbol string, side domain.Side, price float64, qty int64) error {
	p := decimal.NewFromFloat(price)
	return strat.OnOrderFilled(domain.Order{
		Symbol:       domain.Canonicalize(symbol),
		Side:         side,
		Status:       domain.OrderFilled,
		Price:        p,
		Quantity:     decimal.NewFromInt(qty),
		FilledQty:    decimal.NewFromInt(qty),
		AvgFillPrice: p,
	})
}

func TestRegistryStability(t *testing.T) {
	ids := List()
	assert.Contains(t, ids, "trailing_stop")
	assert.Contains(t, ids, "snow")

	a, err := Create("trailing_stop")
	require.NoError(t, err)
	b, err := Create("trailing_stop")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.NotSame(t, a, b, "factory must produce fresh instances")

	_, err = Create("no_such_strategy")
	assert.Error(t, err)
}

func TestTrailingStopInitialization(t *testing.T) {
	s := NewTrailingStop()
	require.NoError(t, s.Initialize(json.RawMessage(`{"symbol":"005930"}`)))

	state := s.State()
	assert.Equal(t, true, state["initialized"])
	assert.Equal(t, "005930", state["symbol"])

	// Missing symbol is rejected.
	assert.Error(t, NewTrailingStop().Initialize(json.RawMessage(`{}`)))
	// Stop above the maximum is rejected.
	assert.Error(t, NewTrailingStop().Initialize(
		json.RawMessage(`{"symbol":"AAPL","trailing_stop_pct":"50","max_trailing_stop_pct":"10"}`)))
}

func TestTrailingStopEntryThenTrigger(t *testing.T) {
	s := NewTrailingStop()
	require.NoError(t, s.Initialize(json.RawMessage(`{"symbol":"AAPL","amount":"100000"}`)))

	signals, err := s.OnMarketData(kline("AAPL", 100, 0))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.SignalEntry, signals[0].Type)
	assert.Equal(t, domain.SideBuy, signals[0].Side)

	require.NoError(t, fill(s, "AAPL", domain.SideBuy, 100, 1000))

	// Ride the high to 110: no exit.
	signals, err = s.OnMarketData(kline("AAPL", 110, 1))
	require.NoError(t, err)
	assert.Empty(t, signals)

	// 4% profit tightens the stop to 4%: 104 < 110 * 0.96, the stop fires.
	signals, err = s.OnMarketData(kline("AAPL", 104, 2))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.SignalExit, signals[0].Type)
	assert.Equal(t, "trailing_stop_triggered", signals[0].Reason)
}

func TestTrailingStopDynamicAdjustment(t *testing.T) {
	cfg := defaultTrailingStopConfig()

	// Below the adjustment threshold the configured stop holds.
	assert.True(t, adjustedStopPct(cfg, decimal.NewFromInt(1)).Equal(decimal.NewFromInt(5)))
	// 4% profit = two steps of 0.5%p: 5 -> 4.
	assert.True(t, adjustedStopPct(cfg, decimal.NewFromInt(4)).Equal(decimal.NewFromInt(4)))
	// Deep profit floors at 2%.
	assert.True(t, adjustedStopPct(cfg, decimal.NewFromInt(50)).Equal(decimal.NewFromInt(2)))
}

func TestTrailingStopProfitLock(t *testing.T) {
	s := NewTrailingStop()
	require.NoError(t, s.Initialize(json.RawMessage(
		`{"symbol":"AAPL","amount":"100000","profit_lock_threshold":"10","profit_lock_sell_pct":"50"}`)))

	_, err := s.OnMarketData(kline("AAPL", 100, 0))
	require.NoError(t, err)
	require.NoError(t, fill(s, "AAPL", domain.SideBuy, 100, 1000))

	// +12%: the one-shot partial take profit fires.
	signals, err := s.OnMarketData(kline("AAPL", 112, 1))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.SignalReducePosition, signals[0].Type)
	require.NotNil(t, signals[0].Quantity)
	assert.Equal(t, "500", signals[0].Quantity.String())

	require.NoError(t, fill(s, "AAPL", domain.SideSell, 112, 500))

	// It never fires twice.
	signals, err = s.OnMarketData(kline("AAPL", 113, 2))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestSnowInitialization(t *testing.T) {
	s := NewSnow()
	require.NoError(t, s.Initialize(json.RawMessage(`{"market":"US"}`)))
	assert.Equal(t, "safe", s.State()["mode"])

	assert.Error(t, NewSnow().Initialize(json.RawMessage(`{"market":"EU"}`)))
	assert.Error(t, NewSnow().Initialize(json.RawMessage(`{"market":"US","tip_ma_period":0}`)))
}

func TestSnowModeRotation(t *testing.T) {
	s := NewSnow()
	require.NoError(t, s.Initialize(json.RawMessage(
		`{"market":"US","total_amount":"100000","tip_ma_period":3,"attack_ma_period":2,"rebalance_days":1}`)))

	// Feed rising TIP and attack histories: safe market + momentum.
	day := 0
	for _, price := range []float64{100, 101, 102, 103} {
		_, err := s.OnMarketData(kline("TIP", price, day))
		require.NoError(t, err)
		day++
	}
	for _, price := range []float64{50, 51} {
		_, err := s.OnMarketData(kline("UPRO", price, day))
		require.NoError(t, err)
		day++
	}

	signals, err := s.OnMarketData(kline("UPRO", 52, day))
	require.NoError(t, err)
	require.NotEmpty(t, signals, "attack mode should trigger an entry")
	entry := signals[len(signals)-1]
	assert.Equal(t, domain.SignalEntry, entry.Type)
	assert.Equal(t, "UPRO", entry.Symbol.Base)

	require.NoError(t, fill(s, "UPRO", domain.SideBuy, 52, 1923))
	assert.Equal(t, "attack", s.State()["mode"])
	assert.Equal(t, "UPRO", s.State()["holding"])
}

func TestSnowInsufficientDataStaysCrisis(t *testing.T) {
	s := NewSnow()
	require.NoError(t, s.Initialize(json.RawMessage(
		`{"market":"US","tip_ma_period":200,"attack_ma_period":5}`)))

	// One attack candle with no TIP history: market reads unsafe.
	signals, err := s.OnMarketData(kline("UPRO", 50, 0))
	require.NoError(t, err)
	// Crisis entry for BIL requires a BIL price, which is absent, so no
	// signal can be emitted yet.
	assert.Empty(t, signals)
}
