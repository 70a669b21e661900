package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyeom/zeroquant/internal/domain"
)

// rampProvider serves a synthetic rising daily series.
type rampProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *rampProvider) GetKlines(_ context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Kline, limit)
	for i := 0; i < limit; i++ {
		c := decimal.NewFromInt(int64(100 + i))
		out[i] = domain.Kline{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  base.AddDate(0, 0, i),
			CloseTime: base.AddDate(0, 0, i+1),
			Open:      c.Sub(decimal.NewFromInt(1)),
			High:      c.Add(decimal.NewFromInt(1)),
			Low:       c.Sub(decimal.NewFromInt(2)),
			Close:     c,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return out, nil
}

func TestServiceFiresPriceRule(t *testing.T) {
	var fired []Notification
	svc := NewService(&rampProvider{}, func(n Notification) {
		fired = append(fired, n)
	})

	rule := NewRule("price above 150", "user1", Condition{
		Price: &PriceCondition{Operator: OpGt, Price: decimal.NewFromInt(150)},
	})
	rule.Symbols = []string{"AAPL"}
	svc.AddRule(rule)

	svc.RunOnce(context.Background())

	// 80-candle ramp ends at 179 > 150.
	require.Len(t, fired, 1)
	assert.Equal(t, "AAPL", fired[0].Symbol)
	assert.Equal(t, RuleTriggered, rule.Status)

	// Triggered one-shot rules stay silent on the next pass.
	svc.RunOnce(context.Background())
	assert.Len(t, fired, 1)
}

func TestServiceBuildsIndicatorSamples(t *testing.T) {
	svc := NewService(&rampProvider{}, nil)
	sample, err := svc.buildSample(context.Background(), "AAPL")
	require.NoError(t, err)

	// Rising series: a defined RSI well above 50, both current and previous.
	rsi, ok := sample.Indicators["rsi"]
	require.True(t, ok)
	assert.True(t, rsi.GreaterThan(decimal.NewFromInt(50)))
	_, ok = sample.PrevIndicators["rsi"]
	assert.True(t, ok)

	require.NotNil(t, sample.PrevPrice)
	assert.True(t, sample.Price.GreaterThan(*sample.PrevPrice))
	assert.NotEmpty(t, sample.RouteState)
	require.NotNil(t, sample.GlobalScore)
}

func TestServiceSkipsInactiveRuleSymbols(t *testing.T) {
	provider := &rampProvider{}
	svc := NewService(provider, nil)

	rule := NewRule("dormant", "user1", Condition{
		Price: &PriceCondition{Operator: OpGt, Price: decimal.NewFromInt(1)},
	})
	rule.Symbols = []string{"AAPL"}
	rule.Status = RuleInactive
	svc.AddRule(rule)

	svc.RunOnce(context.Background())
	assert.Zero(t, provider.calls, "inactive rules contribute no watched symbols")
}
