package alert

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func dptr(f float64) *decimal.Decimal {
	v := decimal.NewFromFloat(f)
	return &v
}

func TestOperatorEvaluate(t *testing.T) {
	tests := []struct {
		op        Operator
		current   float64
		threshold float64
		previous  *decimal.Decimal
		upper     *decimal.Decimal
		want      bool
	}{
		{OpEq, 70, 70, nil, nil, true},
		{OpNe, 70, 71, nil, nil, true},
		{OpGt, 71, 70, nil, nil, true},
		{OpGt, 70, 70, nil, nil, false},
		{OpGte, 70, 70, nil, nil, true},
		{OpLt, 69, 70, nil, nil, true},
		{OpLte, 70, 70, nil, nil, true},
		{OpBetween, 50, 40, nil, dptr(60), true},
		{OpBetween, 70, 40, nil, dptr(60), false},
		{OpBetween, 50, 40, nil, nil, false}, // no upper bound
		{OpCrossAbove, 71, 70, dptr(69), nil, true},
		{OpCrossAbove, 71, 70, dptr(70), nil, false}, // already above
		{OpCrossAbove, 71, 70, nil, nil, false},      // no previous
		{OpCrossBelow, 69, 70, dptr(70), nil, true},
		{OpCrossBelow, 69, 70, nil, nil, false},
	}

	for _, tt := range tests {
		got := tt.op.Evaluate(d(tt.current), d(tt.threshold), tt.previous, tt.upper)
		assert.Equal(t, tt.want, got, "%s(%v, %v)", tt.op, tt.current, tt.threshold)
	}
}

func rsiSample(current, previous float64) Sample {
	return Sample{
		Price:          d(100),
		Indicators:     map[string]decimal.Decimal{"rsi": d(current)},
		PrevIndicators: map[string]decimal.Decimal{"rsi": d(previous)},
	}
}

func TestConditionTree(t *testing.T) {
	overbought := Condition{Indicator: &IndicatorCondition{
		Indicator: "rsi", Operator: OpGte, Value: d(70),
	}}
	cheap := Condition{Price: &PriceCondition{Operator: OpLt, Price: d(50)}}

	and := Condition{And: []Condition{overbought, cheap}}
	or := Condition{Or: []Condition{overbought, cheap}}

	s := rsiSample(75, 65) // overbought, price 100

	assert.True(t, overbought.Evaluate(s))
	assert.False(t, cheap.Evaluate(s))
	assert.False(t, and.Evaluate(s))
	assert.True(t, or.Evaluate(s))

	// Missing indicator: leaf is false.
	missing := Condition{Indicator: &IndicatorCondition{Indicator: "macd", Operator: OpGt, Value: d(0)}}
	assert.False(t, missing.Evaluate(s))
}

func TestRouteStateChangeCondition(t *testing.T) {
	cond := Condition{RouteStateChange: &RouteStateCondition{TargetState: "ATTACK"}}

	entering := Sample{RouteState: "ATTACK", PrevRouteState: "ARMED"}
	staying := Sample{RouteState: "ATTACK", PrevRouteState: "ATTACK"}
	leaving := Sample{RouteState: "NEUTRAL", PrevRouteState: "ATTACK"}

	assert.True(t, cond.Evaluate(entering))
	assert.False(t, cond.Evaluate(staying), "only transitions fire")
	assert.False(t, cond.Evaluate(leaving))
}

func TestNonRepeatableRuleTriggersOnce(t *testing.T) {
	rule := NewRule("rsi overbought", "user1", Condition{
		Indicator: &IndicatorCondition{Indicator: "rsi", Operator: OpGte, Value: d(70)},
	})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	fired, err := rule.Evaluate(rsiSample(75, 65), now)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, RuleTriggered, rule.Status)

	fired, err = rule.Evaluate(rsiSample(80, 75), now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, fired, "triggered rules stay silent")
}

func TestRepeatableRuleHonoursCooldown(t *testing.T) {
	rule := NewRule("rsi overbought", "user1", Condition{
		Indicator: &IndicatorCondition{Indicator: "rsi", Operator: OpGte, Value: d(70)},
	})
	rule.Repeatable = true
	rule.CooldownSeconds = 600
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	fired, err := rule.Evaluate(rsiSample(75, 65), now)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, RuleActive, rule.Status)

	// Inside the cooldown: silent.
	fired, err = rule.Evaluate(rsiSample(80, 75), now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, fired)

	// Past the cooldown: fires again.
	fired, err = rule.Evaluate(rsiSample(80, 75), now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestRuleExpiry(t *testing.T) {
	rule := NewRule("expiring", "user1", Condition{
		Indicator: &IndicatorCondition{Indicator: "rsi", Operator: OpGte, Value: d(70)},
	})
	expiry := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rule.ExpiresAt = &expiry

	fired, err := rule.Evaluate(rsiSample(75, 65), expiry.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, RuleExpired, rule.Status)
}

func TestRuleAppliesTo(t *testing.T) {
	rule := NewRule("scoped", "user1", Condition{})
	assert.True(t, rule.AppliesTo("005930"), "empty symbol list watches everything")

	rule.Symbols = []string{"005930", "AAPL"}
	assert.True(t, rule.AppliesTo("AAPL"))
	assert.False(t, rule.AppliesTo("MSFT"))
}
