package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignalType is the action a strategy asks for.
type SignalType string

const (
	SignalEntry          SignalType = "entry"
	SignalExit           SignalType = "exit"
	SignalAlert          SignalType = "alert"
	SignalAddToPosition  SignalType = "add_to_position"
	SignalReducePosition SignalType = "reduce_position"
	SignalScale          SignalType = "scale"
)

// IndicatorSnapshot captures the indicator values that produced a
// signal. Every field is optional; it is stored next to the signal for
// post-hoc analysis.
type IndicatorSnapshot struct {
	RSI        *decimal.Decimal `json:"rsi,omitempty"`
	MACD       *decimal.Decimal `json:"macd,omitempty"`
	MACDSignal *decimal.Decimal `json:"macd_signal,omitempty"`
	BBUpper    *decimal.Decimal `json:"bb_upper,omitempty"`
	BBLower    *decimal.Decimal `json:"bb_lower,omitempty"`
	ATR        *decimal.Decimal `json:"atr,omitempty"`
	RouteState *string          `json:"route_state,omitempty"`
	Regime     *string          `json:"regime,omitempty"`
}

// Signal is one trading signal emitted by a strategy.
type Signal struct {
	ID             uuid.UUID          `json:"id"`
	StrategyID     string             `json:"strategy_id"`
	Symbol         Symbol             `json:"symbol"`
	Side           Side               `json:"side"`
	Type           SignalType         `json:"type"`
	Strength       float64            `json:"strength"`
	SuggestedPrice *decimal.Decimal   `json:"suggested_price,omitempty"`
	StopLoss       *decimal.Decimal   `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal   `json:"take_profit,omitempty"`
	Quantity       *decimal.Decimal   `json:"quantity,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
	Reason         string             `json:"reason,omitempty"`
	Indicators     *IndicatorSnapshot `json:"indicators,omitempty"`
}

// NewSignal builds a signal with full strength and the given action.
func NewSignal(strategyID string, symbol Symbol, side Side, typ SignalType, at time.Time) Signal {
	return Signal{
		ID:         uuid.New(),
		StrategyID: strategyID,
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Strength:   1.0,
		Timestamp:  at,
	}
}

// WithStrength clamps and sets the signal strength.
func (s Signal) WithStrength(strength float64) Signal {
	s.Strength = min(1.0, max(0.0, strength))
	return s
}

// WithPrice sets the suggested fill price.
func (s Signal) WithPrice(price decimal.Decimal) Signal {
	s.SuggestedPrice = &price
	return s
}

// WithQuantity sets an explicit quantity.
func (s Signal) WithQuantity(qty decimal.Decimal) Signal {
	s.Quantity = &qty
	return s
}

// WithReason attaches a short human-readable cause.
func (s Signal) WithReason(reason string) Signal {
	s.Reason = reason
	return s
}

// WithIndicators attaches the producing indicator snapshot.
func (s Signal) WithIndicators(snap IndicatorSnapshot) Signal {
	s.Indicators = &snap
	return s
}

// IsStrong reports whether strength is at least 0.7.
func (s Signal) IsStrong() bool { return s.Strength >= 0.7 }
