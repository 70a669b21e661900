package strategy

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// TrailingStopConfig is the recognized configuration of the trailing
// stop strategy. Absent keys take the documented defaults.
type TrailingStopConfig struct {
	Symbol               string           `json:"symbol"`
	TrailingStopPct      decimal.Decimal  `json:"trailing_stop_pct"`
	MaxTrailingStopPct   decimal.Decimal  `json:"max_trailing_stop_pct"`
	ProfitRateAdjustment decimal.Decimal  `json:"profit_rate_adjustment"`
	ActivationPrice      *decimal.Decimal `json:"activation_price,omitempty"`
	ProfitLockThreshold  *decimal.Decimal `json:"profit_lock_threshold,omitempty"`
	ProfitLockSellPct    decimal.Decimal  `json:"profit_lock_sell_pct"`
	Amount               decimal.Decimal  `json:"amount"`
}

func defaultTrailingStopConfig() TrailingStopConfig {
	return TrailingStopConfig{
		TrailingStopPct:      decimal.NewFromInt(5),
		MaxTrailingStopPct:   decimal.NewFromInt(10),
		ProfitRateAdjustment: decimal.NewFromInt(2),
		ProfitLockSellPct:    decimal.NewFromInt(50),
		Amount:               decimal.NewFromInt(1_000_000),
	}
}

// trailingPosition tracks one open position's trailing state.
type trailingPosition struct {
	entryPrice    decimal.Decimal
	entryTime     time.Time
	quantity      decimal.Decimal
	highestPrice  decimal.Decimal
	currentStopPct decimal.Decimal
	active        bool
	profitLocked  bool
}

// TrailingStop exits when price falls a configured percentage from the
// running high, tightening the stop as profit accumulates.
type TrailingStop struct {
	config      TrailingStopConfig
	symbol      domain.Symbol
	position    *trailingPosition
	lastPrice   decimal.Decimal
	initialized bool
}

// NewTrailingStop builds an uninitialized instance.
func NewTrailingStop() *TrailingStop { return &TrailingStop{} }

// ID implements Strategy.
func (s *TrailingStop) ID() string { return "trailing_stop" }

// Initialize implements Strategy.
func (s *TrailingStop) Initialize(config json.RawMessage) error {
	cfg := defaultTrailingStopConfig()
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return errs.InvalidParameter("trailing stop config: %v", err)
		}
	}
	if cfg.Symbol == "" {
		return errs.InvalidParameter("trailing stop requires a symbol")
	}
	if cfg.TrailingStopPct.Sign() <= 0 || cfg.TrailingStopPct.GreaterThan(cfg.MaxTrailingStopPct) {
		return errs.InvalidParameter("trailing_stop_pct %s outside (0, %s]",
			cfg.TrailingStopPct, cfg.MaxTrailingStopPct)
	}
	if cfg.Amount.Sign() <= 0 {
		return errs.InvalidParameter("amount must be positive, got %s", cfg.Amount)
	}

	s.config = cfg
	s.symbol = domain.Canonicalize(cfg.Symbol)
	s.initialized = true
	return nil
}

// stopPrice computes the exit trigger from the running high.
func stopPrice(highest, stopPct decimal.Decimal) decimal.Decimal {
	return highest.Mul(decimal.NewFromInt(1).Sub(stopPct.Div(decimal.NewFromInt(100))))
}

// profitRate computes the percentage gain over the entry price.
func profitRate(current, entry decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	return current.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
}

// adjustedStopPct tightens the stop as profit grows: 0.5%p per
// adjustment step, floored at 2%.
func adjustedStopPct(cfg TrailingStopConfig, profit decimal.Decimal) decimal.Decimal {
	if profit.LessThan(cfg.ProfitRateAdjustment) {
		return cfg.TrailingStopPct
	}
	steps := profit.Div(cfg.ProfitRateAdjustment).Floor()
	reduced := cfg.TrailingStopPct.Sub(steps.Mul(decimal.NewFromFloat(0.5)))
	return decimal.Max(reduced, decimal.NewFromInt(2))
}

// OnMarketData implements Strategy.
func (s *TrailingStop) OnMarketData(k domain.Kline) ([]domain.Signal, error) {
	if !s.initialized {
		return nil, errs.InvalidParameter("strategy not initialized")
	}
	if k.Symbol != s.symbol.String() && k.Symbol != s.symbol.YahooSymbol() {
		return nil, nil
	}

	price := k.Close
	s.lastPrice = price

	if s.position == nil {
		if s.config.ActivationPrice != nil && price.LessThan(*s.config.ActivationPrice) {
			return nil, nil
		}
		qty := domain.RoundQuantity(s.config.Amount.Div(price))
		if qty.Sign() <= 0 {
			return nil, nil
		}
		sig := domain.NewSignal(s.ID(), s.symbol, domain.SideBuy, domain.SignalEntry, k.CloseTime).
			WithPrice(price).
			WithQuantity(qty).
			WithReason("initial_entry")
		return []domain.Signal{sig}, nil
	}

	pos := s.position
	var signals []domain.Signal

	if price.GreaterThan(pos.highestPrice) {
		pos.highestPrice = price
	}

	profit := profitRate(price, pos.entryPrice)

	if !pos.active {
		if s.config.ActivationPrice == nil || price.GreaterThanOrEqual(*s.config.ActivationPrice) {
			pos.active = true
		}
	}

	pos.currentStopPct = adjustedStopPct(s.config, profit)

	// One-shot partial take profit.
	if !pos.profitLocked && s.config.ProfitLockThreshold != nil &&
		profit.GreaterThanOrEqual(*s.config.ProfitLockThreshold) {
		pos.profitLocked = true
		sellQty := domain.RoundQuantity(pos.quantity.Mul(s.config.ProfitLockSellPct).Div(decimal.NewFromInt(100)))
		if sellQty.Sign() > 0 {
			signals = append(signals,
				domain.NewSignal(s.ID(), s.symbol, domain.SideSell, domain.SignalReducePosition, k.CloseTime).
					WithPrice(price).
					WithQuantity(sellQty).
					WithReason("profit_lock"))
		}
	}

	if pos.active {
		stop := stopPrice(pos.highestPrice, pos.currentStopPct)
		if price.LessThanOrEqual(stop) {
			signals = append(signals,
				domain.NewSignal(s.ID(), s.symbol, domain.SideSell, domain.SignalExit, k.CloseTime).
					WithPrice(price).
					WithQuantity(pos.quantity).
					WithReason("trailing_stop_triggered"))
		}
	}

	return signals, nil
}

// OnOrderFilled implements Strategy.
func (s *TrailingStop) OnOrderFilled(order domain.Order) error {
	if order.Status != domain.OrderFilled {
		return nil
	}
	switch order.Side {
	case domain.SideBuy:
		s.position = &trailingPosition{
			entryPrice:     order.AvgFillPrice,
			entryTime:      order.UpdatedAt,
			quantity:       order.FilledQty,
			highestPrice:   order.AvgFillPrice,
			currentStopPct: s.config.TrailingStopPct,
		}
	case domain.SideSell:
		if s.position == nil {
			return nil
		}
		s.position.quantity = s.position.quantity.Sub(order.FilledQty)
		if s.position.quantity.Sign() <= 0 {
			s.position = nil
		}
	}
	return nil
}

// OnPositionUpdate implements Strategy.
func (s *TrailingStop) OnPositionUpdate(position domain.Position) error {
	if position.Quantity.Sign() <= 0 {
		s.position = nil
		return nil
	}
	if s.position == nil {
		s.position = &trailingPosition{
			entryPrice:     position.EntryPrice,
			entryTime:      position.OpenedAt,
			quantity:       position.Quantity,
			highestPrice:   decimal.Max(position.EntryPrice, s.lastPrice),
			currentStopPct: s.config.TrailingStopPct,
			active:         true,
		}
		return nil
	}
	s.position.quantity = position.Quantity
	s.position.entryPrice = position.EntryPrice
	return nil
}

// Shutdown implements Strategy.
func (s *TrailingStop) Shutdown() error {
	s.position = nil
	return nil
}

// State implements Strategy.
func (s *TrailingStop) State() map[string]any {
	state := map[string]any{
		"initialized": s.initialized,
		"symbol":      s.symbol.String(),
		"last_price":  s.lastPrice.String(),
	}
	if s.position != nil {
		state["position"] = map[string]any{
			"entry_price":       s.position.entryPrice.String(),
			"quantity":          s.position.quantity.String(),
			"highest_price":     s.position.highestPrice.String(),
			"current_stop_pct":  s.position.currentStopPct.String(),
			"trailing_active":   s.position.active,
			"profit_locked":     s.position.profitLocked,
		}
	}
	return state
}
