// Package backtest replays candle streams through a strategy
// deterministically: no wall-clock access, all signals of one candle
// fully resolved before the next is delivered.
package backtest

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
	"github.com/tyeom/zeroquant/internal/strategy"
)

// Config parametrizes one simulation.
type Config struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	SlippageRate   decimal.Decimal `json:"slippage_rate"`
	AllowShort     bool            `json:"allow_short"`
}

// DefaultConfig returns the simulation defaults.
func DefaultConfig() Config {
	return Config{
		InitialCapital: decimal.NewFromInt(10_000_000),
		CommissionRate: decimal.NewFromFloat(0.00015),
		SlippageRate:   decimal.NewFromFloat(0.0005),
	}
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time        time.Time       `json:"time"`
	Equity      decimal.Decimal `json:"equity"`
	DrawdownPct decimal.Decimal `json:"drawdown_pct"`
}

// Engine replays one candle stream. Engines are single-use: parallel
// backtests take independent instances.
type Engine struct {
	config Config

	cash      decimal.Decimal
	positions map[string]*enginePosition
	lastPrice map[string]decimal.Decimal

	equity     []EquityPoint
	trades     []domain.Trade
	peakEquity decimal.Decimal
}

type enginePosition struct {
	side       domain.Side
	entryPrice decimal.Decimal
	entryTime  time.Time
	quantity   decimal.Decimal
	fees       decimal.Decimal
}

// NewEngine builds an engine for one run.
func NewEngine(config Config) *Engine {
	return &Engine{
		config:     config,
		cash:       config.InitialCapital,
		positions:  make(map[string]*enginePosition),
		lastPrice:  make(map[string]decimal.Decimal),
		peakEquity: config.InitialCapital,
	}
}

// Run replays klines (ascending, possibly multi-symbol) through the
// strategy and produces the report. Errors are fatal to the run and
// surface in the report's failure branch.
func (e *Engine) Run(strat strategy.Strategy, klines []domain.Kline) Report {
	report := Report{
		ID:         uuid.New(),
		StrategyID: strat.ID(),
		Config:     e.config,
	}
	if len(klines) == 0 {
		report.Error = "no candles to replay"
		return report
	}

	for _, k := range klines {
		// Positions are keyed by the canonical base (signals carry
		// domain.Symbol); marks must live in the same key space even
		// when the candle carries a venue rendering like "005930.KS".
		e.lastPrice[domain.Canonicalize(k.Symbol).Base] = k.Close

		signals, err := strat.OnMarketData(k)
		if err != nil {
			report.Error = err.Error()
			return report
		}
		// All signals of this candle resolve before the next candle.
		for _, sig := range signals {
			if err := e.process(strat, sig, k); err != nil {
				report.Error = err.Error()
				return report
			}
		}

		equity := e.currentEquity()
		if equity.GreaterThan(e.peakEquity) {
			e.peakEquity = equity
		}
		drawdown := decimal.Zero
		if e.peakEquity.Sign() > 0 {
			drawdown = e.peakEquity.Sub(equity).Div(e.peakEquity).Mul(decimal.NewFromInt(100))
		}
		e.equity = append(e.equity, EquityPoint{
			Time:        k.CloseTime,
			Equity:      equity,
			DrawdownPct: drawdown,
		})
	}

	report.Success = true
	report.EquityCurve = e.equity
	report.Trades = e.trades
	report.FinalEquity = e.currentEquity()
	report.Metrics = computeMetrics(e.config.InitialCapital, e.equity, e.trades)
	return report
}

// fillPrice applies slippage in the adverse direction to the suggested
// price (or the candle close).
func (e *Engine) fillPrice(sig domain.Signal, k domain.Kline) decimal.Decimal {
	price := k.Close
	if sig.SuggestedPrice != nil {
		price = *sig.SuggestedPrice
	}
	slip := price.Mul(e.config.SlippageRate)
	if sig.Side == domain.SideBuy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}

func (e *Engine) process(strat strategy.Strategy, sig domain.Signal, k domain.Kline) error {
	price := e.fillPrice(sig, k)
	if price.Sign() <= 0 {
		return errs.Calculation("non-positive fill price for %s", sig.Symbol)
	}
	key := sig.Symbol.Base

	switch sig.Type {
	case domain.SignalEntry, domain.SignalAddToPosition, domain.SignalScale:
		return e.openOrAdd(strat, sig, key, price, k)
	case domain.SignalExit:
		return e.reduce(strat, sig, key, price, k, true)
	case domain.SignalReducePosition:
		return e.reduce(strat, sig, key, price, k, false)
	case domain.SignalAlert:
		return nil
	}
	return nil
}

func (e *Engine) openOrAdd(strat strategy.Strategy, sig domain.Signal, key string, price decimal.Decimal, k domain.Kline) error {
	if sig.Side == domain.SideSell && !e.config.AllowShort {
		return nil
	}

	var qty decimal.Decimal
	if sig.Quantity != nil {
		qty = *sig.Quantity
	} else {
		qty = domain.RoundQuantity(e.cash.Div(price))
	}
	if qty.Sign() <= 0 {
		return nil
	}

	notional := price.Mul(qty)
	commission := notional.Mul(e.config.CommissionRate)
	if sig.Side == domain.SideBuy && notional.Add(commission).GreaterThan(e.cash) {
		// Cap at what cash affords.
		qty = domain.RoundQuantity(e.cash.Div(price.Mul(decimal.NewFromInt(1).Add(e.config.CommissionRate))))
		if qty.Sign() <= 0 {
			return nil
		}
		notional = price.Mul(qty)
		commission = notional.Mul(e.config.CommissionRate)
	}

	pos := e.positions[key]
	if pos == nil {
		e.positions[key] = &enginePosition{
			side:       sig.Side,
			entryPrice: price,
			entryTime:  k.CloseTime,
			quantity:   qty,
			fees:       commission,
		}
	} else {
		// Average in.
		totalQty := pos.quantity.Add(qty)
		pos.entryPrice = pos.entryPrice.Mul(pos.quantity).Add(price.Mul(qty)).Div(totalQty)
		pos.quantity = totalQty
		pos.fees = pos.fees.Add(commission)
	}

	if sig.Side == domain.SideBuy {
		e.cash = e.cash.Sub(notional).Sub(commission)
	} else {
		e.cash = e.cash.Add(notional).Sub(commission)
	}

	return strat.OnOrderFilled(e.filledOrder(sig, price, qty, k))
}

func (e *Engine) reduce(strat strategy.Strategy, sig domain.Signal, key string, price decimal.Decimal, k domain.Kline, full bool) error {
	pos := e.positions[key]
	if pos == nil || pos.quantity.Sign() <= 0 {
		return nil
	}

	qty := pos.quantity
	if !full {
		if sig.Quantity != nil {
			qty = decimal.Min(*sig.Quantity, pos.quantity)
		} else {
			qty = domain.RoundQuantity(pos.quantity.Div(decimal.NewFromInt(2)))
		}
	} else if sig.Quantity != nil {
		qty = decimal.Min(*sig.Quantity, pos.quantity)
	}
	if qty.Sign() <= 0 {
		return nil
	}

	notional := price.Mul(qty)
	commission := notional.Mul(e.config.CommissionRate)

	var pnl decimal.Decimal
	if pos.side == domain.SideBuy {
		pnl = price.Sub(pos.entryPrice).Mul(qty)
		e.cash = e.cash.Add(notional).Sub(commission)
	} else {
		pnl = pos.entryPrice.Sub(price).Mul(qty)
		e.cash = e.cash.Sub(notional).Sub(commission)
	}

	// Fees attributed proportionally to the closed quantity.
	closedShare := qty.Div(pos.quantity)
	fees := pos.fees.Mul(closedShare).Add(commission)
	pos.fees = pos.fees.Sub(pos.fees.Mul(closedShare))

	returnPct := decimal.Zero
	if pos.entryPrice.Sign() > 0 {
		returnPct = price.Sub(pos.entryPrice).Div(pos.entryPrice).Mul(decimal.NewFromInt(100))
		if pos.side == domain.SideSell {
			returnPct = returnPct.Neg()
		}
	}

	e.trades = append(e.trades, domain.Trade{
		ID:         uuid.New(),
		Symbol:     sig.Symbol,
		Side:       pos.side,
		EntryTime:  pos.entryTime,
		ExitTime:   k.CloseTime,
		EntryPrice: pos.entryPrice,
		ExitPrice:  price,
		Quantity:   qty,
		PnL:        pnl.Sub(fees),
		ReturnPct:  returnPct.RoundBank(domain.PriceScale),
		Fees:       fees,
	})

	pos.quantity = pos.quantity.Sub(qty)
	if pos.quantity.Sign() <= 0 {
		delete(e.positions, key)
	}

	return strat.OnOrderFilled(e.filledOrder(sig, price, qty, k))
}

func (e *Engine) filledOrder(sig domain.Signal, price, qty decimal.Decimal, k domain.Kline) domain.Order {
	return domain.Order{
		ID:           uuid.New(),
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Type:         domain.OrderMarket,
		Status:       domain.OrderFilled,
		Price:        price,
		Quantity:     qty,
		FilledQty:    qty,
		AvgFillPrice: price,
		CreatedAt:    k.CloseTime,
		UpdatedAt:    k.CloseTime,
	}
}

// currentEquity marks every open position at its symbol's last close.
func (e *Engine) currentEquity() decimal.Decimal {
	equity := e.cash
	for key, pos := range e.positions {
		price, ok := e.lastPrice[key]
		if !ok {
			price = pos.entryPrice
		}
		value := price.Mul(pos.quantity)
		if pos.side == domain.SideSell {
			// The entry credit already sits in cash; the buyback cost is
			// a liability.
			value = value.Neg()
		}
		equity = equity.Add(value)
	}
	return equity
}

// MergeMultiAsset interleaves per-symbol streams by open_time, breaking
// ties on the symbol's lexicographic order.
func MergeMultiAsset(streams map[string][]domain.Kline) []domain.Kline {
	total := 0
	for _, s := range streams {
		total += len(s)
	}
	merged := make([]domain.Kline, 0, total)
	for _, s := range streams {
		merged = append(merged, s...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].OpenTime.Equal(merged[j].OpenTime) {
			return merged[i].OpenTime.Before(merged[j].OpenTime)
		}
		return merged[i].Symbol < merged[j].Symbol
	})
	return merged
}
