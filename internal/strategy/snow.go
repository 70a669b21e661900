package strategy

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// SnowMarket selects the asset basket.
type SnowMarket string

const (
	SnowMarketKR SnowMarket = "KR"
	SnowMarketUS SnowMarket = "US"
)

// SnowConfig is the recognized configuration of the snow strategy.
type SnowConfig struct {
	Market             SnowMarket      `json:"market"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TipMAPeriod        int             `json:"tip_ma_period"`
	AttackMAPeriod     int             `json:"attack_ma_period"`
	RebalanceDays      int             `json:"rebalance_days"`
	RebalanceThreshold decimal.Decimal `json:"rebalance_threshold"`
}

func defaultSnowConfig() SnowConfig {
	return SnowConfig{
		Market:             SnowMarketUS,
		TotalAmount:        decimal.NewFromInt(10_000_000),
		TipMAPeriod:        200,
		AttackMAPeriod:     5,
		RebalanceDays:      1,
		RebalanceThreshold: decimal.NewFromInt(5),
	}
}

// snowAssets is the fixed basket per market: the TIP reference, the
// leveraged attack asset, the safe bond and the crisis cash proxy.
type snowAssets struct {
	tip    string
	attack string
	safe   string
	crisis string
}

func assetsFor(market SnowMarket) snowAssets {
	if market == SnowMarketKR {
		return snowAssets{
			tip:    "TIP",
			attack: "122630", // KODEX leveraged
			safe:   "148070", // KOSEF 10y treasury
			crisis: "272580", // US treasury mixed leveraged
		}
	}
	return snowAssets{
		tip:    "TIP",  // iShares TIPS bond ETF
		attack: "UPRO", // 3x S&P 500
		safe:   "TLT",  // 20y treasury
		crisis: "BIL",  // short-term treasury
	}
}

// SnowMode is the current allocation regime.
type SnowMode string

const (
	SnowAttack SnowMode = "attack"
	SnowSafe   SnowMode = "safe"
	SnowCrisis SnowMode = "crisis"
)

// Snow is a moving-average momentum rotation: TIP above its long MA
// marks the market safe; the attack asset above its short MA adds
// momentum; the combination picks attack, safe or crisis holdings.
type Snow struct {
	config       SnowConfig
	assets       snowAssets
	mode         SnowMode
	holding      string
	quantity     decimal.Decimal
	lastRebalance *time.Time
	prices       map[string][]decimal.Decimal
	initialized  bool
}

// NewSnow builds an uninitialized instance.
func NewSnow() *Snow { return &Snow{} }

// ID implements Strategy.
func (s *Snow) ID() string { return "snow" }

// Initialize implements Strategy.
func (s *Snow) Initialize(config json.RawMessage) error {
	cfg := defaultSnowConfig()
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return errs.InvalidParameter("snow config: %v", err)
		}
	}
	if cfg.Market != SnowMarketKR && cfg.Market != SnowMarketUS {
		return errs.InvalidParameter("snow market must be KR or US, got %q", cfg.Market)
	}
	if cfg.TipMAPeriod <= 0 || cfg.AttackMAPeriod <= 0 {
		return errs.InvalidParameter("snow MA periods must be positive")
	}
	if cfg.TotalAmount.Sign() <= 0 {
		return errs.InvalidParameter("total_amount must be positive, got %s", cfg.TotalAmount)
	}

	s.config = cfg
	s.assets = assetsFor(cfg.Market)
	s.mode = SnowSafe
	s.prices = make(map[string][]decimal.Decimal)
	s.initialized = true
	return nil
}

// movingAverage computes the trailing mean of the last period prices.
func movingAverage(prices []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if len(prices) < period {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range prices[len(prices)-period:] {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// marketSafe reads TIP against its long MA; insufficient data reads
// unsafe.
func (s *Snow) marketSafe() bool {
	prices := s.prices[s.assets.tip]
	ma, ok := movingAverage(prices, s.config.TipMAPeriod)
	if !ok {
		return false
	}
	return prices[len(prices)-1].GreaterThan(ma)
}

func (s *Snow) attackMomentum() bool {
	prices := s.prices[s.assets.attack]
	ma, ok := movingAverage(prices, s.config.AttackMAPeriod)
	if !ok {
		return false
	}
	return prices[len(prices)-1].GreaterThan(ma)
}

func (s *Snow) determineMode() SnowMode {
	safe := s.marketSafe()
	momentum := s.attackMomentum()
	switch {
	case safe && momentum:
		return SnowAttack
	case safe:
		return SnowSafe
	default:
		return SnowCrisis
	}
}

func (s *Snow) assetForMode(mode SnowMode) string {
	switch mode {
	case SnowAttack:
		return s.assets.attack
	case SnowCrisis:
		return s.assets.crisis
	default:
		return s.assets.safe
	}
}

func (s *Snow) shouldRebalance(now time.Time) bool {
	if s.lastRebalance == nil {
		return true
	}
	days := int(now.Sub(*s.lastRebalance).Hours() / 24)
	return days >= s.config.RebalanceDays
}

// OnMarketData implements Strategy. Per-symbol state: every candle
// extends that symbol's price history; decisions fire on the attack
// asset's candle so one rotation sees consistent data.
func (s *Snow) OnMarketData(k domain.Kline) ([]domain.Signal, error) {
	if !s.initialized {
		return nil, errs.InvalidParameter("strategy not initialized")
	}

	base := domain.Canonicalize(k.Symbol).Base
	history := append(s.prices[base], k.Close)
	const maxHistory = 400
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	s.prices[base] = history

	if base != s.assets.attack || !s.shouldRebalance(k.CloseTime) {
		return nil, nil
	}

	mode := s.determineMode()
	target := s.assetForMode(mode)
	if target == s.holding && mode == s.mode {
		return nil, nil
	}

	var signals []domain.Signal
	now := k.CloseTime

	if s.holding != "" && s.holding != target && s.quantity.Sign() > 0 {
		exitSym := domain.Canonicalize(s.holding)
		price, ok := s.latestPrice(s.holding)
		if !ok {
			return nil, nil
		}
		signals = append(signals,
			domain.NewSignal(s.ID(), exitSym, domain.SideSell, domain.SignalExit, now).
				WithPrice(price).
				WithQuantity(s.quantity).
				WithReason("mode_change_"+string(mode)))
	}

	if s.holding != target {
		price, ok := s.latestPrice(target)
		if !ok {
			return nil, nil
		}
		qty := domain.RoundQuantity(s.config.TotalAmount.Div(price))
		if qty.Sign() > 0 {
			signals = append(signals,
				domain.NewSignal(s.ID(), domain.Canonicalize(target), domain.SideBuy, domain.SignalEntry, now).
					WithPrice(price).
					WithQuantity(qty).
					WithReason("enter_"+string(mode)))
		}
	}

	s.mode = mode
	rebalancedAt := now
	s.lastRebalance = &rebalancedAt
	return signals, nil
}

func (s *Snow) latestPrice(symbol string) (decimal.Decimal, bool) {
	prices := s.prices[symbol]
	if len(prices) == 0 {
		return decimal.Zero, false
	}
	return prices[len(prices)-1], true
}

// OnOrderFilled implements Strategy.
func (s *Snow) OnOrderFilled(order domain.Order) error {
	if order.Status != domain.OrderFilled {
		return nil
	}
	base := order.Symbol.Base
	switch order.Side {
	case domain.SideBuy:
		s.holding = base
		s.quantity = order.FilledQty
	case domain.SideSell:
		if s.holding == base {
			s.quantity = s.quantity.Sub(order.FilledQty)
			if s.quantity.Sign() <= 0 {
				s.holding = ""
				s.quantity = decimal.Zero
			}
		}
	}
	return nil
}

// OnPositionUpdate implements Strategy.
func (s *Snow) OnPositionUpdate(position domain.Position) error {
	if position.Quantity.Sign() <= 0 {
		if s.holding == position.Symbol.Base {
			s.holding = ""
			s.quantity = decimal.Zero
		}
		return nil
	}
	s.holding = position.Symbol.Base
	s.quantity = position.Quantity
	return nil
}

// Shutdown implements Strategy.
func (s *Snow) Shutdown() error {
	s.prices = nil
	return nil
}

// State implements Strategy.
func (s *Snow) State() map[string]any {
	return map[string]any{
		"initialized": s.initialized,
		"mode":        string(s.mode),
		"holding":     s.holding,
		"quantity":    s.quantity.String(),
	}
}
