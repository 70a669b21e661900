package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/analysis"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/indicators"
	"github.com/tyeom/zeroquant/internal/metrics"
)

// evaluationCandles is what one sample build reads; enough for the
// regime-sized classifiers plus slack.
const evaluationCandles = 80

// KlineProvider serves the candle window a sample is built from.
type KlineProvider interface {
	GetKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error)
}

// Notification describes one fired rule.
type Notification struct {
	Rule   *Rule
	Symbol string
	At     time.Time
}

// Notifier receives fired rules.
type Notifier func(Notification)

// Service owns the in-memory rule set and evaluates it over the watched
// symbols.
type Service struct {
	provider KlineProvider
	notifier Notifier

	mu    sync.RWMutex
	rules []*Rule
}

// NewService builds a service. notifier may be nil.
func NewService(provider KlineProvider, notifier Notifier) *Service {
	return &Service{provider: provider, notifier: notifier}
}

// AddRule registers a rule.
func (s *Service) AddRule(rule *Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// Rules snapshots the registered rules.
func (s *Service) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// watchedSymbols collects the union of rule symbol lists.
func (s *Service) watchedSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, rule := range s.rules {
		if rule.Status != RuleActive {
			continue
		}
		for _, symbol := range rule.Symbols {
			if !seen[symbol] {
				seen[symbol] = true
				out = append(out, symbol)
			}
		}
	}
	return out
}

// RunOnce evaluates every active rule against fresh samples of its
// watched symbols. Rules with no symbol list are evaluated against
// every watched symbol.
func (s *Service) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	for _, symbol := range s.watchedSymbols() {
		if ctx.Err() != nil {
			return
		}
		sample, err := s.buildSample(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("alert sample build failed")
			continue
		}
		s.evaluateSymbol(symbol, sample, now)
	}
}

func (s *Service) evaluateSymbol(symbol string, sample Sample, now time.Time) {
	s.mu.Lock()
	rules := make([]*Rule, len(s.rules))
	copy(rules, s.rules)
	s.mu.Unlock()

	for _, rule := range rules {
		if !rule.AppliesTo(symbol) {
			continue
		}
		fired, err := rule.Evaluate(sample, now)
		if err != nil {
			log.Warn().Err(err).Str("rule", rule.Name).Msg("rule evaluation failed")
			continue
		}
		if fired {
			metrics.AlertsTriggered.Inc()
			log.Info().Str("rule", rule.Name).Str("symbol", symbol).Msg("alert fired")
			if s.notifier != nil {
				s.notifier(Notification{Rule: rule, Symbol: symbol, At: now})
			}
		}
	}
}

// buildSample derives the evaluation inputs from the cached candle
// window: current and previous close, RSI, and the route state computed
// with and without the final candle so cross and transition conditions
// see both sides.
func (s *Service) buildSample(ctx context.Context, symbol string) (Sample, error) {
	candles, err := s.provider.GetKlines(ctx, symbol, domain.D1, evaluationCandles)
	if err != nil {
		return Sample{}, err
	}
	if len(candles) < 2 {
		return Sample{}, fmt.Errorf("not enough candles for %s", symbol)
	}

	closes := domain.Closes(candles)
	sample := Sample{
		Price:          closes[len(closes)-1],
		Indicators:     map[string]decimal.Decimal{},
		PrevIndicators: map[string]decimal.Decimal{},
	}
	prevPrice := closes[len(closes)-2]
	sample.PrevPrice = &prevPrice

	if rsi, err := indicators.RSI(closes, 14); err == nil {
		if last := rsi[len(rsi)-1]; last != nil {
			sample.Indicators["rsi"] = *last
		}
		if prev := rsi[len(rsi)-2]; prev != nil {
			sample.PrevIndicators["rsi"] = *prev
		}
	}
	if macd, err := indicators.MACD(closes, 12, 26, 9); err == nil {
		if last := macd[len(macd)-1].MACD; last != nil {
			sample.Indicators["macd"] = *last
		}
		if prev := macd[len(macd)-2].MACD; prev != nil {
			sample.PrevIndicators["macd"] = *prev
		}
	}

	if features, err := analysis.ComputeStructuralFeatures(candles); err == nil {
		score := decimal.NewFromFloat(features.BreakoutScore()).RoundBank(domain.PriceScale)
		sample.GlobalScore = &score
	}
	if state, err := analysis.ClassifyRouteState(candles); err == nil {
		sample.RouteState = string(state)
	}
	if prevState, err := analysis.ClassifyRouteState(candles[:len(candles)-1]); err == nil {
		sample.PrevRouteState = string(prevState)
	}
	return sample, nil
}

// RunLoop evaluates on the interval until ctx is cancelled.
func (s *Service) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
