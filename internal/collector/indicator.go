package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/analysis"
	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/indicators"
	"github.com/tyeom/zeroquant/internal/metrics"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

// indicatorCandleCount is what one analysis pass reads: the regime
// classifier needs 70, plus slack.
const indicatorCandleCount = 80

// minAnalysisCandles skips symbols without enough history for even the
// structural features.
const minAnalysisCandles = 40

// IndicatorSymbolStore is the universe slice the indicator collector
// touches.
type IndicatorSymbolStore interface {
	StaleIndicators(ctx context.Context, threshold time.Time, limit int, afterTicker string) ([]postgres.StaleFundamentalSymbol, error)
	UpdateAnalysis(ctx context.Context, symbolID int64, routeState, regime *string, ttmSqueeze *bool, ttmSqueezeCount *int) error
}

// KlineReader reads cached candles.
type KlineReader interface {
	RecentKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error)
}

// IndicatorCollector recomputes route state, market regime and the TTM
// squeeze fields for symbols whose analysis is missing or stale.
type IndicatorCollector struct {
	symbols     IndicatorSymbolStore
	store       KlineReader
	checkpoints CheckpointStore
	cfg         config.CollectorTaskConfig
}

// NewIndicatorCollector wires the task.
func NewIndicatorCollector(symbols IndicatorSymbolStore, store KlineReader, checkpoints CheckpointStore, cfg config.CollectorTaskConfig) *IndicatorCollector {
	return &IndicatorCollector{symbols: symbols, store: store, checkpoints: checkpoints, cfg: cfg}
}

// Name implements Task.
func (c *IndicatorCollector) Name() string { return "indicator_sync" }

// Run implements Task.
func (c *IndicatorCollector) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	after, err := resumeKey(ctx, c.checkpoints, c.Name())
	if err != nil {
		return stats, err
	}

	threshold := time.Now().UTC().Add(-c.cfg.StaleThreshold)
	targets, err := c.symbols.StaleIndicators(ctx, threshold, c.cfg.BatchSize, after)
	if err != nil {
		return stats, err
	}
	stats.Total = len(targets)
	if len(targets) == 0 {
		err := c.checkpoints.Save(ctx, c.Name(), "", 0, postgres.CheckpointCompleted)
		stats.Elapsed = time.Since(start)
		return stats, err
	}

	if err := c.checkpoints.Save(ctx, c.Name(), after, 0, postgres.CheckpointRunning); err != nil {
		return stats, err
	}

	for idx, target := range targets {
		if ctx.Err() != nil {
			stats.Elapsed = time.Since(start)
			return stats, ctx.Err()
		}

		cacheSymbol := domain.ToYahooSymbol(target.Ticker)
		if target.YahooSymbol != nil && *target.YahooSymbol != "" {
			cacheSymbol = *target.YahooSymbol
		}

		candles, err := c.store.RecentKlines(ctx, cacheSymbol, domain.D1, indicatorCandleCount)
		if err != nil {
			log.Warn().Err(err).Str("ticker", target.Ticker).Msg("candle read failed")
			stats.Errors++
			continue
		}
		if len(candles) < minAnalysisCandles {
			stats.Skipped++
			metrics.CollectorProcessed.WithLabelValues(c.Name(), "skipped").Inc()
			continue
		}

		routeState, regime, squeeze, squeezeCount := computeAnalysis(candles)
		if err := c.symbols.UpdateAnalysis(ctx, target.SymbolID, routeState, regime, squeeze, squeezeCount); err != nil {
			log.Warn().Err(err).Str("ticker", target.Ticker).Msg("analysis upsert failed")
			stats.Errors++
			metrics.CollectorProcessed.WithLabelValues(c.Name(), "error").Inc()
			continue
		}

		stats.Success++
		metrics.CollectorProcessed.WithLabelValues(c.Name(), "success").Inc()

		// The checkpoint always names a fully processed ticker.
		if (idx+1)%checkpointEvery == 0 {
			if err := c.checkpoints.Save(ctx, c.Name(), target.Ticker, idx+1, postgres.CheckpointRunning); err != nil {
				log.Warn().Err(err).Str("task", c.Name()).Msg("checkpoint write failed")
			}
			metrics.CollectorProgress.WithLabelValues(c.Name()).Set(float64(idx + 1))
		}

		if err := sleepOrDone(ctx, c.cfg.RequestDelay); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, err
		}
	}

	err = c.checkpoints.Save(ctx, c.Name(), "", stats.Total, postgres.CheckpointCompleted)
	stats.Elapsed = time.Since(start)
	return stats, err
}

// computeAnalysis derives the persisted analysis fields. A field that
// cannot be computed for this symbol stays nil.
func computeAnalysis(candles []domain.Kline) (routeState, regime *string, squeeze *bool, squeezeCount *int) {
	if state, err := analysis.ClassifyRouteState(candles); err == nil {
		s := string(state)
		routeState = &s
	}

	if len(candles) >= analysis.MinRegimeCandles {
		if result, err := analysis.ClassifyMarketRegime(candles); err == nil {
			r := string(result.Regime)
			regime = &r
		}
	}

	if len(candles) >= 21 {
		results, err := indicators.TTMSqueeze(
			domain.Highs(candles), domain.Lows(candles), domain.Closes(candles),
			20, 20, indicatorTTMMult)
		if err == nil && len(results) > 0 {
			last := results[len(results)-1]
			squeeze = &last.IsSqueeze
			count := last.SqueezeCount
			squeezeCount = &count
		}
	}
	return
}

// indicatorTTMMult is the Keltner ATR multiplier of the squeeze scan.
var indicatorTTMMult = decimal.RequireFromString("1.5")
