package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/metrics"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

// FundamentalSymbolStore is the universe slice the collector reads and
// writes.
type FundamentalSymbolStore interface {
	StaleFundamentals(ctx context.Context, threshold time.Time, limit int, afterTicker string) ([]postgres.StaleFundamentalSymbol, error)
	UpsertFundamental(ctx context.Context, symbolID int64, f domain.FundamentalSnapshot) error
}

// KlineWriter persists the daily bars that ride along with fundamental
// fetches.
type KlineWriter interface {
	BulkUpsert(ctx context.Context, symbol string, tf domain.Timeframe, klines []domain.Kline) (int, error)
}

// FundamentalSource is the upstream that serves candles and a
// fundamental snapshot in one call.
type FundamentalSource interface {
	FetchKlinesWithFundamental(ctx context.Context, symbol string) ([]domain.Kline, domain.FundamentalSnapshot, error)
}

// FundamentalCollector refreshes fundamentals (and daily candles) for
// symbols whose snapshot is missing or stale. Crypto symbols are
// excluded at the query.
type FundamentalCollector struct {
	symbols     FundamentalSymbolStore
	store       KlineWriter
	source      FundamentalSource
	checkpoints CheckpointStore
	cfg         config.CollectorTaskConfig
}

// NewFundamentalCollector wires the task.
func NewFundamentalCollector(symbols FundamentalSymbolStore, store KlineWriter, source FundamentalSource, checkpoints CheckpointStore, cfg config.CollectorTaskConfig) *FundamentalCollector {
	return &FundamentalCollector{
		symbols:     symbols,
		store:       store,
		source:      source,
		checkpoints: checkpoints,
		cfg:         cfg,
	}
}

// Name implements Task.
func (c *FundamentalCollector) Name() string { return "fundamental_sync" }

// Run implements Task. Symbols process in stable ticker order; the
// checkpoint reflects the highest fully processed ticker.
func (c *FundamentalCollector) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	after, err := resumeKey(ctx, c.checkpoints, c.Name())
	if err != nil {
		return stats, err
	}
	if after != "" {
		log.Info().Str("task", c.Name()).Str("resume_after", after).Msg("resuming from checkpoint")
	}

	threshold := time.Now().UTC().Add(-c.cfg.StaleThreshold)
	targets, err := c.symbols.StaleFundamentals(ctx, threshold, c.cfg.BatchSize, after)
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
			// Cooperative shutdown between symbols: leave the running
			// checkpoint in place so the next run resumes.
			stats.Elapsed = time.Since(start)
			return stats, ctx.Err()
		}

		fetchSymbol := target.Ticker
		if target.YahooSymbol != nil && *target.YahooSymbol != "" {
			fetchSymbol = *target.YahooSymbol
		}

		klines, snapshot, err := c.source.FetchKlinesWithFundamental(ctx, fetchSymbol)
		if err != nil {
			log.Warn().Err(err).Str("ticker", target.Ticker).Msg("fundamental fetch failed")
			stats.Errors++
			metrics.CollectorProcessed.WithLabelValues(c.Name(), "error").Inc()
			if err := sleepOrDone(ctx, c.cfg.RequestDelay); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, err
			}
			continue
		}

		snapshot.Round()
		if err := c.symbols.UpsertFundamental(ctx, target.SymbolID, snapshot); err != nil {
			log.Warn().Err(err).Str("ticker", target.Ticker).Msg("fundamental upsert failed")
			stats.Errors++
			metrics.CollectorProcessed.WithLabelValues(c.Name(), "error").Inc()
			continue
		}
		if len(klines) > 0 {
			if _, err := c.store.BulkUpsert(ctx, domain.ToYahooSymbol(target.Ticker), domain.D1, klines); err != nil {
				log.Warn().Err(err).Str("ticker", target.Ticker).Msg("candle upsert failed")
			}
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
