package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

// Retention thresholds: intraday candles older than 90 days and daily+
// candles older than five years are eligible for purge.
const (
	intradayRetention = 90 * 24 * time.Hour
	dailyRetention    = 5 * 365 * 24 * time.Hour
)

// PurgeStore is the cache slice the purge task touches.
type PurgeStore interface {
	AllMetadata(ctx context.Context) ([]postgres.Metadata, error)
	PurgeOlderThan(ctx context.Context, symbol string, tf domain.Timeframe, threshold time.Time) (int64, error)
}

// PurgeCollector trims candles past their retention threshold.
type PurgeCollector struct {
	store PurgeStore
}

// NewPurgeCollector wires the task.
func NewPurgeCollector(store PurgeStore) *PurgeCollector {
	return &PurgeCollector{store: store}
}

// Name implements Task.
func (c *PurgeCollector) Name() string { return "cache_purge" }

// Run implements Task.
func (c *PurgeCollector) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	entries, err := c.store.AllMetadata(ctx)
	if err != nil {
		return stats, err
	}
	stats.Total = len(entries)

	now := time.Now().UTC()
	for _, entry := range entries {
		if ctx.Err() != nil {
			stats.Elapsed = time.Since(start)
			return stats, ctx.Err()
		}

		tf := domain.Timeframe(entry.Timeframe)
		if !tf.Valid() {
			stats.Skipped++
			continue
		}
		retention := dailyRetention
		if tf.IsIntraday() {
			retention = intradayRetention
		}

		deleted, err := c.store.PurgeOlderThan(ctx, entry.Symbol, tf, now.Add(-retention))
		if err != nil {
			log.Warn().Err(err).Str("symbol", entry.Symbol).Msg("purge failed")
			stats.Errors++
			continue
		}
		if deleted > 0 {
			log.Info().Str("symbol", entry.Symbol).Str("timeframe", entry.Timeframe).
				Int64("deleted", deleted).Msg("purged expired candles")
		}
		stats.Success++
	}

	stats.Elapsed = time.Since(start)
	return stats, nil
}
