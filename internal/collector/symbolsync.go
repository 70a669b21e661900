package collector

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/adapters/csvsrc"
	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/metrics"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

// UniverseStore is the symbol_info slice the sync writes.
type UniverseStore interface {
	UpsertSymbol(ctx context.Context, info domain.SymbolInfo) error
	Deactivate(ctx context.Context, market string, activeTickers []string) (int64, error)
}

// ListingFetcher opens one CSV listing stream. Implementations wrap
// the exchange download endpoints; tests feed files.
type ListingFetcher func(ctx context.Context) (io.ReadCloser, error)

// SymbolSync refreshes the symbol universe from the KRX listing/sector
// files and the EOD exchange universe, upserting symbol_info and
// flipping is_active for delisted rows.
type SymbolSync struct {
	store       UniverseStore
	checkpoints CheckpointStore
	cfg         config.CollectorTaskConfig

	fetchKRXListings ListingFetcher
	fetchKRXSectors  ListingFetcher
	fetchEOD         ListingFetcher
}

// NewSymbolSync wires the task. A nil fetcher skips that universe.
func NewSymbolSync(store UniverseStore, checkpoints CheckpointStore, cfg config.CollectorTaskConfig, krxListings, krxSectors, eod ListingFetcher) *SymbolSync {
	return &SymbolSync{
		store:            store,
		checkpoints:      checkpoints,
		cfg:              cfg,
		fetchKRXListings: krxListings,
		fetchKRXSectors:  krxSectors,
		fetchEOD:         eod,
	}
}

// Name implements Task.
func (c *SymbolSync) Name() string { return "symbol_sync" }

// Run implements Task.
func (c *SymbolSync) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	if err := c.checkpoints.Save(ctx, c.Name(), "", 0, postgres.CheckpointRunning); err != nil {
		return stats, err
	}

	if c.fetchKRXListings != nil {
		if err := c.syncKRX(ctx, &stats); err != nil {
			c.failCheckpoint(ctx)
			stats.Elapsed = time.Since(start)
			return stats, err
		}
	}
	if c.fetchEOD != nil {
		if err := c.syncEOD(ctx, &stats); err != nil {
			c.failCheckpoint(ctx)
			stats.Elapsed = time.Since(start)
			return stats, err
		}
	}

	err := c.checkpoints.Save(ctx, c.Name(), "", stats.Total, postgres.CheckpointCompleted)
	stats.Elapsed = time.Since(start)
	return stats, err
}

func (c *SymbolSync) failCheckpoint(ctx context.Context) {
	if err := c.checkpoints.Save(ctx, c.Name(), "", 0, postgres.CheckpointFailed); err != nil {
		log.Warn().Err(err).Str("task", c.Name()).Msg("failed-checkpoint write failed")
	}
}

func (c *SymbolSync) syncKRX(ctx context.Context, stats *Stats) error {
	body, err := c.fetchKRXListings(ctx)
	if err != nil {
		return err
	}
	listings, err := csvsrc.ParseKRXListings(body)
	body.Close()
	if err != nil {
		return err
	}

	// Sector file enriches the listings when available.
	sectors := map[string]string{}
	if c.fetchKRXSectors != nil {
		if body, err := c.fetchKRXSectors(ctx); err == nil {
			if rows, err := csvsrc.ParseKRXSectors(body); err == nil {
				for _, row := range rows {
					sectors[row.Ticker] = row.Sector
				}
			}
			body.Close()
		} else {
			log.Warn().Err(err).Msg("krx sector fetch failed, syncing without sectors")
		}
	}

	active := make([]string, 0, len(listings))
	for _, listing := range listings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info := listing.ToSymbolInfo()
		if sector, ok := sectors[listing.Ticker]; ok {
			info.Sector = &sector
		}
		stats.Total++
		if err := c.store.UpsertSymbol(ctx, info); err != nil {
			log.Warn().Err(err).Str("ticker", listing.Ticker).Msg("symbol upsert failed")
			stats.Errors++
			continue
		}
		stats.Success++
		active = append(active, listing.Ticker)
		metrics.CollectorProcessed.WithLabelValues(c.Name(), "success").Inc()
	}

	if len(active) > 0 {
		deactivated, err := c.store.Deactivate(ctx, "KR", active)
		if err != nil {
			return err
		}
		if deactivated > 0 {
			log.Info().Int64("count", deactivated).Msg("deactivated delisted KR symbols")
		}
	}
	return nil
}

func (c *SymbolSync) syncEOD(ctx context.Context, stats *Stats) error {
	body, err := c.fetchEOD(ctx)
	if err != nil {
		return err
	}
	listings, err := csvsrc.ParseEODListings(body)
	body.Close()
	if err != nil {
		return err
	}

	activeByMarket := map[string][]string{}
	for _, listing := range listings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Total++
		if err := c.store.UpsertSymbol(ctx, listing.ToSymbolInfo()); err != nil {
			log.Warn().Err(err).Str("ticker", listing.Ticker).Msg("symbol upsert failed")
			stats.Errors++
			continue
		}
		stats.Success++
		activeByMarket[listing.Market] = append(activeByMarket[listing.Market], listing.Ticker)
	}

	for market, tickers := range activeByMarket {
		if _, err := c.store.Deactivate(ctx, market, tickers); err != nil {
			log.Warn().Err(err).Str("market", market).Msg("deactivation failed")
		}
	}
	return nil
}
