package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tyeom/zeroquant/internal/adapters"
	"github.com/tyeom/zeroquant/internal/adapters/yahoo"
	"github.com/tyeom/zeroquant/internal/collector"
	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

func newCollectCmd() *cobra.Command {
	var (
		flagKRXListings string
		flagKRXSectors  string
		flagEOD         string
	)

	cmd := &cobra.Command{
		Use:   "collect <task>",
		Short: "Run one collector task to completion",
		Long:  "Tasks: fundamental, indicator, symbols, purge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), args[0], flagKRXListings, flagKRXSectors, flagEOD)
		},
	}
	cmd.Flags().StringVar(&flagKRXListings, "krx-listings", "", "path to the KRX listing CSV (symbols task)")
	cmd.Flags().StringVar(&flagKRXSectors, "krx-sectors", "", "path to the KRX sector CSV (symbols task)")
	cmd.Flags().StringVar(&flagEOD, "eod", "", "path to the EOD exchange CSV (symbols task)")
	return cmd
}

func fileFetcher(path string) collector.ListingFetcher {
	if path == "" {
		return nil
	}
	return func(_ context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	}
}

func runCollect(ctx context.Context, taskName, krxListings, krxSectors, eod string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	var task collector.Task
	switch taskName {
	case "fundamental":
		httpClient := &http.Client{Timeout: cfg.Provider.RequestTimeout}
		source := yahoo.New(httpClient, adapters.NewSourceLimiter(cfg.Provider.YahooRPS, 4))
		task = collector.NewFundamentalCollector(db.Symbols, db.Klines, source, db.Checkpoints, cfg.Collectors.Fundamental)
	case "indicator":
		task = collector.NewIndicatorCollector(db.Symbols, db.Klines, db.Checkpoints, cfg.Collectors.Indicator)
	case "symbols":
		task = collector.NewSymbolSync(db.Symbols, db.Checkpoints, cfg.Collectors.SymbolSync,
			fileFetcher(krxListings), fileFetcher(krxSectors), fileFetcher(eod))
	case "purge":
		task = collector.NewPurgeCollector(db.Klines)
	default:
		return fmt.Errorf("unknown task %q", taskName)
	}

	stats, err := task.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("task", task.Name()).
		Int("total", stats.Total).Int("success", stats.Success).
		Int("skipped", stats.Skipped).Int("errors", stats.Errors).
		Dur("elapsed", stats.Elapsed).Msg("collector finished")
	return nil
}
