package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tyeom/zeroquant/internal/adapters"
	"github.com/tyeom/zeroquant/internal/adapters/krx"
	"github.com/tyeom/zeroquant/internal/adapters/yahoo"
	"github.com/tyeom/zeroquant/internal/backtest"
	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/provider"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
	"github.com/tyeom/zeroquant/internal/strategy"
)

func newBacktestCmd() *cobra.Command {
	var (
		flagStrategy string
		flagSymbol   string
		flagTf       string
		flagCandles  int
		flagCapital  string
		flagParams   string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay cached candles through a strategy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacktest(cmd.Context(), flagStrategy, flagSymbol, flagTf,
				flagCandles, flagCapital, flagParams)
		},
	}
	cmd.Flags().StringVar(&flagStrategy, "strategy", "trailing_stop", "strategy id")
	cmd.Flags().StringVar(&flagSymbol, "symbol", "", "symbol to replay (required)")
	cmd.Flags().StringVar(&flagTf, "timeframe", "1d", "candle timeframe")
	cmd.Flags().IntVar(&flagCandles, "candles", 500, "number of candles to replay")
	cmd.Flags().StringVar(&flagCapital, "capital", "10000000", "initial capital")
	cmd.Flags().StringVar(&flagParams, "params", "", "strategy config JSON")
	cmd.MarkFlagRequired("symbol")
	return cmd
}

func runBacktest(ctx context.Context, strategyID, symbol, tfStr string, candles int, capital, params string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	tf, err := domain.ParseTimeframe(tfStr)
	if err != nil {
		return err
	}
	initialCapital, err := decimal.NewFromString(capital)
	if err != nil {
		return fmt.Errorf("parse capital: %w", err)
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: cfg.Provider.RequestTimeout}
	cached := provider.New(db.Klines,
		yahoo.New(httpClient, adapters.NewSourceLimiter(cfg.Provider.YahooRPS, 4)),
		krx.New(httpClient, adapters.NewSourceLimiter(cfg.Provider.KRXRPS, 2)),
		provider.WithFreshness(cfg.Provider.FreshnessWindow))

	klines, err := cached.GetKlines(ctx, symbol, tf, candles)
	if err != nil {
		return err
	}
	log.Info().Int("candles", len(klines)).Str("symbol", symbol).Msg("replaying")

	strat, err := strategy.Create(strategyID)
	if err != nil {
		return err
	}
	strategyConfig := json.RawMessage(params)
	if params == "" {
		strategyConfig = json.RawMessage(fmt.Sprintf(`{"symbol":%q}`, symbol))
	}
	if err := strat.Initialize(strategyConfig); err != nil {
		return err
	}

	engineConfig := backtest.DefaultConfig()
	engineConfig.InitialCapital = initialCapital
	report := backtest.NewEngine(engineConfig).Run(strat, klines)

	// Persist the run, then print it.
	metricsJSON, _ := json.Marshal(report.Metrics)
	configJSON, _ := json.Marshal(engineConfig)
	record := postgres.BacktestResultRecord{
		ID:          report.ID,
		StrategyID:  report.StrategyID,
		Symbol:      symbol,
		Timeframe:   tf.String(),
		ConfigJSON:  configJSON,
		MetricsJSON: metricsJSON,
		Success:     report.Success,
	}
	if !report.Success {
		record.Error = &report.Error
	}
	if err := db.Results.SaveBacktestResult(ctx, record); err != nil {
		log.Warn().Err(err).Msg("result persistence failed")
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report.Metrics)
}
