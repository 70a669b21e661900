package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tyeom/zeroquant/internal/adapters"
	"github.com/tyeom/zeroquant/internal/alert"
	"github.com/tyeom/zeroquant/internal/adapters/krx"
	"github.com/tyeom/zeroquant/internal/adapters/yahoo"
	"github.com/tyeom/zeroquant/internal/collector"
	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/monitor"
	"github.com/tyeom/zeroquant/internal/notify"
	"github.com/tyeom/zeroquant/internal/provider"
	"github.com/tyeom/zeroquant/internal/server"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collectors, alert loop and monitoring server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := monitor.NewTracker(monitor.DefaultCapacity)
	telegram, err := notify.NewTelegram(cfg.Telegram, tracker, nil)
	if err != nil {
		log.Warn().Err(err).Msg("telegram disabled")
	}
	if telegram != nil {
		tracker.WithNotifier(telegram)
	}

	httpClient := &http.Client{Timeout: cfg.Provider.RequestTimeout}
	limiter := adapters.NewSourceLimiter(cfg.Provider.YahooRPS, 4)
	yahooAdapter := yahoo.New(httpClient, limiter)
	krxAdapter := krx.New(httpClient, adapters.NewSourceLimiter(cfg.Provider.KRXRPS, 2))

	opts := []provider.Option{provider.WithFreshness(cfg.Provider.FreshnessWindow)}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		opts = append(opts, provider.WithWarmCache(provider.NewRedisWarmCache(rdb)))
		defer rdb.Close()
	}
	cached := provider.New(db.Klines, yahooAdapter, krxAdapter, opts...)

	alerts := alert.NewService(cached, func(n alert.Notification) {
		telegram.Send(fmt.Sprintf("[ALERT] %s fired for %s", n.Rule.Name, n.Symbol))
	})
	go alerts.RunLoop(ctx, 5*time.Minute)

	sched := collector.NewScheduler(ctx, db.Checkpoints)
	register := func(schedule string, task collector.Task) {
		if err := sched.Register(schedule, task); err != nil {
			log.Error().Err(err).Str("task", task.Name()).Msg("schedule registration failed")
		}
	}
	register(cfg.Collectors.Fundamental.Schedule,
		collector.NewFundamentalCollector(db.Symbols, db.Klines, yahooAdapter, db.Checkpoints, cfg.Collectors.Fundamental))
	register(cfg.Collectors.Indicator.Schedule,
		collector.NewIndicatorCollector(db.Symbols, db.Klines, db.Checkpoints, cfg.Collectors.Indicator))
	register(cfg.Collectors.Purge.Schedule, collector.NewPurgeCollector(db.Klines))
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg.Server.Addr, tracker, db.Klines)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("monitoring server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
