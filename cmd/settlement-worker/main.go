package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openlots/openlots-backend/internal/cron"
	"github.com/openlots/openlots-backend/internal/escrow"
	"github.com/openlots/openlots-backend/internal/notify"
	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/internal/settlement"
	"github.com/openlots/openlots-backend/internal/wallet"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
	"github.com/openlots/openlots-backend/pkg/migrate"
	"github.com/openlots/openlots-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "settlement-worker"

	logg = logger.New(logger.Options{
		ServiceName: "settlement-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	auctionMetrics := metrics.NewAuctionMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	hub, err := realtime.NewHub(redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime hub", err)
		os.Exit(1)
	}

	notifyService, err := notify.NewService(notify.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notify service", err)
		os.Exit(1)
	}

	walletService, err := wallet.NewService(wallet.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	settlementJob, err := settlement.NewJob(settlement.JobParams{
		Logger:      logg,
		DB:          dbClient,
		Repo:        settlement.NewRepository(dbClient.DB()),
		EscrowRepo:  escrow.NewRepository(dbClient.DB()),
		Wallet:      walletService,
		Notifier:    notifyService,
		Broadcaster: hub,
		Config:      cfg.Settlement,
		Metrics:     auctionMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("settlement"), cfg.Settlement.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(settlementJob)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Settlement.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting settlement worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "settlement worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "settlement worker shutting down gracefully")
}
