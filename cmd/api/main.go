package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openlots/openlots-backend/api/routes"
	"github.com/openlots/openlots-backend/internal/auction"
	"github.com/openlots/openlots-backend/internal/escrow"
	"github.com/openlots/openlots-backend/internal/notify"
	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
	"github.com/openlots/openlots-backend/pkg/migrate"
	"github.com/openlots/openlots-backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	escrowService, err := escrow.NewService(escrow.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	auctionRepo := auction.NewRepository(dbClient.DB())
	extender, err := auction.NewExtender(auctionRepo, hub, cfg.Auction, logg, auctionMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create auction extender", err)
		os.Exit(1)
	}
	resolver, err := auction.NewResolver(auctionRepo, extender, hub, notifyService, cfg.Auction, logg, auctionMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create auto-bid resolver", err)
		os.Exit(1)
	}
	auctionService, err := auction.NewService(auctionRepo, escrowService, extender, resolver, hub, redisClient, cfg.Auction, logg, auctionMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create auction service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			logg.Error(ctx, "realtime hub stopped unexpectedly", err)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, auctionService, hub, notifyService),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
			os.Exit(1)
		}
		logg.Info(context.Background(), "api server shut down gracefully")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}
}
