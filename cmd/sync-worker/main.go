package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oakmere/storefront-backend/internal/alerts"
	"github.com/oakmere/storefront-backend/internal/ledger"
	"github.com/oakmere/storefront-backend/internal/reservation"
	syncsvc "github.com/oakmere/storefront-backend/internal/sync"
	"github.com/oakmere/storefront-backend/pkg/config"
	"github.com/oakmere/storefront-backend/pkg/db"
	"github.com/oakmere/storefront-backend/pkg/instance"
	"github.com/oakmere/storefront-backend/pkg/logger"
	"github.com/oakmere/storefront-backend/pkg/metrics"
	"github.com/oakmere/storefront-backend/pkg/migrate"
	"github.com/oakmere/storefront-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
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

	alertEmitter := alerts.NewLogEmitter(alerts.LogEmitterParams{
		Logger:  logg,
		Metrics: metrics.NewStockAlertMetrics(prometheus.DefaultRegisterer),
	})

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Logger: logg,
		Alerts: alertEmitter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	reservationService, err := reservation.NewService(reservation.ServiceParams{
		Logger: logg,
		Ledger: ledgerService,
		Alerts: alertEmitter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation service", err)
		os.Exit(1)
	}

	repo := syncsvc.NewRepository(dbClient.DB())

	expiryJob, err := syncsvc.NewExpiryJob(syncsvc.ExpiryJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repo:         repo,
		Reservations: reservationService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry job", err)
		os.Exit(1)
	}

	abandonmentJob, err := syncsvc.NewAbandonmentJob(syncsvc.AbandonmentJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repo:         repo,
		Reservations: reservationService,
		IdleTTL:      cfg.Stock.AbandonmentTTL,
		Retention:    cfg.Stock.CartRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create abandonment job", err)
		os.Exit(1)
	}

	driftJob, err := syncsvc.NewDriftJob(syncsvc.DriftJobParams{
		Logger: logg,
		DB:     dbClient,
		Repo:   repo,
		Ledger: ledgerService,
		Alerts: alertEmitter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create drift job", err)
		os.Exit(1)
	}

	lock, err := syncsvc.NewRedisLock(redisClient, redisClient.LockKey("inventory-sync"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync lock", err)
		os.Exit(1)
	}

	service, err := syncsvc.NewService(syncsvc.ServiceParams{
		Logger:   logg,
		Registry: syncsvc.NewRegistry(expiryJob, abandonmentJob, driftJob),
		Lock:     lock,
		Metrics:  metrics.NewSyncJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Stock.SyncInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting sync worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}
