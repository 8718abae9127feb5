package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oakmere/storefront-backend/api/routes"
	"github.com/oakmere/storefront-backend/internal/alerts"
	cartsvc "github.com/oakmere/storefront-backend/internal/cart"
	checkoutsvc "github.com/oakmere/storefront-backend/internal/checkout"
	"github.com/oakmere/storefront-backend/internal/ledger"
	productsvc "github.com/oakmere/storefront-backend/internal/products"
	"github.com/oakmere/storefront-backend/internal/reservation"
	"github.com/oakmere/storefront-backend/pkg/config"
	"github.com/oakmere/storefront-backend/pkg/db"
	"github.com/oakmere/storefront-backend/pkg/logger"
	"github.com/oakmere/storefront-backend/pkg/metrics"
	"github.com/oakmere/storefront-backend/pkg/migrate"
	"github.com/oakmere/storefront-backend/pkg/redis"
)

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

	cartService, err := cartsvc.NewService(cartsvc.ServiceParams{
		Logger:       logg,
		Repo:         cartsvc.NewRepository(dbClient.DB()),
		DB:           dbClient,
		Ledger:       ledgerService,
		Reservations: reservationService,
		MaxAttempts:  cfg.Stock.ReserveMaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Logger:         logg,
		CartRepo:       cartsvc.NewRepository(dbClient.DB()),
		DB:             dbClient,
		Reservations:   reservationService,
		ReservationTTL: cfg.Stock.ReservationTTL,
		MaxAttempts:    cfg.Stock.ReserveMaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	productService, err := productsvc.NewService(productsvc.ServiceParams{
		Logger: logg,
		Repo:   productsvc.NewRepository(dbClient.DB()),
		DB:     dbClient,
		Ledger: ledgerService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create product service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, productService, cartService, checkoutService),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		timeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(timeout); err != nil {
			logg.Error(ctx, "error shutting down api server", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shut down gracefully")
}
