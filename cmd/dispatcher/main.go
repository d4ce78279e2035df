package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmarkov/verifio-backend/pkg/config"
	"github.com/dmarkov/verifio-backend/pkg/db"
	"github.com/dmarkov/verifio-backend/pkg/email"
	"github.com/dmarkov/verifio-backend/pkg/instance"
	"github.com/dmarkov/verifio-backend/pkg/logger"
	"github.com/dmarkov/verifio-backend/pkg/metrics"
	"github.com/dmarkov/verifio-backend/pkg/migrate"
	"github.com/dmarkov/verifio-backend/pkg/outbox"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "dispatcher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "dispatcher",
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

	mailClient, err := email.NewClient(cfg.Mail)
	if err != nil {
		logg.Error(context.Background(), "failed to build mail client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	dispatcherMetrics := metrics.NewDispatcherMetrics(registry)

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, registry, logg)
	}

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Handlers: map[string]Handler{
			outbox.TopicVerificationCode: NewVerificationCodeHandler(mailClient),
		},
		Metrics: dispatcherMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "dispatcher",
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting outbox dispatcher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "dispatcher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "dispatcher shutting down gracefully")
}

func serveMetrics(addr string, registry *prometheus.Registry, logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(context.Background(), "metrics server stopped", err)
	}
}
