package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/dmarkov/verifio-backend/api/routes"
	"github.com/dmarkov/verifio-backend/internal/accounts"
	"github.com/dmarkov/verifio-backend/internal/activation"
	"github.com/dmarkov/verifio-backend/internal/uow"
	"github.com/dmarkov/verifio-backend/internal/users"
	"github.com/dmarkov/verifio-backend/pkg/auth/session"
	"github.com/dmarkov/verifio-backend/pkg/config"
	"github.com/dmarkov/verifio-backend/pkg/db"
	"github.com/dmarkov/verifio-backend/pkg/instance"
	"github.com/dmarkov/verifio-backend/pkg/logger"
	"github.com/dmarkov/verifio-backend/pkg/migrate"
	"github.com/dmarkov/verifio-backend/pkg/outbox"
	"github.com/dmarkov/verifio-backend/pkg/redis"
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	unitOfWork := accounts.NewGormUnitOfWork(
		uow.New(dbClient.DB(), outbox.NewRepository(dbClient.DB())),
	)
	activationCache := activation.NewCache(redisClient, cfg.Activation.CodeTTL)

	registerService, err := accounts.NewRegisterService(accounts.RegisterServiceParams{
		UnitOfWork:     unitOfWork,
		Cache:          activationCache,
		PasswordConfig: cfg.Password,
		Activation:     cfg.Activation,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create register service", err)
		os.Exit(1)
	}

	activateService, err := accounts.NewActivateService(accounts.ActivateServiceParams{
		UnitOfWork: unitOfWork,
		Cache:      activationCache,
		Activation: cfg.Activation,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activate service", err)
		os.Exit(1)
	}

	authService, err := accounts.NewAuthService(accounts.AuthServiceParams{
		UserRepo:       users.NewRepository(dbClient.DB()),
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			sessionManager,
			registerService,
			activateService,
			authService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
