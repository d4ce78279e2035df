package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmarkov/verifio-backend/api/controllers"
	"github.com/dmarkov/verifio-backend/api/middleware"
	"github.com/dmarkov/verifio-backend/internal/accounts"
	"github.com/dmarkov/verifio-backend/pkg/auth/session"
	"github.com/dmarkov/verifio-backend/pkg/config"
	"github.com/dmarkov/verifio-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter assembles the HTTP surface of the API binary.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger pinger,
	redisPinger pinger,
	sessionChecker session.AccessSessionChecker,
	registerService accounts.RegisterService,
	activateService accounts.ActivateService,
	authService accounts.AuthService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisPinger))
	})

	r.Route("/api/v1/accounts", func(r chi.Router) {
		r.Post("/register", controllers.AccountRegister(registerService, logg))
		r.Post("/activate", controllers.AccountActivate(activateService, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", controllers.AuthLogin(authService, logg))
		r.With(middleware.Auth(cfg.JWT, sessionChecker, logg)).Post("/logout", controllers.AuthLogout(authService, logg))
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionChecker, logg))
		r.Get("/me", controllers.UsersMe(authService, logg))
	})

	return r
}
