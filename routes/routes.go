package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/restaurant-identity/app"
	"github.com/upb/restaurant-identity/handlers"
	"github.com/upb/restaurant-identity/internal/observability"
	"github.com/upb/restaurant-identity/middleware"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/services/ratelimit"
	"github.com/upb/restaurant-identity/utils"
	"go.uber.org/zap"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger

	proxies, err := cfg.Security.TrustedProxyPrefixes()
	if err != nil {
		// config.Validate rejects this at startup; trust nobody if it slipped through
		logger.Error("ignoring trusted proxies", zap.Error(err))
		proxies = nil
	}

	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.TrustedProxies(proxies))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	r.Use(observability.MetricsMiddleware(deps.Metrics))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBytes(cfg.Server.MaxBodyBytes))

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	// Status endpoints
	r.Get("/", handlers.Root)
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	onError := handlers.ErrorHandler(logger)
	general := middleware.NewPipeline(logger, onError,
		middleware.RateLimit(deps.Limiter, ratelimit.TierGeneral, deps.Audit, logger))
	authn := middleware.Authenticate(deps.Tokens, deps.Credentials, logger)
	h := deps.AuthHandler

	r.Route("/api/auth", func(r chi.Router) {
		r.Method(http.MethodPost, "/register", general.With(
			middleware.RateLimit(deps.Limiter, ratelimit.TierRegister, deps.Audit, logger),
			middleware.Validate[utils.RegisterRequest]("register"),
		).ThenFunc(h.Register))

		r.Method(http.MethodPost, "/login", general.With(
			middleware.RateLimit(deps.Limiter, ratelimit.TierLogin, deps.Audit, logger),
			middleware.Validate[utils.LoginRequest]("login"),
		).ThenFunc(h.Login))

		r.Method(http.MethodGet, "/profile", general.With(authn).ThenFunc(h.Profile))

		r.Method(http.MethodPost, "/logout", general.With(authn).ThenFunc(h.Logout))

		r.Method(http.MethodPut, "/password", general.With(
			middleware.RateLimit(deps.Limiter, ratelimit.TierPasswordReset, deps.Audit, logger),
			middleware.Validate[utils.ChangePasswordRequest]("change_password"),
			authn,
		).ThenFunc(h.ChangePassword))

		r.Method(http.MethodGet, "/users/{id}", general.With(
			middleware.IPAllowlist(cfg.Security.AdminAllowedIPs, logger),
			authn,
			middleware.Authorize(logger, models.RoleStaff, models.RoleAdmin),
		).ThenFunc(h.GetUser))

		r.Method(http.MethodGet, "/users/{id}/events", general.With(
			middleware.IPAllowlist(cfg.Security.AdminAllowedIPs, logger),
			authn,
			middleware.Authorize(logger, models.RoleStaff, models.RoleAdmin),
		).ThenFunc(h.ListEvents))
	})

	return r
}
