package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/iotgrid/user-service/internal/api/handlers"
	"github.com/iotgrid/user-service/internal/api/middleware"
	"github.com/iotgrid/user-service/internal/auth"
	"github.com/iotgrid/user-service/internal/orgs"
	"github.com/iotgrid/user-service/internal/users"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Logger         *slog.Logger
	TokenValidator *auth.TokenValidator
	UserService    *users.Service
	OrgService     *orgs.Service
	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// One shared limiter budget: the public registration route is keyed by
	// client IP, routes behind Auth by authenticated subject. It has to run
	// after Auth for the subject key to exist, so it is attached per-route
	// rather than globally.
	rateLimit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitReqs > 0 {
		rateLimit = middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs)
	}

	// CORS - restrict to configured origins, or allow all in development
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	userHandler := handlers.NewUserHandler(cfg.UserService)
	orgHandler := handlers.NewOrganizationHandler(cfg.OrgService)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public registration endpoint
		r.With(rateLimit).Post("/users/register", userHandler.Register)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.TokenValidator))
			r.Use(rateLimit)

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", userHandler.Me)
				r.Put("/me", userHandler.UpdateMe)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole("admin", "operator"))
					r.Get("/{userID}", userHandler.Get)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole("admin"))
					r.Post("/{userID}/deactivate", userHandler.Deactivate)
					r.Post("/{userID}/roles/{roleName}", userHandler.AssignRole)
					r.Delete("/{userID}/roles/{roleName}", userHandler.RemoveRole)
				})
			})

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", orgHandler.List)
				r.Get("/{orgID}", orgHandler.Get)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole("admin", "operator"))
					r.Get("/{orgID}/users", userHandler.ListByOrganization)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole("admin"))
					r.Post("/", orgHandler.Create)
					r.Put("/{orgID}", orgHandler.Update)
				})
			})
		})
	})

	return &Router{r}
}
