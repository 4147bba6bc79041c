// Package api is the HTTP surface of the flock-control server.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethshoultes/flock-control/internal/auth"
	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/notify"
	"github.com/sethshoultes/flock-control/internal/vision"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	DB                *db.DB
	Tokens            *auth.Tokens
	Analyzer          vision.Analyzer
	Notifier          notify.Notifier
	MaxImageBytes     int64
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func NewRouter(d Deps) http.Handler {
	mw := &Middleware{DB: d.DB, Tokens: d.Tokens}
	counts := &CountHandler{DB: d.DB, Analyzer: d.Analyzer, Notifier: d.Notifier, MaxImageBytes: d.MaxImageBytes}
	health := &HealthHandler{DB: d.DB}
	achievements := &AchievementHandler{DB: d.DB}
	authHandler := &AuthHandler{DB: d.DB, Tokens: d.Tokens}
	users := &UserHandler{DB: d.DB}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		// Probed every few seconds by every client, so it sits outside the
		// rate limit.
		r.Get("/health", health.Health)

		r.Group(func(r chi.Router) {
			if d.RateLimitRequests > 0 {
				r.Use(httprate.LimitByIP(d.RateLimitRequests, d.RateLimitWindow))
			}

			r.Post("/auth/login", authHandler.Login)

			r.With(mw.OptionalAuth).Post("/analyze", counts.Analyze)

			r.Group(func(r chi.Router) {
				r.Use(mw.AuthMiddleware)
				r.Get("/me", users.GetMe)
				r.Get("/counts", counts.List)
				r.Post("/counts", counts.Create)
				r.Delete("/counts", counts.Delete)
				r.Get("/achievements", achievements.List)
			})
		})
	})

	return r
}
