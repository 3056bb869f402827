// Package api exposes the monetization gateway over HTTP.
//
// Every route except /healthz and /metrics requires a bearer JWT whose
// "sub" claim names the calling user. Routes that move money are rate
// limited per user.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/xraph/paywall"
)

// Server routes HTTP requests to an Engine.
type Server struct {
	engine   *paywall.Engine
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	secret   []byte

	origins []string
	limiter *userLimiter
	metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock replaces time.Now as the source of "now" for engine calls.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithRateLimit allows rps monetization requests per second per user, with
// the given burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newUserLimiter(rps, burst)
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New returns a Server that verifies HS256 tokens signed with jwtSecret.
func New(engine *paywall.Engine, jwtSecret string, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		secret:   []byte(jwtSecret),
		origins:  []string{"*"},
		limiter:  newUserLimiter(5, 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.recovery)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/content/{contentID}/access", s.access)
		r.Get("/me/subscriptions", s.listSubscriptions)
		r.Get("/me/transactions", s.listTransactions)
		r.Get("/creators/{creatorID}/earnings", s.earnings)

		// Money moves below
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)

			r.Post("/creators/{creatorID}/subscription", s.subscribe)
			r.Delete("/creators/{creatorID}/subscription", s.cancel)
			r.Post("/creators/{creatorID}/subscription/renew", s.renew)
			r.Post("/creators/{creatorID}/tips", s.tip)
			r.Post("/posts/{postID}/unlock", s.unlockPost)
			r.Post("/messages/{messageID}/unlock", s.unlockMessage)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
