package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/vestri/authcore/internal/auth"
	"github.com/vestri/authcore/internal/metrics"
)

type Server struct {
	Auth     *auth.Service
	Cookies  auth.CookieConfig
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// NewServer wires the HTTP boundary around svc. Metrics and the registry
// are optional; without a registry /metrics is not mounted.
func NewServer(svc *auth.Service, cookies auth.CookieConfig, m *metrics.Metrics, reg *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("SERVER_INVALID").Errorf("auth service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Auth:     svc,
		Cookies:  cookies,
		Metrics:  m,
		Registry: reg,
		Logger:   logger,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.Logger))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.Get("/healthz", s.handleHealth)
	if s.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.Registry))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.loadSession)

		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/verify-email/resend", s.handleResendVerification)
		r.Get("/me", s.handleMe)
	})

	return r
}
