// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of passkey-gateway.
//
// passkey-gateway is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/passkey-gateway/internal/accounts"
	"github.com/jeremyhahn/passkey-gateway/pkg/ceremony"
	"github.com/jeremyhahn/passkey-gateway/pkg/logging"
	"github.com/jeremyhahn/passkey-gateway/pkg/metrics"
	"github.com/jeremyhahn/passkey-gateway/pkg/ratelimit"
)

// Server is the gateway's public HTTP server.
type Server struct {
	server      *http.Server
	router      *chi.Mux
	handlers    *HandlerContext
	limiter     ratelimit.Limiter
	logger      *logging.Logger
	corsOrigins []string
	corsEnabled bool
	host        string
	port        int
	tlsCert     string
	tlsKey      string
}

// Config holds the REST server configuration.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// Version is the API version string
	Version string

	// Ceremonies runs passkey registration and authentication (required).
	Ceremonies *ceremony.Service

	// Accounts is the password-credential account store (required).
	Accounts accounts.Store

	// Tokens issues session tokens for password sign-in (required).
	Tokens ceremony.TokenIssuer

	// Limiter is the admission limiter. Defaults to a disabled limiter.
	Limiter ratelimit.Limiter

	// Logger is the logging adapter. Defaults to the package default.
	Logger *logging.Logger

	// CORS settings.
	CORSEnabled bool
	CORSOrigins []string

	// Metrics endpoint settings.
	MetricsEnabled bool
	MetricsPath    string

	// Health endpoint settings.
	HealthEnabled bool
	HealthPath    string

	// TLS settings. The key pair is used only when TLSEnabled is set.
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Ceremonies == nil {
		return nil, fmt.Errorf("ceremony service is required")
	}
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewWindowLimiter(&ratelimit.Config{Enabled: false})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	handlers := NewHandlerContext(cfg.Ceremonies, cfg.Accounts, cfg.Tokens, logger, cfg.Version)

	// Configured paths are inert unless TLS is switched on.
	tlsCert, tlsKey := "", ""
	if cfg.TLSEnabled {
		tlsCert = cfg.TLSCertFile
		tlsKey = cfg.TLSKeyFile
	}

	server := &Server{
		handlers:    handlers,
		limiter:     limiter,
		logger:      logger,
		corsOrigins: cfg.CORSOrigins,
		corsEnabled: cfg.CORSEnabled,
		host:        cfg.Host,
		port:        cfg.Port,
		tlsCert:     tlsCert,
		tlsKey:      tlsKey,
	}

	router := server.setupRouter(cfg)
	server.router = router

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(cfg *Config) *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(s.RecoveryMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.Middleware)
	if s.corsEnabled {
		r.Use(s.CORSMiddleware())
	}
	r.Use(ContentTypeMiddleware)

	r.Get("/", s.handlers.WelcomeHandler)

	if cfg.HealthEnabled {
		r.Get(cfg.HealthPath, s.handlers.HealthHandler)
		r.Head(cfg.HealthPath, s.handlers.HealthHandler)
	}
	if cfg.MetricsEnabled {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	// Ceremony endpoints, each behind its own admission budget
	r.With(s.AdmissionMiddleware(ratelimit.CategoryChallenge)).
		Get("/generate-challenge", s.handlers.GenerateChallengeHandler)
	r.With(s.AdmissionMiddleware(ratelimit.CategoryRegistration)).
		Post("/register-passkey", s.handlers.RegisterPasskeyHandler)
	r.With(s.AdmissionMiddleware(ratelimit.CategoryRegistration)).
		Post("/verify-passkey", s.handlers.VerifyPasskeyHandler)
	r.With(s.AdmissionMiddleware(ratelimit.CategoryAuthentication)).
		Post("/authenticate-passkey", s.handlers.AuthenticatePasskeyHandler)

	// Password account endpoints
	r.With(s.AdmissionMiddleware(ratelimit.CategorySignUp)).
		Post("/sign-up", s.handlers.SignUpHandler)
	r.With(s.AdmissionMiddleware(ratelimit.CategorySignIn)).
		Post("/sign-in", s.handlers.SignInHandler)

	r.NotFound(s.handlers.NotFoundHandler)
	r.MethodNotAllowed(s.handlers.NotFoundHandler)

	return r
}

// Start starts the REST API server.
func (s *Server) Start() error {
	if s.tlsCert != "" && s.tlsKey != "" {
		s.logger.Info("Starting HTTPS server", "host", s.host, "port", s.port)

		if err := s.server.ListenAndServeTLS(s.tlsCert, s.tlsKey); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
	} else {
		s.logger.Info("Starting HTTP server", "host", s.host, "port", s.port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorf("Failed to shutdown server: %v", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Handler exposes the configured router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
