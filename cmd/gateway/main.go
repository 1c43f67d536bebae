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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeremyhahn/passkey-gateway/internal/accounts"
	"github.com/jeremyhahn/passkey-gateway/internal/config"
	"github.com/jeremyhahn/passkey-gateway/internal/rest"
	"github.com/jeremyhahn/passkey-gateway/pkg/ceremony"
	"github.com/jeremyhahn/passkey-gateway/pkg/ceremony/valkey"
	"github.com/jeremyhahn/passkey-gateway/pkg/logging"
	"github.com/jeremyhahn/passkey-gateway/pkg/ratelimit"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "/etc/passkey-gateway/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("passkey-gateway\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	// Check for config file override via environment
	if envConfig := os.Getenv("GATEWAY_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	slog.Info("Starting passkey gateway",
		"config", *configPath,
		"version", version)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Configuration loaded successfully",
		"rp_id", cfg.RelyingParty.ID,
		"port", cfg.Server.Port,
		"valkey", cfg.Valkey.Enabled)

	// Assemble stores. Valkey shares challenge and admission state across
	// gateway instances; otherwise everything lives in process memory.
	var challengeStore ceremony.ChallengeStore
	var limiter ratelimit.Limiter

	limiterConfig := &ratelimit.Config{
		Enabled:   cfg.RateLimit.Enabled,
		Default:   ratelimit.Policy{Requests: cfg.RateLimit.RequestsPerMin, Window: time.Minute},
		Overrides: routePolicies(cfg.RateLimit.Routes),
	}

	// Setup signal handler for graceful shutdown
	shutdownCtx := setupSignalHandler()

	if cfg.Valkey.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rdb, err := valkey.NewClient(ctx, &valkey.Config{
			Addr:     cfg.Valkey.Addr,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
		})
		cancel()
		if err != nil {
			slog.Error("Failed to connect to valkey", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Errorf("Failed to close valkey client: %v", err)
			}
		}()

		challengeStore = valkey.NewChallengeStore(rdb, cfg.Challenge.TTL)
		limiter = ratelimit.NewCounterLimiter(valkey.NewCounter(rdb), limiterConfig)
	} else {
		// Background eviction keeps the in-memory challenge store bounded.
		// The Valkey store evicts via key TTL and needs no sweep.
		memoryChallenges := ceremony.NewMemoryChallengeStore(cfg.Challenge.TTL)
		stopEviction := memoryChallenges.StartEviction(shutdownCtx, cfg.Challenge.SweepInterval)
		defer stopEviction()
		challengeStore = memoryChallenges

		windowLimiter := ratelimit.NewWindowLimiter(limiterConfig)
		defer windowLimiter.Stop()
		limiter = windowLimiter
	}

	credentials := ceremony.NewMemoryCredentialRepository()
	accountStore := accounts.NewMemoryStore()

	var audience []string
	if cfg.Session.Audience != "" {
		audience = []string{cfg.Session.Audience}
	}
	tokens, err := ceremony.NewJWTIssuer(&ceremony.JWTIssuerConfig{
		Secret:    []byte(cfg.Session.Secret),
		Issuer:    cfg.Session.Issuer,
		Audience:  audience,
		ExpiresIn: cfg.Session.TTL,
	})
	if err != nil {
		slog.Error("Failed to create token issuer", slog.Any("error", err))
		os.Exit(1)
	}

	ceremonies, err := ceremony.NewService(ceremony.ServiceParams{
		Config: &ceremony.Config{
			RPID:                  cfg.RelyingParty.ID,
			RPDisplayName:         cfg.RelyingParty.DisplayName,
			RPOrigins:             cfg.RelyingParty.Origins,
			ChallengeTTL:          cfg.Challenge.TTL,
			UserVerification:      cfg.RelyingParty.UserVerification,
			AttestationPreference: cfg.RelyingParty.Attestation,
			Debug:                 strings.EqualFold(cfg.Logging.Level, "debug"),
		},
		ChallengeStore:       challengeStore,
		CredentialRepository: credentials,
		TokenIssuer:          tokens,
		Logger:               logger,
	})
	if err != nil {
		slog.Error("Failed to create ceremony service", slog.Any("error", err))
		os.Exit(1)
	}

	restServer, err := rest.NewServer(&rest.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Version:        version,
		Ceremonies:     ceremonies,
		Accounts:       accountStore,
		Tokens:         tokens,
		Limiter:        limiter,
		Logger:         logger,
		CORSEnabled:    cfg.CORS.Enabled,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		HealthEnabled:  cfg.Health.Enabled,
		HealthPath:     cfg.Health.Path,
		TLSEnabled:     cfg.Server.TLS.Enabled,
		TLSCertFile:    cfg.Server.TLS.CertFile,
		TLSKeyFile:     cfg.Server.TLS.KeyFile,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
	})
	if err != nil {
		slog.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	// Start the server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := restServer.Start(); err != nil {
			errChan <- err
		}
	}()

	slog.Info("Passkey gateway started successfully", "port", cfg.Server.Port)

	// Wait for shutdown signal or error
	select {
	case <-shutdownCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errChan:
		slog.Error("Server error", slog.Any("error", err))
	}

	// Gracefully shutdown
	shutdownTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := restServer.Stop(shutdownTimeout); err != nil {
		slog.Error("Error during server shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("Passkey gateway stopped successfully")
}

// routePolicies converts config route budgets to limiter overrides.
func routePolicies(routes map[string]config.PolicyConfig) map[ratelimit.Category]ratelimit.Policy {
	if len(routes) == 0 {
		return nil
	}
	overrides := make(map[ratelimit.Category]ratelimit.Policy, len(routes))
	for name, policy := range routes {
		overrides[ratelimit.Category(name)] = ratelimit.Policy{
			Requests: policy.Requests,
			Window:   policy.Window,
		}
	}
	return overrides
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
