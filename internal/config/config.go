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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	RelyingParty RelyingPartyConfig `yaml:"relying_party"`
	Challenge    ChallengeConfig    `yaml:"challenge"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Session      SessionConfig      `yaml:"session"`
	Valkey       ValkeyConfig       `yaml:"valkey"`
	CORS         CORSConfig         `yaml:"cors"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Health       HealthConfig       `yaml:"health"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	TLS          TLSConfig     `yaml:"tls"`
}

// TLSConfig controls TLS settings for the public listener
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RelyingPartyConfig identifies the WebAuthn relying party
type RelyingPartyConfig struct {
	ID               string   `yaml:"id"`
	DisplayName      string   `yaml:"display_name"`
	Origins          []string `yaml:"origins"`
	UserVerification string   `yaml:"user_verification"` // required, preferred, discouraged
	Attestation      string   `yaml:"attestation"`       // none, indirect, direct
}

// ChallengeConfig controls challenge lifetime and eviction
type ChallengeConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RateLimitConfig controls the admission limiter
type RateLimitConfig struct {
	Enabled        bool                    `yaml:"enabled"`
	RequestsPerMin int                     `yaml:"requests_per_min"`
	Routes         map[string]PolicyConfig `yaml:"routes,omitempty"`
}

// PolicyConfig is a per-route-category request budget
type PolicyConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// SessionConfig controls session token issuance
type SessionConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

// ValkeyConfig controls the shared Valkey/Redis state store. When disabled
// the gateway runs with in-memory stores.
type ValkeyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CORSConfig controls cross-origin access to the gateway
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MetricsConfig controls the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health check endpoint
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RelyingParty: RelyingPartyConfig{
			ID:               "localhost",
			DisplayName:      "Passkey Gateway",
			Origins:          []string{"http://localhost:8080"},
			UserVerification: "preferred",
			Attestation:      "none",
		},
		Challenge: ChallengeConfig{
			TTL:           2 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
		},
		Session: SessionConfig{
			Issuer: "passkey-gateway",
			TTL:    time.Hour,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:8080"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: true,
			Path:    "/healthz",
		},
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// Read the config file
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("GATEWAY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("GATEWAY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid GATEWAY_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid GATEWAY_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("GATEWAY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("GATEWAY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party
	if rpID := os.Getenv("GATEWAY_RP_ID"); rpID != "" {
		cfg.RelyingParty.ID = rpID
	}
	if origins := os.Getenv("GATEWAY_RP_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.RelyingParty.Origins = cfg.RelyingParty.Origins[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.RelyingParty.Origins = append(cfg.RelyingParty.Origins, p)
			}
		}
	}

	// Session secret never belongs in a config file checked into source
	// control; the environment is the expected channel.
	if secret := os.Getenv("GATEWAY_SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}

	// Valkey
	if addr := os.Getenv("GATEWAY_VALKEY_ADDR"); addr != "" {
		cfg.Valkey.Enabled = true
		cfg.Valkey.Addr = addr
	}
	if password := os.Getenv("GATEWAY_VALKEY_PASSWORD"); password != "" {
		cfg.Valkey.Password = password
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, or fatal)", c.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json, text, or console)", c.Logging.Format)
	}

	// Validate TLS settings
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	// Validate relying party
	if c.RelyingParty.ID == "" {
		return fmt.Errorf("relying party id must be specified")
	}
	if len(c.RelyingParty.Origins) == 0 {
		return fmt.Errorf("at least one relying party origin must be specified")
	}

	// Validate challenge lifetime
	if c.Challenge.TTL <= 0 {
		return fmt.Errorf("challenge ttl must be positive")
	}
	if c.Challenge.SweepInterval <= 0 {
		return fmt.Errorf("challenge sweep_interval must be positive")
	}

	// Validate rate limiting
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("ratelimit requests_per_min must be at least 1")
	}
	for name, policy := range c.RateLimit.Routes {
		if policy.Requests < 1 {
			return fmt.Errorf("ratelimit route %q: requests must be at least 1", name)
		}
		if policy.Window <= 0 {
			return fmt.Errorf("ratelimit route %q: window must be positive", name)
		}
	}

	// Validate session tokens
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	// Validate Valkey
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		return fmt.Errorf("valkey addr is required when valkey is enabled")
	}

	return nil
}
