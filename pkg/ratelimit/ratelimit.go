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

// Package ratelimit implements the admission limiter: a per-identity,
// per-route-category request budget evaluated before any payload validation
// or ceremony logic runs. Categories are budgeted independently so abuse of
// one ceremony cannot exhaust another's budget.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Category identifies a route budget. Each category gets its own counter
// per client identity.
type Category string

const (
	CategorySignIn         Category = "sign-in"
	CategorySignUp         Category = "sign-up"
	CategoryChallenge      Category = "challenge"
	CategoryRegistration   Category = "passkey-registration"
	CategoryAuthentication Category = "passkey-authentication"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// RetryAfter is the back-off hint for denied requests.
	RetryAfter time.Duration
}

// Limiter decides whether a request from a client identity is admitted for
// a route category. Implementations must be safe for concurrent use and
// must base the decision on the post-increment counter value.
type Limiter interface {
	Allow(ctx context.Context, category Category, identity string) (Decision, error)
}

// Policy is the request budget for one category.
type Policy struct {
	// Requests is the number of requests admitted per window.
	Requests int

	// Window is the budget window.
	Window time.Duration
}

// Config holds window limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active. When disabled every
	// request is admitted.
	Enabled bool

	// Default is the budget applied to categories without an override.
	Default Policy

	// Overrides sets per-category budgets.
	Overrides map[Category]Policy

	// CleanupInterval controls how often idle identities are dropped.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration

	// MaxIdle is how long an identity can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration
}

// WindowLimiter is an in-memory Limiter backed by token buckets: each
// (identity, category) pair gets a bucket holding a full window's budget,
// refilled at budget-per-window rate.
type WindowLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time

	enabled   bool
	def       Policy
	overrides map[Category]Policy

	cleanupInterval time.Duration
	maxIdle         time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewWindowLimiter creates a new in-memory window limiter.
func NewWindowLimiter(config *Config) *WindowLimiter {
	if config == nil {
		config = &Config{Enabled: false}
	}

	def := config.Default
	if def.Requests == 0 {
		def.Requests = 60
	}
	if def.Window == 0 {
		def.Window = time.Minute
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}
	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	l := &WindowLimiter{
		buckets:         make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		enabled:         config.Enabled,
		def:             def,
		overrides:       config.Overrides,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

// policy returns the budget for a category.
func (l *WindowLimiter) policy(category Category) Policy {
	if p, ok := l.overrides[category]; ok && p.Requests > 0 && p.Window > 0 {
		return p
	}
	return l.def
}

// bucket returns the token bucket for an (identity, category) pair,
// creating it on first use.
func (l *WindowLimiter) bucket(category Category, identity string) *rate.Limiter {
	key := string(category) + "|" + identity

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		p := l.policy(category)
		b = rate.NewLimiter(rate.Limit(float64(p.Requests)/p.Window.Seconds()), p.Requests)
		l.buckets[key] = b
	}

	l.lastSeen[key] = time.Now()
	return b
}

// Allow admits or denies a request for the category and identity. Denials
// carry the delay until the next request would be admitted.
func (l *WindowLimiter) Allow(ctx context.Context, category Category, identity string) (Decision, error) {
	if !l.enabled {
		return Decision{Allowed: true}, nil
	}

	b := l.bucket(category, identity)
	res := b.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// cleanupWorker periodically drops idle identities.
func (l *WindowLimiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes identities that haven't made requests recently.
func (l *WindowLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, seen := range l.lastSeen {
		if now.Sub(seen) > l.maxIdle {
			delete(l.buckets, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop stops the cleanup worker.
func (l *WindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// IsEnabled returns whether rate limiting is enabled.
func (l *WindowLimiter) IsEnabled() bool {
	return l.enabled
}

// ClientIP extracts the client identity from the request. Checks
// X-Forwarded-For and X-Real-IP headers for proxied requests before
// falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// Verify interface compliance at compile time
var _ Limiter = (*WindowLimiter)(nil)
