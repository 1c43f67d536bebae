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

package ratelimit

import (
	"context"
	"time"
)

// CounterStore is a shared fixed-window counter, typically backed by
// Valkey/Redis so multiple gateway instances enforce one budget.
type CounterStore interface {
	// Incr atomically increments the counter for key, starting a window of
	// the given length on first increment, and returns the post-increment
	// value together with the time remaining in the window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// CounterLimiter is a Limiter backed by a shared fixed-window CounterStore.
type CounterLimiter struct {
	store     CounterStore
	enabled   bool
	def       Policy
	overrides map[Category]Policy
}

// NewCounterLimiter creates a limiter on top of a shared counter store.
func NewCounterLimiter(store CounterStore, config *Config) *CounterLimiter {
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

	return &CounterLimiter{
		store:     store,
		enabled:   config.Enabled,
		def:       def,
		overrides: config.Overrides,
	}
}

// Allow admits or denies based on the shared post-increment counter value.
// Store failures propagate; the caller decides whether to fail closed.
func (l *CounterLimiter) Allow(ctx context.Context, category Category, identity string) (Decision, error) {
	if !l.enabled {
		return Decision{Allowed: true}, nil
	}

	p := l.def
	if o, ok := l.overrides[category]; ok && o.Requests > 0 && o.Window > 0 {
		p = o
	}

	key := string(category) + "|" + identity
	count, remaining, err := l.store.Incr(ctx, key, p.Window)
	if err != nil {
		return Decision{}, err
	}

	if count > int64(p.Requests) {
		if remaining <= 0 {
			remaining = p.Window
		}
		return Decision{Allowed: false, RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true}, nil
}

// Verify interface compliance at compile time
var _ Limiter = (*CounterLimiter)(nil)
