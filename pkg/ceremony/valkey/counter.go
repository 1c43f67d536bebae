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

package valkey

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/passkey-gateway/pkg/ratelimit"
)

// Counter is a ratelimit.CounterStore backed by Valkey, giving all gateway
// instances one shared fixed-window budget per (category, identity) key.
type Counter struct {
	rdb *redis.Client
}

// NewCounter creates a Valkey-backed admission counter.
func NewCounter(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb}
}

// Incr increments the window counter for key. EXPIRE NX starts the window on
// the first increment only, so the window is fixed rather than sliding.
func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, counterPrefix+key)
	pipe.ExpireNX(ctx, counterPrefix+key, window)
	ttl := pipe.PTTL(ctx, counterPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// Verify interface compliance at compile time
var _ ratelimit.CounterStore = (*Counter)(nil)
