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

// Package valkey provides Valkey/Redis-backed implementations of the
// ceremony challenge store and the shared admission counter, for deployments
// running more than one gateway instance.
package valkey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	redis "github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/passkey-gateway/pkg/ceremony"
)

const (
	// challengeIDBytes is the entropy of generated challenge IDs (256 bits)
	challengeIDBytes = 32

	// challengePrefix namespaces challenge keys
	challengePrefix = "gateway:challenge:"

	// counterPrefix namespaces admission counter keys
	counterPrefix = "gateway:ratelimit:"
)

// Config holds Valkey connection settings.
type Config struct {
	// Addr is the host:port of the Valkey/Redis server.
	Addr string `yaml:"addr" json:"addr"`

	// Password authenticates the connection. Empty for no auth.
	Password string `yaml:"password" json:"password"`

	// DB selects the logical database.
	DB int `yaml:"db" json:"db"`
}

// NewClient creates a go-redis client from the config and verifies the
// connection with a ping.
func NewClient(ctx context.Context, config *Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("can't connect to valkey at %s: %w", config.Addr, err)
	}
	return rdb, nil
}

// ChallengeStore is a ceremony.ChallengeStore backed by Valkey. Single-use
// consumption is enforced with GETDEL, so two concurrent consumers of the
// same ID see exactly one success regardless of which gateway instance they
// hit. Expiry is enforced by key TTL.
type ChallengeStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewChallengeStore creates a Valkey-backed challenge store with the given
// challenge TTL.
func NewChallengeStore(rdb *redis.Client, ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ChallengeStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// SetClock overrides the time source. For tests.
func (s *ChallengeStore) SetClock(now func() time.Time) {
	s.now = now
}

// Issue creates a challenge bound to the subject and purpose and stores it
// under a fresh unguessable ID with the store's TTL.
func (s *ChallengeStore) Issue(ctx context.Context, subjectRef string, purpose ceremony.Purpose, session *webauthn.SessionData) (*ceremony.Challenge, error) {
	if !purpose.Valid() {
		return nil, ceremony.WrapError("issue challenge", ceremony.ErrChallengeInvalid)
	}

	now := s.now().UTC()
	ch := &ceremony.Challenge{
		SubjectRef: subjectRef,
		Purpose:    purpose,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if session != nil {
		ch.Session = *session
	}

	// SETNX guards against the astronomically unlikely ID collision.
	for attempts := 0; attempts < 3; attempts++ {
		id, err := newChallengeID()
		if err != nil {
			return nil, ceremony.WrapError("issue challenge", err)
		}
		ch.ID = id

		data, err := json.Marshal(ch)
		if err != nil {
			return nil, ceremony.WrapError("issue challenge", err)
		}

		ok, err := s.rdb.SetNX(ctx, challengePrefix+id, data, s.ttl).Result()
		if err != nil {
			return nil, ceremony.WrapError("issue challenge", err)
		}
		if ok {
			return ch, nil
		}
	}
	return nil, ceremony.WrapError("issue challenge", errors.New("challenge id collision"))
}

// Consume atomically claims the challenge with GETDEL: whichever caller's
// GETDEL returns the value owns the challenge, every other caller gets
// ErrChallengeInvalid. Binding checks run after the claim; a challenge that
// fails them is already gone, which is the intended single-use behavior.
func (s *ChallengeStore) Consume(ctx context.Context, id string, purpose ceremony.Purpose, subjectRef string) (*ceremony.Challenge, error) {
	const op = "consume challenge"

	data, err := s.rdb.GetDel(ctx, challengePrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ceremony.WrapError(op, ceremony.ErrChallengeInvalid)
		}
		return nil, ceremony.WrapError(op, err)
	}

	var ch ceremony.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, ceremony.WrapError(op, ceremony.ErrChallengeInvalid)
	}

	if ch.Purpose != purpose {
		return nil, ceremony.WrapError(op, ceremony.ErrChallengeInvalid)
	}
	if subjectRef != "" && ch.SubjectRef != "" && ch.SubjectRef != subjectRef {
		return nil, ceremony.WrapError(op, ceremony.ErrChallengeInvalid)
	}
	if ch.Expired(s.now().UTC()) {
		return nil, ceremony.WrapError(op, ceremony.ErrChallengeInvalid)
	}

	ch.Consumed = true
	return &ch, nil
}

// Evict is a no-op: key TTLs make Valkey expire challenges on its own.
func (s *ChallengeStore) Evict(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// newChallengeID generates an unguessable challenge identifier.
func newChallengeID() (string, error) {
	buf := make([]byte, challengeIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("can't generate challenge id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Verify interface compliance at compile time
var _ ceremony.ChallengeStore = (*ChallengeStore)(nil)
