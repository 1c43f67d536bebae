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

package ceremony

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// ChallengeStore issues and tracks single-use ceremony challenges.
//
// Consume must be atomic: two concurrent calls for the same ID must result
// in exactly one success and one ErrChallengeInvalid. Expired challenges are
// eligible for background eviction independent of consumption; an in-flight
// consumption always wins over a concurrent sweep of the same ID.
type ChallengeStore interface {
	// Issue creates a challenge bound to the subject and purpose, with a
	// freshly generated unguessable ID and an expiry of now+TTL. The
	// session carries verification state for the eventual consume.
	Issue(ctx context.Context, subjectRef string, purpose Purpose, session *webauthn.SessionData) (*Challenge, error)

	// Consume atomically claims the challenge: it must exist, match the
	// purpose, match the subject when one is supplied, be unconsumed, and
	// be unexpired. Every failure mode returns ErrChallengeInvalid.
	Consume(ctx context.Context, id string, purpose Purpose, subjectRef string) (*Challenge, error)

	// Evict removes challenges expired at the given time and returns how
	// many were removed.
	Evict(ctx context.Context, now time.Time) (int, error)
}

// CredentialRepository is the durable store of public-key credentials.
type CredentialRepository interface {
	// Insert stores a new credential. Returns ErrCredentialConflict if the
	// credential ID already exists.
	Insert(ctx context.Context, cred *Credential) error

	// GetByCredentialID retrieves a credential by its authenticator-assigned
	// ID. Returns ErrCredentialNotFound if absent.
	GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error)

	// GetByOwner retrieves all credentials owned by a subject. Returns an
	// empty slice when the subject has none.
	GetByOwner(ctx context.Context, ownerRef string) ([]*Credential, error)

	// UpdateCounter advances the signature counter with compare-and-swap
	// semantics: the update only applies if the stored counter still equals
	// expected. A stale expected value returns ErrCounterRegression so two
	// concurrent authentications cannot both pass the monotonicity check.
	UpdateCounter(ctx context.Context, credID []byte, expected, next uint32, usedAt time.Time) error
}

// TokenIssuer mints an opaque session artifact for an authenticated subject.
// It stands in for the external session/authorization collaborator.
type TokenIssuer interface {
	Issue(ctx context.Context, subjectRef string) (string, error)
}
