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
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// challengeIDBytes is the entropy of a challenge identifier. 32 bytes gives
// 256 bits, comfortably above the 128-bit minimum.
const challengeIDBytes = 32

// MemoryChallengeStore is an in-memory implementation of ChallengeStore.
// All checks and the consumed transition happen inside one critical section,
// never as a separate read-then-write.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	ttl        time.Duration

	// now is injectable so tests can use a deterministic clock.
	now func() time.Time
}

// NewMemoryChallengeStore creates an in-memory challenge store with the
// given TTL. A non-positive TTL falls back to two minutes.
func NewMemoryChallengeStore(ttl time.Duration) *MemoryChallengeStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
		ttl:        ttl,
		now:        time.Now,
	}
}

// SetClock replaces the store's clock. Intended for tests.
func (s *MemoryChallengeStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Issue creates and stores a new challenge.
func (s *MemoryChallengeStore) Issue(ctx context.Context, subjectRef string, purpose Purpose, session *webauthn.SessionData) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		buf := make([]byte, challengeIDBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, WrapError("issue challenge", err)
		}
		id = hex.EncodeToString(buf)
		// Uniqueness across live challenges. A collision is astronomically
		// unlikely but cheap to rule out while holding the lock.
		if _, exists := s.challenges[id]; !exists {
			break
		}
	}

	issued := s.now()
	ch := &Challenge{
		ID:         id,
		SubjectRef: subjectRef,
		Purpose:    purpose,
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(s.ttl),
	}
	if session != nil {
		ch.Session = *session
	}

	s.challenges[id] = ch

	cp := *ch
	return &cp, nil
}

// Consume atomically claims a challenge. The entry is removed from the map
// on success so a second attempt can never observe it half-consumed.
func (s *MemoryChallengeStore) Consume(ctx context.Context, id string, purpose Purpose, subjectRef string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeInvalid
	}
	if ch.Consumed {
		return nil, ErrChallengeInvalid
	}
	if ch.Purpose != purpose {
		return nil, ErrChallengeInvalid
	}
	if subjectRef != "" && ch.SubjectRef != "" && ch.SubjectRef != subjectRef {
		return nil, ErrChallengeInvalid
	}
	if ch.Expired(s.now()) {
		delete(s.challenges, id)
		return nil, ErrChallengeInvalid
	}

	ch.Consumed = true
	delete(s.challenges, id)

	cp := *ch
	return &cp, nil
}

// Evict removes challenges expired at the given time. It takes the same lock
// as Consume, so an in-flight consumption always wins.
func (s *MemoryChallengeStore) Evict(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ch := range s.challenges {
		if ch.Expired(now) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of live challenges in the store.
func (s *MemoryChallengeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// StartEviction starts a background goroutine that periodically sweeps
// expired challenges. Call the returned cancel function to stop it.
func (s *MemoryChallengeStore) StartEviction(ctx context.Context, interval time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Evict(ctx, time.Now())
			}
		}
	}()

	return cancel
}

// MemoryCredentialRepository is an in-memory implementation of
// CredentialRepository.
type MemoryCredentialRepository struct {
	mu      sync.RWMutex
	byID    map[string]*Credential
	byOwner map[string][]*Credential
}

// NewMemoryCredentialRepository creates an in-memory credential repository.
func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		byID:    make(map[string]*Credential),
		byOwner: make(map[string][]*Credential),
	}
}

// Insert stores a new credential, rejecting duplicate credential IDs.
func (r *MemoryCredentialRepository) Insert(ctx context.Context, cred *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := hex.EncodeToString(cred.ID)
	if _, ok := r.byID[key]; ok {
		return ErrCredentialConflict
	}

	cp := *cred
	r.byID[key] = &cp
	r.byOwner[cred.OwnerRef] = append(r.byOwner[cred.OwnerRef], &cp)
	return nil
}

// GetByCredentialID retrieves a credential by its ID.
func (r *MemoryCredentialRepository) GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.byID[hex.EncodeToString(credID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *cred
	return &cp, nil
}

// GetByOwner retrieves all credentials for a subject.
func (r *MemoryCredentialRepository) GetByOwner(ctx context.Context, ownerRef string) ([]*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds := r.byOwner[ownerRef]
	result := make([]*Credential, len(creds))
	for i, c := range creds {
		cp := *c
		result[i] = &cp
	}
	return result, nil
}

// UpdateCounter advances the signature counter under compare-and-swap
// semantics. The write lock serializes updates per credential, so two
// concurrent authentications cannot both pass against a stale counter.
func (r *MemoryCredentialRepository) UpdateCounter(ctx context.Context, credID []byte, expected, next uint32, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.byID[hex.EncodeToString(credID)]
	if !ok {
		return ErrCredentialNotFound
	}
	if cred.Authenticator.SignCount != expected {
		return ErrCounterRegression
	}

	cred.Authenticator.SignCount = next
	cred.LastUsedAt = usedAt
	return nil
}

// Count returns the total number of credentials in the repository.
func (r *MemoryCredentialRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
