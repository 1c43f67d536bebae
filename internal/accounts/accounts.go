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

// Package accounts holds the password-credential account store backing the
// sign-in and sign-up endpoints. Passkey ceremonies reference accounts by
// their email; the store never exposes password hashes.
package accounts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAccountExists indicates a sign-up for an email already registered.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidCredentials covers both unknown email and wrong password so
	// responses don't reveal which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountNotFound indicates a lookup for an unknown account.
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a password-credential account.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store manages password-credential accounts.
type Store interface {
	// Create registers a new account with the given password. Returns
	// ErrAccountExists if the email is taken.
	Create(ctx context.Context, email, displayName, password string) (*Account, error)

	// Authenticate verifies the email/password pair. Both unknown email and
	// wrong password return ErrInvalidCredentials.
	Authenticate(ctx context.Context, email, password string) (*Account, error)

	// GetByEmail retrieves an account. Returns ErrAccountNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*Account, error)
}

// MemoryStore is an in-memory Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*Account
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]*Account),
		now:     time.Now,
	}
}

// normalizeEmail lowercases the email for case-insensitive lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create registers a new account.
func (s *MemoryStore) Create(ctx context.Context, email, displayName, password string) (*Account, error) {
	key := normalizeEmail(email)

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[key]; exists {
		return nil, ErrAccountExists
	}

	account := &Account{
		ID:           uuid.New(),
		Email:        key,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	s.byEmail[key] = account

	copied := *account
	return &copied, nil
}

// Authenticate verifies the email/password pair.
func (s *MemoryStore) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	s.mu.RLock()
	account, exists := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()

	if !exists {
		// Burn a hash anyway so unknown emails cost the same as wrong
		// passwords.
		_, _ = VerifyPassword(password, "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
		return nil, ErrInvalidCredentials
	}

	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	copied := *account
	return &copied, nil
}

// GetByEmail retrieves an account by email.
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.byEmail[normalizeEmail(email)]
	if !exists {
		return nil, ErrAccountNotFound
	}

	copied := *account
	return &copied, nil
}

// Verify interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
