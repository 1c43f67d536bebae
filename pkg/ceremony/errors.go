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
	"errors"
	"fmt"
)

// Sentinel errors for ceremony operations.
var (
	// ErrChallengeInvalid is returned when a challenge cannot be consumed.
	// It deliberately covers not-found, expired, already-consumed, purpose
	// mismatch and subject mismatch; callers must not distinguish these to
	// an external party.
	ErrChallengeInvalid = errors.New("challenge invalid")

	// ErrAttestationInvalid is returned when an attestation statement fails
	// structural or origin/challenge-binding verification.
	ErrAttestationInvalid = errors.New("attestation invalid")

	// ErrCredentialConflict is returned when registering a credential ID
	// that already exists in the repository.
	ErrCredentialConflict = errors.New("credential already exists")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrSignatureInvalid is returned when an assertion signature does not
	// verify against the stored public key.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrCounterRegression is returned when an assertion reports a signature
	// counter at or below the stored value. Treated as a potential cloned
	// authenticator, never silently ignored.
	ErrCounterRegression = errors.New("signature counter regression")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("ceremony service not configured")
)

// Error wraps an underlying error with the operation that failed.
type Error struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with the given operation and cause.
func NewError(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsChallengeInvalid returns true if the error indicates an unusable challenge.
func IsChallengeInvalid(err error) bool {
	return errors.Is(err, ErrChallengeInvalid)
}

// IsCredentialNotFound returns true if the error indicates a missing credential.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsCounterRegression returns true if the error indicates a counter regression.
func IsCounterRegression(err error) bool {
	return errors.Is(err, ErrCounterRegression)
}
