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

package rest

import (
	"encoding/json"
	"time"
)

// WelcomeResponse is returned from the root endpoint.
type WelcomeResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// ChallengeResponse is returned from /generate-challenge. Options holds the
// WebAuthn creation or request options to hand to the browser API.
type ChallengeResponse struct {
	ChallengeID string          `json:"challenge_id"`
	ExpiresIn   int             `json:"expires_in"`
	Options     json.RawMessage `json:"options"`
}

// RegisterRequest is the payload for /register-passkey and /verify-passkey.
// Credential carries the authenticator's attestation response verbatim.
type RegisterRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Email       string          `json:"email"`
	Credential  json.RawMessage `json:"credential"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	Registered   bool      `json:"registered"`
	CredentialID string    `json:"credential_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// VerifyResponse is returned from /verify-passkey.
type VerifyResponse struct {
	Verified bool `json:"verified"`
}

// AuthenticateRequest is the payload for /authenticate-passkey. Email is
// optional; discoverable credentials identify their owner.
type AuthenticateRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Email       string          `json:"email"`
	Credential  json.RawMessage `json:"credential"`
}

// AuthResponse is returned after successful authentication or sign-in.
type AuthResponse struct {
	Token   string `json:"token"`
	Subject string `json:"subject"`
}

// SignUpRequest is the payload for /sign-up.
type SignUpRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// SignUpResponse is returned after a successful sign-up.
type SignUpResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignInRequest is the payload for /sign-in.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HealthResponse is returned from the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the uniform error envelope. Error is the machine-stable
// kind; Message is a generic human-readable description that never carries
// internal detail.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
