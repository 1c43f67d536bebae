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
	"errors"
	"log"
	"net/http"

	"github.com/jeremyhahn/passkey-gateway/internal/accounts"
	"github.com/jeremyhahn/passkey-gateway/pkg/ceremony"
	"github.com/jeremyhahn/passkey-gateway/pkg/validation"
)

// Machine-stable error kinds. Clients switch on these; the messages beside
// them may change.
const (
	KindValidationError    = "validation_error"
	KindRateLimited        = "rate_limited"
	KindChallengeInvalid   = "challenge_invalid"
	KindAttestationInvalid = "attestation_invalid"
	KindCredentialConflict = "credential_conflict"
	KindCredentialNotFound = "credential_not_found"
	KindSignatureInvalid   = "signature_invalid"
	KindCounterRegression  = "counter_regression"
	KindAccountExists      = "account_exists"
	KindInvalidCredentials = "invalid_credentials"
	KindNotFound           = "not_found"
	KindInternalError      = "internal_error"
)

// mapError translates an internal error into the client-facing kind, status
// code, and generic message. The message is deliberately uninformative for
// authentication failures; the distinction lives in the kind and the logs.
func mapError(err error) (kind string, status int, message string) {
	var fieldErr *validation.FieldError

	switch {
	case errors.As(err, &fieldErr):
		// Field violations name the field and constraint, never the value.
		return KindValidationError, http.StatusBadRequest, fieldErr.Error()
	case errors.Is(err, validation.ErrValidation):
		return KindValidationError, http.StatusBadRequest, "request payload is invalid"
	case ceremony.IsChallengeInvalid(err):
		return KindChallengeInvalid, http.StatusUnauthorized, "challenge is invalid or expired"
	case errors.Is(err, ceremony.ErrSignatureInvalid):
		return KindSignatureInvalid, http.StatusUnauthorized, "credential verification failed"
	case errors.Is(err, ceremony.ErrAttestationInvalid):
		return KindAttestationInvalid, http.StatusUnauthorized, "credential verification failed"
	case ceremony.IsCredentialNotFound(err):
		return KindCredentialNotFound, http.StatusUnauthorized, "credential verification failed"
	case errors.Is(err, ceremony.ErrCredentialConflict):
		return KindCredentialConflict, http.StatusConflict, "credential is already registered"
	case ceremony.IsCounterRegression(err):
		return KindCounterRegression, http.StatusForbidden, "credential rejected"
	case errors.Is(err, accounts.ErrAccountExists):
		return KindAccountExists, http.StatusConflict, "account already exists"
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return KindInvalidCredentials, http.StatusUnauthorized, "invalid credentials"
	default:
		return KindInternalError, http.StatusInternalServerError, "an unexpected error occurred"
	}
}

// writeError writes the uniform error envelope for the given kind.
func writeError(w http.ResponseWriter, kind, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    status,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// handleError maps the error and writes the response.
func handleError(w http.ResponseWriter, err error) {
	kind, status, message := mapError(err)
	writeError(w, kind, message, status)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
