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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/passkey-gateway/internal/accounts"
	"github.com/jeremyhahn/passkey-gateway/pkg/ceremony"
	"github.com/jeremyhahn/passkey-gateway/pkg/logging"
	"github.com/jeremyhahn/passkey-gateway/pkg/metrics"
	"github.com/jeremyhahn/passkey-gateway/pkg/validation"
)

// maxBodyBytes bounds request bodies; attestation payloads are small.
const maxBodyBytes = 1 << 20

// Route payload schemas. Rules run in order; the first violation is the one
// the client sees.
var (
	challengeSchema = &validation.Schema{
		Name: "generate-challenge",
		Rules: []validation.Rule{
			{Field: "purpose", Required: true, MaxLen: 32},
			{Field: "email", MaxLen: 254, Pattern: validation.EmailPattern, PatternDesc: "must be a valid email address"},
		},
	}

	registerSchema = &validation.Schema{
		Name: "register-passkey",
		Rules: []validation.Rule{
			{Field: "challenge_id", Required: true, MinLen: 32, MaxLen: 128, Pattern: validation.ChallengeIDPattern, PatternDesc: "must be a hex-encoded identifier"},
			{Field: "email", Required: true, MaxLen: 254, Pattern: validation.EmailPattern, PatternDesc: "must be a valid email address"},
		},
	}

	authenticateSchema = &validation.Schema{
		Name: "authenticate-passkey",
		Rules: []validation.Rule{
			{Field: "challenge_id", Required: true, MinLen: 32, MaxLen: 128, Pattern: validation.ChallengeIDPattern, PatternDesc: "must be a hex-encoded identifier"},
			{Field: "email", MaxLen: 254, Pattern: validation.EmailPattern, PatternDesc: "must be a valid email address"},
		},
	}

	signUpSchema = &validation.Schema{
		Name: "sign-up",
		Rules: []validation.Rule{
			{Field: "email", Required: true, MaxLen: 254, Pattern: validation.EmailPattern, PatternDesc: "must be a valid email address"},
			{Field: "display_name", MaxLen: 64},
			{Field: "password", Required: true, MinLen: 8, MaxLen: 128},
		},
	}

	signInSchema = &validation.Schema{
		Name: "sign-in",
		Rules: []validation.Rule{
			{Field: "email", Required: true, MaxLen: 254, Pattern: validation.EmailPattern, PatternDesc: "must be a valid email address"},
			{Field: "password", Required: true, MaxLen: 128},
		},
	}
)

// HandlerContext holds the collaborators shared by all route handlers.
type HandlerContext struct {
	ceremonies *ceremony.Service
	accounts   accounts.Store
	tokens     ceremony.TokenIssuer
	logger     *logging.Logger
	version    string
}

// NewHandlerContext creates a handler context.
func NewHandlerContext(ceremonies *ceremony.Service, accountStore accounts.Store, tokens ceremony.TokenIssuer, logger *logging.Logger, version string) *HandlerContext {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &HandlerContext{
		ceremonies: ceremonies,
		accounts:   accountStore,
		tokens:     tokens,
		logger:     logger,
		version:    version,
	}
}

// decodeJSON decodes a bounded JSON request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &validation.FieldError{Field: "body", Message: "could not be read"}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &validation.FieldError{Field: "body", Message: "is not valid JSON"}
	}
	return nil
}

// WelcomeHandler handles GET /.
func (h *HandlerContext) WelcomeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, WelcomeResponse{Service: "passkey-gateway", Version: h.version}, http.StatusOK)
}

// HealthHandler handles the health endpoint.
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok"}, http.StatusOK)
}

// NotFoundHandler returns the uniform error envelope for unknown routes.
func (h *HandlerContext) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, KindNotFound, "resource not found", http.StatusNotFound)
}

// GenerateChallengeHandler handles GET /generate-challenge. The purpose
// query parameter selects the ceremony; registration challenges are bound to
// the email, authentication challenges may omit it for discoverable
// credentials.
func (h *HandlerContext) GenerateChallengeHandler(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{
		"purpose": r.URL.Query().Get("purpose"),
		"email":   r.URL.Query().Get("email"),
	}

	values, err := challengeSchema.Check(payload)
	if err != nil {
		handleError(w, err)
		return
	}

	purpose := ceremony.Purpose(values["purpose"])
	if !purpose.Valid() {
		handleError(w, &validation.FieldError{Field: "purpose", Message: "must be registration or authentication"})
		return
	}

	email := values["email"]

	var options interface{}
	var challengeID string

	switch purpose {
	case ceremony.PurposeRegistration:
		if email == "" {
			handleError(w, &validation.FieldError{Field: "email", Message: "is required"})
			return
		}
		options, challengeID, err = h.ceremonies.BeginRegistration(r.Context(), email, "")
	case ceremony.PurposeAuthentication:
		options, challengeID, err = h.ceremonies.BeginAuthentication(r.Context(), email)
	}
	if err != nil {
		h.logger.Warnf("challenge issuance failed: purpose=%s error=%v", purpose, err)
		handleError(w, err)
		return
	}

	raw, err := json.Marshal(options)
	if err != nil {
		handleError(w, err)
		return
	}

	metrics.RecordChallengeIssued(string(purpose))

	writeJSON(w, ChallengeResponse{
		ChallengeID: challengeID,
		ExpiresIn:   int(h.ceremonies.Config().ChallengeTTL.Seconds()),
		Options:     raw,
	}, http.StatusOK)
}

// RegisterPasskeyHandler handles POST /register-passkey: it completes the
// registration ceremony and persists the credential.
func (h *HandlerContext) RegisterPasskeyHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	values, err := registerSchema.Check(map[string]string{
		"challenge_id": req.ChallengeID,
		"email":        req.Email,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	parsed, err := parseCreationResponse(req.Credential)
	if err != nil {
		handleError(w, err)
		return
	}

	cred, err := h.ceremonies.FinishRegistration(r.Context(), values["challenge_id"], values["email"], parsed)
	metrics.RecordCeremony(metrics.CeremonyRegistration, err)
	if err != nil {
		kind, _, _ := mapError(err)
		metrics.RecordCeremonyFailure(metrics.CeremonyRegistration, kind)
		h.logger.Warnf("registration failed: subject=%s error=%v", validation.SanitizeForLog(values["email"]), err)
		handleError(w, err)
		return
	}

	writeJSON(w, RegisterResponse{
		Registered:   true,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		CreatedAt:    cred.CreatedAt,
	}, http.StatusCreated)
}

// VerifyPasskeyHandler handles POST /verify-passkey: it verifies an
// attestation without persisting a credential. The challenge is spent either
// way; completing registration afterwards requires a fresh one.
func (h *HandlerContext) VerifyPasskeyHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	values, err := registerSchema.Check(map[string]string{
		"challenge_id": req.ChallengeID,
		"email":        req.Email,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	parsed, err := parseCreationResponse(req.Credential)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.ceremonies.VerifyRegistration(r.Context(), values["challenge_id"], values["email"], parsed); err != nil {
		kind, _, _ := mapError(err)
		metrics.RecordCeremonyFailure(metrics.CeremonyRegistration, kind)
		h.logger.Warnf("verification failed: subject=%s error=%v", validation.SanitizeForLog(values["email"]), err)
		handleError(w, err)
		return
	}

	writeJSON(w, VerifyResponse{Verified: true}, http.StatusOK)
}

// AuthenticatePasskeyHandler handles POST /authenticate-passkey: it verifies
// the assertion, enforces counter monotonicity, and returns a session token.
func (h *HandlerContext) AuthenticatePasskeyHandler(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	values, err := authenticateSchema.Check(map[string]string{
		"challenge_id": req.ChallengeID,
		"email":        req.Email,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	parsed, err := parseAssertionResponse(req.Credential)
	if err != nil {
		handleError(w, err)
		return
	}

	token, cred, err := h.ceremonies.FinishAuthentication(r.Context(), values["challenge_id"], values["email"], parsed)
	metrics.RecordCeremony(metrics.CeremonyAuthentication, err)
	if err != nil {
		kind, _, _ := mapError(err)
		metrics.RecordCeremonyFailure(metrics.CeremonyAuthentication, kind)
		if ceremony.IsCounterRegression(err) {
			metrics.CounterRegressionsTotal.Inc()
		}
		h.logger.Warnf("authentication failed: error=%v", err)
		handleError(w, err)
		return
	}

	writeJSON(w, AuthResponse{Token: token, Subject: cred.OwnerRef}, http.StatusOK)
}

// SignUpHandler handles POST /sign-up.
func (h *HandlerContext) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	values, err := signUpSchema.Check(map[string]string{
		"email":        req.Email,
		"display_name": req.DisplayName,
		"password":     req.Password,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	account, err := h.accounts.Create(r.Context(), values["email"], values["display_name"], values["password"])
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, SignUpResponse{ID: account.ID.String(), Email: account.Email}, http.StatusCreated)
}

// SignInHandler handles POST /sign-in.
func (h *HandlerContext) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	values, err := signInSchema.Check(map[string]string{
		"email":    req.Email,
		"password": req.Password,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), values["email"], values["password"])
	if err != nil {
		handleError(w, err)
		return
	}

	token, err := h.tokens.Issue(r.Context(), account.Email)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, AuthResponse{Token: token, Subject: account.Email}, http.StatusOK)
}

// parseCreationResponse parses an attestation payload. Malformed payloads
// are a client error, not an attestation failure.
func parseCreationResponse(raw json.RawMessage) (*protocol.ParsedCredentialCreationData, error) {
	if len(raw) == 0 {
		return nil, &validation.FieldError{Field: "credential", Message: "is required"}
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(raw))
	if err != nil {
		return nil, &validation.FieldError{Field: "credential", Message: "has an invalid format"}
	}
	return parsed, nil
}

// parseAssertionResponse parses an assertion payload.
func parseAssertionResponse(raw json.RawMessage) (*protocol.ParsedCredentialAssertionData, error) {
	if len(raw) == 0 {
		return nil, &validation.FieldError{Field: "credential", Message: "is required"}
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(raw))
	if err != nil {
		return nil, &validation.FieldError{Field: "credential", Message: "has an invalid format"}
	}
	return parsed, nil
}
