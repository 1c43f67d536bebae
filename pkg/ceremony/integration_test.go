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
	"encoding/json"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ceremonyEnv bundles a service with a virtual authenticator targeting it.
type ceremonyEnv struct {
	svc           *Service
	challenges    *MemoryChallengeStore
	creds         *MemoryCredentialRepository
	rp            virtualwebauthn.RelyingParty
	authenticator virtualwebauthn.Authenticator
	credential    virtualwebauthn.Credential
}

func newCeremonyEnv(t *testing.T) *ceremonyEnv {
	t.Helper()

	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}

	challenges := NewMemoryChallengeStore(2 * time.Minute)
	creds := NewMemoryCredentialRepository()

	svc, err := NewService(ServiceParams{
		Config:               cfg,
		ChallengeStore:       challenges,
		CredentialRepository: creds,
	})
	require.NoError(t, err)

	return &ceremonyEnv{
		svc:        svc,
		challenges: challenges,
		creds:      creds,
		rp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: cfg.RPOrigins[0],
		},
		authenticator: virtualwebauthn.NewAuthenticator(),
		credential:    virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
}

// attest answers a registration challenge with the env's authenticator.
func (e *ceremonyEnv) attest(t *testing.T, options *protocol.CredentialCreation) *protocol.ParsedCredentialCreationData {
	t.Helper()

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(e.rp, e.authenticator, e.credential, *parsedOptions)
	parsed, err := parseAttestationResponse(attestation)
	require.NoError(t, err)
	return parsed
}

// assert answers an authentication challenge with the env's authenticator.
func (e *ceremonyEnv) assertion(t *testing.T, options *protocol.CredentialAssertion) *protocol.ParsedCredentialAssertionData {
	t.Helper()

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	assertion := virtualwebauthn.CreateAssertionResponse(e.rp, e.authenticator, e.credential, *parsedOptions)
	parsed, err := parseAssertionResponse(assertion)
	require.NoError(t, err)
	return parsed
}

// register runs a full registration ceremony.
func (e *ceremonyEnv) register(t *testing.T, subjectRef string) *Credential {
	t.Helper()
	ctx := context.Background()

	options, challengeID, err := e.svc.BeginRegistration(ctx, subjectRef, "")
	require.NoError(t, err)

	cred, err := e.svc.FinishRegistration(ctx, challengeID, subjectRef, e.attest(t, options))
	require.NoError(t, err)

	e.authenticator.AddCredential(e.credential)
	return cred
}

func TestFullRegistrationCeremony(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)

	options, challengeID, err := env.svc.BeginRegistration(ctx, "testuser@example.com", "Test User")
	require.NoError(t, err)
	require.NotNil(t, options)
	require.NotEmpty(t, challengeID)

	assert.Equal(t, "example.com", options.Response.RelyingParty.ID)
	assert.Equal(t, "testuser@example.com", options.Response.User.Name)
	assert.Equal(t, "Test User", options.Response.User.DisplayName)
	assert.NotEmpty(t, options.Response.Challenge)

	cred, err := env.svc.FinishRegistration(ctx, challengeID, "testuser@example.com", env.attest(t, options))
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "testuser@example.com", cred.OwnerRef)
	assert.NotEmpty(t, cred.ID)
	assert.NotEmpty(t, cred.PublicKey)

	stored, err := env.svc.Credentials(ctx, "testuser@example.com")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestFullAuthenticationCeremony(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "login@example.com")

	options, challengeID, err := env.svc.BeginAuthentication(ctx, "login@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, options.Response.Challenge)

	env.credential.Counter++
	token, cred, err := env.svc.FinishAuthentication(ctx, challengeID, "login@example.com", env.assertion(t, options))
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "login@example.com", cred.OwnerRef)
	assert.Equal(t, uint32(1), cred.Authenticator.SignCount)
	assert.False(t, cred.LastUsedAt.IsZero())
}

func TestChallengeReuseFails(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "reuse@example.com")

	options, challengeID, err := env.svc.BeginAuthentication(ctx, "reuse@example.com")
	require.NoError(t, err)

	env.credential.Counter++
	parsed := env.assertion(t, options)

	_, _, err = env.svc.FinishAuthentication(ctx, challengeID, "reuse@example.com", parsed)
	require.NoError(t, err)

	// Replaying the same challenge, even with a valid assertion, must fail
	_, _, err = env.svc.FinishAuthentication(ctx, challengeID, "reuse@example.com", parsed)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestChallengePurposeMismatch(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "purpose@example.com")

	// A registration challenge cannot complete an authentication ceremony
	_, regChallengeID, err := env.svc.BeginRegistration(ctx, "purpose@example.com", "")
	require.NoError(t, err)

	authOptions, _, err := env.svc.BeginAuthentication(ctx, "purpose@example.com")
	require.NoError(t, err)

	env.credential.Counter++
	_, _, err = env.svc.FinishAuthentication(ctx, regChallengeID, "purpose@example.com", env.assertion(t, authOptions))
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestRegistrationChallengeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)

	options, challengeID, err := env.svc.BeginRegistration(ctx, "single@example.com", "")
	require.NoError(t, err)
	parsed := env.attest(t, options)

	_, err = env.svc.FinishRegistration(ctx, challengeID, "single@example.com", parsed)
	require.NoError(t, err)

	_, err = env.svc.FinishRegistration(ctx, challengeID, "single@example.com", parsed)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestVerifyRegistrationConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)

	options, challengeID, err := env.svc.BeginRegistration(ctx, "precheck@example.com", "")
	require.NoError(t, err)
	parsed := env.attest(t, options)

	require.NoError(t, env.svc.VerifyRegistration(ctx, challengeID, "precheck@example.com", parsed))

	// Nothing was persisted
	stored, err := env.svc.Credentials(ctx, "precheck@example.com")
	require.NoError(t, err)
	assert.Empty(t, stored)

	// And the challenge is spent
	err = env.svc.VerifyRegistration(ctx, challengeID, "precheck@example.com", parsed)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestDuplicateCredentialRegistration(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "dup@example.com")

	// Another subject presents the same credential with a fresh challenge
	options, challengeID, err := env.svc.BeginRegistration(ctx, "other@example.com", "")
	require.NoError(t, err)

	_, err = env.svc.FinishRegistration(ctx, challengeID, "other@example.com", env.attest(t, options))
	assert.ErrorIs(t, err, ErrCredentialConflict)
}

func TestAuthenticationUnknownSubject(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)

	_, _, err := env.svc.BeginAuthentication(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestAuthenticationUnknownCredential(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "known@example.com")

	options, challengeID, err := env.svc.BeginAuthentication(ctx, "known@example.com")
	require.NoError(t, err)

	// Present an assertion from a credential the gateway never stored
	env.credential = virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	env.authenticator.AddCredential(env.credential)
	env.credential.Counter++

	_, _, err = env.svc.FinishAuthentication(ctx, challengeID, "known@example.com", env.assertion(t, options))
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestCounterRegressionDetected(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "clone@example.com")

	// First authentication advances the stored counter to 1
	options, challengeID, err := env.svc.BeginAuthentication(ctx, "clone@example.com")
	require.NoError(t, err)
	env.credential.Counter = 1
	_, _, err = env.svc.FinishAuthentication(ctx, challengeID, "clone@example.com", env.assertion(t, options))
	require.NoError(t, err)

	// A replayed counter value signals a cloned authenticator
	options, challengeID, err = env.svc.BeginAuthentication(ctx, "clone@example.com")
	require.NoError(t, err)
	_, _, err = env.svc.FinishAuthentication(ctx, challengeID, "clone@example.com", env.assertion(t, options))
	assert.ErrorIs(t, err, ErrCounterRegression)
}

func TestCounterMonotonicityAcrossLogins(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "serial@example.com")

	for i := 1; i <= 3; i++ {
		options, challengeID, err := env.svc.BeginAuthentication(ctx, "serial@example.com")
		require.NoError(t, err)

		env.credential.Counter++
		_, cred, err := env.svc.FinishAuthentication(ctx, challengeID, "serial@example.com", env.assertion(t, options))
		require.NoError(t, err)
		assert.Equal(t, uint32(i), cred.Authenticator.SignCount)
	}
}

func TestZeroCounterAuthenticatorStaysUsable(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "nocounter@example.com")

	// Authenticators without a signature counter report zero on every
	// assertion. As long as the stored value is also zero this is not a
	// regression, and repeated logins keep working.
	for i := 0; i < 2; i++ {
		options, challengeID, err := env.svc.BeginAuthentication(ctx, "nocounter@example.com")
		require.NoError(t, err)

		_, cred, err := env.svc.FinishAuthentication(ctx, challengeID, "nocounter@example.com", env.assertion(t, options))
		require.NoError(t, err)
		assert.Equal(t, uint32(0), cred.Authenticator.SignCount)
		assert.False(t, cred.LastUsedAt.IsZero())
	}
}

func TestDiscoverableAuthentication(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "passkey@example.com")

	options, challengeID, err := env.svc.BeginAuthentication(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, options.Response.AllowedCredentials)

	// Discoverable assertions carry the user handle
	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte("passkey@example.com"),
	})
	discoverable.AddCredential(env.credential)
	env.authenticator = discoverable
	env.credential.Counter++

	token, cred, err := env.svc.FinishAuthentication(ctx, challengeID, "", env.assertion(t, options))
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "passkey@example.com", cred.OwnerRef)
}

func TestCrossSubjectChallengeRejected(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "alice@example.com")

	// A challenge issued for alice cannot be consumed by mallory
	_, challengeID, err := env.svc.BeginAuthentication(ctx, "alice@example.com")
	require.NoError(t, err)

	options2, _, err := env.svc.BeginAuthentication(ctx, "alice@example.com")
	require.NoError(t, err)

	env.credential.Counter++
	_, _, err = env.svc.FinishAuthentication(ctx, challengeID, "mallory@example.com", env.assertion(t, options2))
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestRegistrationExcludesExistingCredentials(t *testing.T) {
	ctx := context.Background()
	env := newCeremonyEnv(t)
	env.register(t, "exclude@example.com")

	options, _, err := env.svc.BeginRegistration(ctx, "exclude@example.com", "")
	require.NoError(t, err)
	assert.Len(t, options.Response.CredentialExcludeList, 1)
}

func TestJWTTokenIssuedOnAuthentication(t *testing.T) {
	ctx := context.Background()

	challenges := NewMemoryChallengeStore(2 * time.Minute)
	creds := NewMemoryCredentialRepository()
	issuer, err := NewJWTIssuer(&JWTIssuerConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Config: &Config{
			RPID:          "example.com",
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{"https://example.com"},
		},
		ChallengeStore:       challenges,
		CredentialRepository: creds,
		TokenIssuer:          issuer,
	})
	require.NoError(t, err)

	env := &ceremonyEnv{
		svc:        svc,
		challenges: challenges,
		creds:      creds,
		rp: virtualwebauthn.RelyingParty{
			Name:   "Example Corp",
			ID:     "example.com",
			Origin: "https://example.com",
		},
		authenticator: virtualwebauthn.NewAuthenticator(),
		credential:    virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
	env.register(t, "jwt@example.com")

	options, challengeID, err := svc.BeginAuthentication(ctx, "jwt@example.com")
	require.NoError(t, err)

	env.credential.Counter++
	token, _, err := svc.FinishAuthentication(ctx, challengeID, "jwt@example.com", env.assertion(t, options))
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "jwt@example.com", claims["sub"])
}

// parseAttestationResponse parses a virtual authenticator attestation
// response into the format expected by go-webauthn.
func parseAttestationResponse(attestation string) (*protocol.ParsedCredentialCreationData, error) {
	var ccr protocol.CredentialCreationResponse
	if err := json.Unmarshal([]byte(attestation), &ccr); err != nil {
		return nil, err
	}
	return ccr.Parse()
}

// parseAssertionResponse parses a virtual authenticator assertion response
// into the format expected by go-webauthn.
func parseAssertionResponse(assertion string) (*protocol.ParsedCredentialAssertionData, error) {
	var car protocol.CredentialAssertionResponse
	if err := json.Unmarshal([]byte(assertion), &car); err != nil {
		return nil, err
	}
	return car.Parse()
}
