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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/passkey-gateway/pkg/logging"
)

// Service runs passkey registration and authentication ceremonies.
type Service struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	challenges ChallengeStore
	creds      CredentialRepository
	tokens     TokenIssuer
	logger     *logging.Logger
	now        func() time.Time
	configured bool
}

// ServiceParams contains dependencies for creating a ceremony service.
type ServiceParams struct {
	// Config is the relying-party configuration (required).
	Config *Config

	// ChallengeStore tracks single-use ceremony challenges (required).
	ChallengeStore ChallengeStore

	// CredentialRepository is the credential persistence layer (required).
	CredentialRepository CredentialRepository

	// TokenIssuer mints session tokens after authentication. If nil, the
	// service returns the base64-encoded subject reference.
	TokenIssuer TokenIssuer

	// Logger receives internal audit detail that is never sent to clients.
	// Defaults to the package default logger.
	Logger *logging.Logger
}

// NewService creates a new ceremony service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.CredentialRepository == nil {
		return nil, fmt.Errorf("credential repository is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &Service{
		webauthn:   wa,
		config:     params.Config,
		challenges: params.ChallengeStore,
		creds:      params.CredentialRepository,
		tokens:     params.TokenIssuer,
		logger:     logger,
		now:        time.Now,
		configured: true,
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// BeginRegistration issues a registration challenge for the subject and
// returns the credential creation options to send to the client, plus the
// challenge ID the client must present back.
func (s *Service) BeginRegistration(ctx context.Context, subjectRef, displayName string) (*protocol.CredentialCreation, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}
	if subjectRef == "" {
		return nil, "", WrapError("begin registration", fmt.Errorf("subject reference is required"))
	}

	subject, err := s.loadSubject(ctx, subjectRef, displayName)
	if err != nil {
		return nil, "", WrapError("load subject", err)
	}

	// Exclude already-registered credentials so the authenticator refuses
	// to re-create one it already holds.
	excludeList := make([]protocol.CredentialDescriptor, len(subject.Credentials()))
	for i, cred := range subject.Credentials() {
		excludeList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    cred.Transport,
		}
	}

	options, session, err := s.webauthn.BeginRegistration(subject,
		webauthn.WithExclusions(excludeList),
	)
	if err != nil {
		return nil, "", WrapError("begin registration", err)
	}

	ch, err := s.challenges.Issue(ctx, subjectRef, PurposeRegistration, session)
	if err != nil {
		return nil, "", WrapError("issue challenge", err)
	}

	return options, ch.ID, nil
}

// FinishRegistration completes a registration ceremony: it consumes the
// challenge, verifies the attestation's structural and origin/challenge
// binding, and persists the new credential. The challenge is spent even when
// a later step fails; retries require a fresh challenge.
func (s *Service) FinishRegistration(ctx context.Context, challengeID, subjectRef string, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	ch, err := s.challenges.Consume(ctx, challengeID, PurposeRegistration, subjectRef)
	if err != nil {
		return nil, WrapError("consume challenge", err)
	}

	cred, err := s.verifyAttestation(ctx, ch, response)
	if err != nil {
		return nil, err
	}

	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, WrapError("insert credential", err)
	}

	return cred, nil
}

// VerifyRegistration consumes a registration challenge and verifies the
// attestation without persisting anything. Used as a structural pre-check;
// the challenge is single-use, so a subsequent FinishRegistration needs a
// fresh one.
func (s *Service) VerifyRegistration(ctx context.Context, challengeID, subjectRef string, response *protocol.ParsedCredentialCreationData) error {
	if !s.configured {
		return ErrNotConfigured
	}

	ch, err := s.challenges.Consume(ctx, challengeID, PurposeRegistration, subjectRef)
	if err != nil {
		return WrapError("consume challenge", err)
	}

	_, err = s.verifyAttestation(ctx, ch, response)
	return err
}

// verifyAttestation checks the attestation against the consumed challenge's
// session state and converts the result into a repository credential.
func (s *Service) verifyAttestation(ctx context.Context, ch *Challenge, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	subject, err := s.loadSubject(ctx, ch.SubjectRef, "")
	if err != nil {
		return nil, WrapError("load subject", err)
	}

	wc, err := s.webauthn.CreateCredential(subject, ch.Session, response)
	if err != nil {
		s.logger.Warnf("attestation rejected for subject %q: %v", ch.SubjectRef, err)
		return nil, WrapError("verify attestation", ErrAttestationInvalid)
	}

	return FromWebAuthnCredential(ch.SubjectRef, wc), nil
}

// BeginAuthentication issues an authentication challenge. With an empty
// subjectRef the options target discoverable credentials and the credential
// presented at finish time identifies the owner.
func (s *Service) BeginAuthentication(ctx context.Context, subjectRef string) (*protocol.CredentialAssertion, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}

	var options *protocol.CredentialAssertion
	var session *webauthn.SessionData
	var err error

	if subjectRef == "" {
		options, session, err = s.webauthn.BeginDiscoverableLogin()
	} else {
		subject, loadErr := s.loadSubject(ctx, subjectRef, "")
		if loadErr != nil {
			return nil, "", WrapError("load subject", loadErr)
		}
		if len(subject.Credentials()) == 0 {
			return nil, "", WrapError("begin authentication", ErrCredentialNotFound)
		}
		options, session, err = s.webauthn.BeginLogin(subject)
	}
	if err != nil {
		return nil, "", WrapError("begin authentication", err)
	}

	ch, err := s.challenges.Issue(ctx, subjectRef, PurposeAuthentication, session)
	if err != nil {
		return nil, "", WrapError("issue challenge", err)
	}

	return options, ch.ID, nil
}

// FinishAuthentication completes an authentication ceremony: it consumes the
// challenge, verifies the assertion signature against the stored public key,
// enforces signature-counter monotonicity, and returns a session token for
// the credential owner.
func (s *Service) FinishAuthentication(ctx context.Context, challengeID, subjectRef string, response *protocol.ParsedCredentialAssertionData) (string, *Credential, error) {
	if !s.configured {
		return "", nil, ErrNotConfigured
	}

	ch, err := s.challenges.Consume(ctx, challengeID, PurposeAuthentication, subjectRef)
	if err != nil {
		return "", nil, WrapError("consume challenge", err)
	}

	stored, err := s.creds.GetByCredentialID(ctx, response.RawID)
	if err != nil {
		return "", nil, WrapError("lookup credential", err)
	}

	// A challenge bound to one subject must not verify another subject's
	// credential, even if the signature itself is valid.
	if ch.SubjectRef != "" && ch.SubjectRef != stored.OwnerRef {
		return "", nil, WrapError("verify assertion", ErrChallengeInvalid)
	}

	owned, err := s.creds.GetByOwner(ctx, stored.OwnerRef)
	if err != nil {
		return "", nil, WrapError("lookup credentials", err)
	}
	subject := NewSubject(stored.OwnerRef, "", owned)

	var verified *webauthn.Credential
	if len(ch.Session.UserID) == 0 {
		verified, err = s.webauthn.ValidateDiscoverableLogin(
			func(rawID, userHandle []byte) (webauthn.User, error) {
				if !bytes.Equal(rawID, stored.ID) {
					return nil, ErrCredentialNotFound
				}
				return subject, nil
			},
			ch.Session,
			response,
		)
	} else {
		verified, err = s.webauthn.ValidateLogin(subject, ch.Session, response)
	}
	if err != nil {
		s.logger.Warnf("assertion rejected for subject %q: %v", stored.OwnerRef, err)
		return "", nil, WrapError("verify assertion", ErrSignatureInvalid)
	}

	// Counter monotonicity. The library flags a clone when the reported
	// counter is at or below the stored value, unless both are zero (the
	// authenticator does not support counters).
	if verified.Authenticator.CloneWarning {
		s.logger.Warnf("counter regression for subject %q: stored=%d reported=%d",
			stored.OwnerRef, stored.Authenticator.SignCount, verified.Authenticator.SignCount)
		return "", nil, WrapError("verify counter", ErrCounterRegression)
	}

	usedAt := s.now().UTC()
	if err := s.creds.UpdateCounter(ctx, stored.ID, stored.Authenticator.SignCount, verified.Authenticator.SignCount, usedAt); err != nil {
		if IsCounterRegression(err) {
			s.logger.Warnf("concurrent counter update lost for subject %q", stored.OwnerRef)
		}
		return "", nil, WrapError("update counter", err)
	}
	stored.Authenticator.SignCount = verified.Authenticator.SignCount
	stored.LastUsedAt = usedAt

	token, err := s.issueToken(ctx, stored.OwnerRef)
	if err != nil {
		return "", nil, WrapError("issue token", err)
	}

	return token, stored, nil
}

// Credentials retrieves all stored credentials for a subject.
func (s *Service) Credentials(ctx context.Context, subjectRef string) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.creds.GetByOwner(ctx, subjectRef)
}

// loadSubject builds a Subject from the credential repository.
func (s *Service) loadSubject(ctx context.Context, subjectRef, displayName string) (*Subject, error) {
	creds, err := s.creds.GetByOwner(ctx, subjectRef)
	if err != nil {
		return nil, err
	}
	return NewSubject(subjectRef, displayName, creds), nil
}

// issueToken mints the session artifact for an authenticated subject.
func (s *Service) issueToken(ctx context.Context, subjectRef string) (string, error) {
	if s.tokens != nil {
		return s.tokens.Issue(ctx, subjectRef)
	}
	return base64.RawURLEncoding.EncodeToString([]byte(subjectRef)), nil
}
