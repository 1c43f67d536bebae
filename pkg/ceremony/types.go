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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Purpose identifies what a challenge was issued for. A challenge can only
// be consumed by a ceremony of the matching purpose.
type Purpose string

const (
	// PurposeRegistration marks a challenge issued for credential registration.
	PurposeRegistration Purpose = "registration"

	// PurposeAuthentication marks a challenge issued for assertion verification.
	PurposeAuthentication Purpose = "authentication"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeRegistration || p == PurposeAuthentication
}

// Challenge is a single-use, time-bounded ceremony challenge. The ID carries
// at least 128 bits of entropy and is the primary lookup key.
type Challenge struct {
	// ID is the opaque, unguessable challenge identifier.
	ID string `json:"id"`

	// SubjectRef is the account or pending-registration identifier the
	// challenge is bound to. Empty for discoverable authentication.
	SubjectRef string `json:"subject_ref,omitempty"`

	// Purpose is the ceremony the challenge was issued for.
	Purpose Purpose `json:"purpose"`

	// IssuedAt and ExpiresAt bound the challenge lifetime.
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Consumed is set exactly once, when a ceremony successfully claims
	// the challenge.
	Consumed bool `json:"consumed"`

	// Session carries the go-webauthn session state needed to verify the
	// client response against this challenge.
	Session webauthn.SessionData `json:"session"`
}

// Expired reports whether the challenge is past its expiry at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Credential is a public-key credential stored by the gateway. No secret
// material is ever held; PublicKey is COSE-encoded public key material.
type Credential struct {
	// ID is the credential identifier assigned by the client authenticator,
	// unique across the repository.
	ID []byte `json:"id"`

	// OwnerRef is the account identifier owning this credential. One
	// account may own multiple credentials.
	OwnerRef string `json:"owner_ref"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation conveyed at
	// registration.
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports supported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// Flags contains authenticator capability flags.
	Flags CredentialFlags `json:"flags"`

	// Authenticator contains authenticator-specific data, including the
	// monotonic signature counter used for clone detection.
	Authenticator AuthenticatorData `json:"authenticator"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last passed authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	UserPresent    bool `json:"user_present"`
	UserVerified   bool `json:"user_verified"`
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`
}

// AuthenticatorData contains authenticator-specific information.
type AuthenticatorData struct {
	// AAGUID is the authenticator's model identifier.
	AAGUID []byte `json:"aaguid"`

	// SignCount is the signature counter reported on each use. Must be
	// strictly increasing except for authenticators that always report
	// zero (counter unsupported).
	SignCount uint32 `json:"sign_count"`

	// CloneWarning indicates a detected counter regression.
	CloneWarning bool `json:"clone_warning"`

	// Attachment indicates how the authenticator is attached.
	Attachment protocol.AuthenticatorAttachment `json:"attachment"`
}

// ToWebAuthn converts a Credential to the go-webauthn library's type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.Authenticator.AAGUID,
			SignCount:    c.Authenticator.SignCount,
			CloneWarning: c.Authenticator.CloneWarning,
			Attachment:   c.Authenticator.Attachment,
		},
	}
}

// FromWebAuthnCredential creates a Credential from the go-webauthn type.
func FromWebAuthnCredential(ownerRef string, wc *webauthn.Credential) *Credential {
	return &Credential{
		ID:              wc.ID,
		OwnerRef:        ownerRef,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transport:       wc.Transport,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		Authenticator: AuthenticatorData{
			AAGUID:       wc.Authenticator.AAGUID,
			SignCount:    wc.Authenticator.SignCount,
			CloneWarning: wc.Authenticator.CloneWarning,
			Attachment:   wc.Authenticator.Attachment,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// Subject adapts a subject reference and its stored credentials to the
// webauthn.User interface. The gateway does not own account profiles; the
// subject reference is whatever identifier the account collaborator uses.
type Subject struct {
	Ref         string
	Name        string
	credentials []*Credential
}

// NewSubject creates a Subject with the given reference and credentials.
func NewSubject(ref, name string, creds []*Credential) *Subject {
	if name == "" {
		name = ref
	}
	return &Subject{Ref: ref, Name: name, credentials: creds}
}

// WebAuthnID returns the subject reference as the WebAuthn user handle.
func (s *Subject) WebAuthnID() []byte {
	return []byte(s.Ref)
}

// WebAuthnName returns the subject's username.
func (s *Subject) WebAuthnName() string {
	return s.Name
}

// WebAuthnDisplayName returns the subject's display name.
func (s *Subject) WebAuthnDisplayName() string {
	return s.Name
}

// WebAuthnCredentials returns the subject's registered credentials.
func (s *Subject) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(s.credentials))
	for i, c := range s.credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}

// Credentials returns the subject's stored credentials.
func (s *Subject) Credentials() []*Credential {
	return s.credentials
}
