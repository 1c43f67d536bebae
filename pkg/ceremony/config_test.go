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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	}
	cfg.SetDefaults()

	assert.Equal(t, 120*time.Second, cfg.ChallengeTTL)
	assert.Equal(t, "preferred", cfg.UserVerification)
	assert.Equal(t, "none", cfg.AttestationPreference)
	assert.Equal(t, "preferred", cfg.ResidentKeyRequirement)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RPID:          "example.com",
			RPDisplayName: "Example",
			RPOrigins:     []string{"https://example.com"},
		}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.RPID = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.RPOrigins = nil
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.UserVerification = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.AttestationPreference = "always"
	assert.Error(t, cfg.Validate())
}

func TestConfig_ToWebAuthnConfig(t *testing.T) {
	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
		ChallengeTTL:  90 * time.Second,
	}
	cfg.SetDefaults()

	wc := cfg.ToWebAuthnConfig()
	assert.Equal(t, "example.com", wc.RPID)
	assert.True(t, wc.Timeouts.Login.Enforce)
	assert.Equal(t, 90*time.Second, wc.Timeouts.Login.Timeout)
	assert.Equal(t, 90*time.Second, wc.Timeouts.Registration.Timeout)
}

func TestNewService_RequiredParams(t *testing.T) {
	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	}

	_, err := NewService(ServiceParams{})
	assert.Error(t, err)

	_, err = NewService(ServiceParams{Config: cfg})
	assert.Error(t, err)

	_, err = NewService(ServiceParams{
		Config:         cfg,
		ChallengeStore: NewMemoryChallengeStore(time.Minute),
	})
	assert.Error(t, err)

	svc, err := NewService(ServiceParams{
		Config:               cfg,
		ChallengeStore:       NewMemoryChallengeStore(time.Minute),
		CredentialRepository: NewMemoryCredentialRepository(),
	})
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestErrorWrapping(t *testing.T) {
	err := WrapError("consume challenge", ErrChallengeInvalid)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
	assert.True(t, IsChallengeInvalid(err))
	assert.Contains(t, err.Error(), "consume challenge")

	assert.NoError(t, WrapError("noop", nil))

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "consume challenge", ce.Op)
}
