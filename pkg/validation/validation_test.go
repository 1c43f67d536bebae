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

package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return &Schema{
		Name: "test",
		Rules: []Rule{
			{Field: "email", Required: true, MaxLen: 254, Pattern: EmailPattern, PatternDesc: "must be a valid email address"},
			{Field: "display_name", MaxLen: 64},
			{Field: "challenge_id", Required: true, MinLen: 32, MaxLen: 128, Pattern: ChallengeIDPattern, PatternDesc: "must be a hex-encoded identifier"},
		},
	}
}

func validPayload() map[string]string {
	return map[string]string{
		"email":        "user@example.com",
		"display_name": "User",
		"challenge_id": strings.Repeat("ab", 32),
	}
}

func TestSchemaCheck_Valid(t *testing.T) {
	values, err := testSchema().Check(validPayload())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", values["email"])
	assert.Equal(t, "User", values["display_name"])
}

func TestSchemaCheck_NormalizesWhitespace(t *testing.T) {
	payload := validPayload()
	payload["email"] = "  user@example.com\t"

	values, err := testSchema().Check(payload)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", values["email"])
}

func TestSchemaCheck_RequiredMissing(t *testing.T) {
	payload := validPayload()
	delete(payload, "email")

	_, err := testSchema().Check(payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "email", fe.Field)
}

func TestSchemaCheck_WhitespaceOnlyIsMissing(t *testing.T) {
	payload := validPayload()
	payload["email"] = "   "

	_, err := testSchema().Check(payload)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSchemaCheck_OptionalMissing(t *testing.T) {
	payload := validPayload()
	delete(payload, "display_name")

	_, err := testSchema().Check(payload)
	assert.NoError(t, err)
}

func TestSchemaCheck_TooLong(t *testing.T) {
	payload := validPayload()
	payload["display_name"] = strings.Repeat("x", 65)

	_, err := testSchema().Check(payload)
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "display_name", fe.Field)
	assert.Contains(t, fe.Message, "too long")
}

func TestSchemaCheck_TooShort(t *testing.T) {
	payload := validPayload()
	payload["challenge_id"] = "abcd"

	_, err := testSchema().Check(payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSchemaCheck_PatternViolation(t *testing.T) {
	payload := validPayload()
	payload["email"] = "not-an-email"

	_, err := testSchema().Check(payload)
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "must be a valid email address", fe.Message)
}

func TestSchemaCheck_NullByte(t *testing.T) {
	payload := validPayload()
	payload["display_name"] = "User\x00name"

	_, err := testSchema().Check(payload)
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Message, "null byte")
}

func TestSchemaCheck_ControlCharacters(t *testing.T) {
	payload := validPayload()
	payload["display_name"] = "User\x01name"

	_, err := testSchema().Check(payload)
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Message, "control characters")
}

func TestSchemaCheck_FirstViolationWins(t *testing.T) {
	payload := validPayload()
	payload["email"] = "bad"
	payload["challenge_id"] = "also-bad"

	_, err := testSchema().Check(payload)
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "email", fe.Field)
}

func TestSchemaCheck_DropsUnknownFields(t *testing.T) {
	payload := validPayload()
	payload["unexpected"] = "value"

	values, err := testSchema().Check(payload)
	require.NoError(t, err)
	_, exists := values["unexpected"]
	assert.False(t, exists)
}

func TestSchemaCheck_ErrorNeverEchoesValue(t *testing.T) {
	payload := validPayload()
	payload["email"] = "attacker-controlled-value"

	_, err := testSchema().Check(payload)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "attacker-controlled-value")
}

func TestSanitizeForLog(t *testing.T) {
	assert.Equal(t, "abc", SanitizeForLog("a\x00b\nc"))

	long := strings.Repeat("x", 2000)
	sanitized := SanitizeForLog(long)
	assert.LessOrEqual(t, len(sanitized), 1015)
	assert.Contains(t, sanitized, "[truncated]")
}
