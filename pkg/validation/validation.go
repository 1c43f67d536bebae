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

// Package validation provides centralized input validation for the gateway's
// public endpoints. Every route declares a Schema; payload fields are
// normalized and checked against it before any ceremony or account logic
// runs, preventing injection attacks across all entry points.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrValidation is the sentinel all field violations wrap.
var ErrValidation = errors.New("validation failed")

var (
	// EmailPattern matches a practical email shape, not full RFC 5322
	EmailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// ChallengeIDPattern matches hex-encoded challenge identifiers
	ChallengeIDPattern = regexp.MustCompile(`^[a-f0-9]+$`)

	// SubjectRefPattern matches safe subject identifiers
	SubjectRefPattern = regexp.MustCompile(`^[a-zA-Z0-9@_\-\.]+$`)
)

// FieldError reports the first constraint a payload field violated. The
// message names the field and the constraint, never the offending value.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// Unwrap makes every field error match ErrValidation via errors.Is.
func (e *FieldError) Unwrap() error {
	return ErrValidation
}

// Rule is the constraint set for one payload field. Constraints are checked
// in a fixed order: presence, length, character safety, then pattern.
type Rule struct {
	// Field is the payload field name.
	Field string

	// Required rejects missing or empty values.
	Required bool

	// MinLen and MaxLen bound the value length in bytes. Zero means
	// unbounded. Length is checked before the pattern to prevent ReDoS.
	MinLen int
	MaxLen int

	// Pattern constrains the allowed value shape. PatternDesc is the
	// human-readable constraint used in the violation message.
	Pattern     *regexp.Regexp
	PatternDesc string
}

// Schema is the ordered rule set for one route's payload.
type Schema struct {
	// Name identifies the schema in logs.
	Name string

	// Rules are evaluated in order; the first violation wins.
	Rules []Rule
}

// Check normalizes the payload and evaluates it against the schema. Values
// are trimmed of surrounding whitespace before any rule runs; the returned
// map holds the normalized values for downstream use. The first violated
// rule yields a *FieldError wrapping ErrValidation. Fields not named by any
// rule are dropped.
func (s *Schema) Check(payload map[string]string) (map[string]string, error) {
	normalized := make(map[string]string, len(s.Rules))

	for _, rule := range s.Rules {
		value := strings.TrimSpace(payload[rule.Field])

		if value == "" {
			if rule.Required {
				return nil, &FieldError{Field: rule.Field, Message: "is required"}
			}
			continue
		}

		// Null bytes can bypass downstream checks
		if strings.Contains(value, "\x00") {
			return nil, &FieldError{Field: rule.Field, Message: "contains null byte"}
		}

		if rule.MaxLen > 0 && len(value) > rule.MaxLen {
			return nil, &FieldError{Field: rule.Field, Message: fmt.Sprintf("too long (max %d characters)", rule.MaxLen)}
		}
		if rule.MinLen > 0 && len(value) < rule.MinLen {
			return nil, &FieldError{Field: rule.Field, Message: fmt.Sprintf("too short (min %d characters)", rule.MinLen)}
		}

		for _, r := range value {
			if r < 32 || r == 127 {
				return nil, &FieldError{Field: rule.Field, Message: "contains control characters"}
			}
		}

		if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
			desc := rule.PatternDesc
			if desc == "" {
				desc = "has an invalid format"
			}
			return nil, &FieldError{Field: rule.Field, Message: desc}
		}

		normalized[rule.Field] = value
	}

	return normalized, nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	// Remove control characters and null bytes
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	// Limit length to prevent log flooding
	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}

	return s
}
