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

// Package ceremony implements the passkey ceremony core of the gateway:
// challenge issuance, atomic single-use challenge consumption, credential
// registration, and assertion verification.
//
// A ceremony is always challenge-bound. The server issues an unguessable,
// time-bounded challenge tied to a subject and a purpose (registration or
// authentication). The client's authenticator response can only be consumed
// once and only against the challenge it was issued for. Challenge validity
// failures (not found, expired, already consumed, wrong purpose, wrong
// subject) all collapse into a single ErrChallengeInvalid so that callers
// cannot probe which sub-case occurred.
//
// Credential verification is delegated to github.com/go-webauthn/webauthn;
// this package owns challenge lifecycle, the credential repository contract,
// signature-counter monotonicity, and session token issuance.
package ceremony
