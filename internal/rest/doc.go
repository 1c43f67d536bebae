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

// Package rest implements the gateway's public HTTP surface. Every request
// passes the same pipeline before any business logic runs: panic recovery,
// request logging, CORS, per-category admission limiting, then payload
// validation. Error responses carry a machine-stable kind and a generic
// message; internal failure detail only ever reaches the logs.
package rest
