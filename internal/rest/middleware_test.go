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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/passkey-gateway/pkg/logging"
	"github.com/jeremyhahn/passkey-gateway/pkg/ratelimit"
)

// stubLimiter returns a fixed decision or error for every request.
type stubLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (s *stubLimiter) Allow(ctx context.Context, category ratelimit.Category, identity string) (ratelimit.Decision, error) {
	return s.decision, s.err
}

func newMiddlewareServer(limiter ratelimit.Limiter) *Server {
	return &Server{
		limiter: limiter,
		logger:  logging.DefaultLogger(),
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdmissionMiddleware_Allowed(t *testing.T) {
	s := newMiddlewareServer(&stubLimiter{decision: ratelimit.Decision{Allowed: true}})
	handler := s.AdmissionMiddleware(ratelimit.CategorySignIn)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-in", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmissionMiddleware_DeniedSetsRetryAfter(t *testing.T) {
	s := newMiddlewareServer(&stubLimiter{
		decision: ratelimit.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond},
	})
	handler := s.AdmissionMiddleware(ratelimit.CategorySignIn)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-in", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	// Rounded up to whole seconds
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestAdmissionMiddleware_RetryAfterFloor(t *testing.T) {
	s := newMiddlewareServer(&stubLimiter{
		decision: ratelimit.Decision{Allowed: false, RetryAfter: 0},
	})
	handler := s.AdmissionMiddleware(ratelimit.CategorySignIn)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-in", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAdmissionMiddleware_FailsClosed(t *testing.T) {
	s := newMiddlewareServer(&stubLimiter{err: errors.New("store unreachable")})
	handler := s.AdmissionMiddleware(ratelimit.CategorySignIn)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-in", nil))

	// A broken limiter denies admission rather than waving traffic through
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "store unreachable")
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newMiddlewareServer(nil)
	handler := s.RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "handler exploded")
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // second call is ignored

	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestResponseWriterDefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	_, err := rw.Write([]byte("ok"))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.statusCode)
}
