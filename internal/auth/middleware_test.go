// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(t *testing.T) *Middleware {
	t.Helper()
	m := NewMiddleware(newTestManager(t, time.Hour), 5, time.Minute)
	t.Cleanup(m.Close)
	return m
}

func claimsEcho(t *testing.T, wantUserID string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		require.NotNil(t, claims)
		assert.Equal(t, wantUserID, claims.UserID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateMissingToken(t *testing.T) {
	m := newTestMiddleware(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	m.Authenticate(claimsEcho(t, "")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateBearerHeader(t *testing.T) {
	m := newTestMiddleware(t)
	token, err := m.jwtManager.GenerateToken("user-1", "agent")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	m.Authenticate(claimsEcho(t, "user-1")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticateQueryParamToken(t *testing.T) {
	m := newTestMiddleware(t)
	token, err := m.jwtManager.GenerateToken("user-2", "client")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	m.Authenticate(claimsEcho(t, "user-2")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticateInvalidToken(t *testing.T) {
	m := newTestMiddleware(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	m.Authenticate(claimsEcho(t, "")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateNonBearerScheme(t *testing.T) {
	m := newTestMiddleware(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	m.Authenticate(claimsEcho(t, "")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRateLimit(t *testing.T) {
	m := NewMiddleware(newTestManager(t, time.Hour), 3, time.Minute)
	t.Cleanup(m.Close)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := m.LoginRateLimit(next)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different IP has its own budget.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCloseStopsLimiterCleanup(t *testing.T) {
	m := NewMiddleware(newTestManager(t, time.Hour), 3, time.Minute)

	m.Close()
	m.Close()

	select {
	case <-m.done:
	default:
		t.Fatal("done channel still open after Close")
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		want   string
	}{
		{
			name:   "bearer header",
			target: "/api/v1/messages",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			want:   "abc",
		},
		{
			name:   "query param",
			target: "/ws?token=xyz",
			setup:  func(r *http.Request) {},
			want:   "xyz",
		},
		{
			name:   "header wins over query",
			target: "/ws?token=xyz",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			want:   "abc",
		},
		{
			name:   "non-bearer header yields nothing",
			target: "/ws?token=xyz",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			want:   "",
		},
		{
			name:   "nothing",
			target: "/ws",
			setup:  func(r *http.Request) {},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.setup(req)
			assert.Equal(t, tt.want, TokenFromRequest(req))
		})
	}
}
