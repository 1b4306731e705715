// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/metrics"
)

type contextKey string

// ClaimsContextKey is the request-context key under which validated
// claims are stored by the Authenticate middleware.
const ClaimsContextKey contextKey = "claims"

// ClaimsFromContext extracts the authenticated claims from a request
// context, or nil if the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}

// Middleware provides authentication and login rate limiting.
type Middleware struct {
	jwtManager *JWTManager

	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int

	closeOnce sync.Once
	done      chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMiddleware creates authentication middleware. The rate limit
// applies to the login endpoint only: reqsPerWindow attempts per window
// per client IP.
func NewMiddleware(jwtManager *JWTManager, reqsPerWindow int, window time.Duration) *Middleware {
	m := &Middleware{
		jwtManager: jwtManager,
		limiters:   make(map[string]*limiterEntry),
		limit:      rate.Every(window / time.Duration(reqsPerWindow)),
		burst:      reqsPerWindow,
		done:       make(chan struct{}),
	}
	go m.cleanupLimiters(5 * time.Minute)
	return m
}

// Close stops the limiter cleanup goroutine. Idempotent.
func (m *Middleware) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Authenticate enforces a valid Bearer token and stores the claims in
// the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			http.Error(w, "Unauthorized: missing credentials", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			logging.Debug().Err(err).Str("path", r.URL.Path).Msg("Token validation failed")
			http.Error(w, "Unauthorized: invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidateToken validates a raw token string. The WebSocket admission
// gate uses this directly because it must map failures to close codes,
// not HTTP statuses.
func (m *Middleware) ValidateToken(token string) (*Claims, error) {
	return m.jwtManager.ValidateToken(token)
}

// LoginRateLimit throttles login attempts per client IP.
func (m *Middleware) LoginRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !m.allow(ip) {
			metrics.WSAdmissionRejections.WithLabelValues("rate_limited").Inc()
			logging.Warn().Str("ip", ip).Msg("Login rate limit exceeded")
			http.Error(w, "Too many login attempts, try again later", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) allow(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// cleanupLimiters drops limiter state for IPs idle longer than the
// interval.
func (m *Middleware) cleanupLimiters(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			cutoff := time.Now().Add(-interval)
			for ip, entry := range m.limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(m.limiters, ip)
				}
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

// TokenFromRequest extracts a credential from the Authorization header
// or, for WebSocket upgrades where browsers cannot set headers, the
// "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
