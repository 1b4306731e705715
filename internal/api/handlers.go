// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package api provides the HTTP surface: REST endpoints under /api/v1,
// the WebSocket upgrade with its admission gate, and health and metrics
// endpoints.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/homewire/homewire/internal/auth"
	"github.com/homewire/homewire/internal/config"
	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
	"github.com/homewire/homewire/internal/ws"
)

// Handler contains dependencies for the API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, response helpers
//   - handlers_auth.go: login
//   - handlers_messages.go: conversations and message endpoints
//   - handlers_notifications.go: notification endpoints
//   - handlers_health.go: health and readiness endpoints
//   - websocket.go: upgrade and admission gate
type Handler struct {
	cfg        *config.Config
	store      store.Store
	jwtManager *auth.JWTManager
	registry   *ws.Registry
	router     *ws.Router
	notifier   *ws.Notifier
	startTime  time.Time
}

// NewHandler creates an API handler over the messaging core.
func NewHandler(cfg *config.Config, st store.Store, jwtManager *auth.JWTManager, registry *ws.Registry, router *ws.Router, notifier *ws.Notifier) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      st,
		jwtManager: jwtManager,
		registry:   registry,
		router:     router,
		notifier:   notifier,
		startTime:  time.Now(),
	}
}

// sanitizeLogValue removes control characters so request-derived values
// cannot forge log entries.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondSuccess wraps data in the standard envelope.
func respondSuccess(w http.ResponseWriter, status int, data interface{}, started time.Time) {
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(started).Milliseconds(),
		},
	})
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// callerClaims extracts the authenticated claims; the Authenticate
// middleware guarantees they are present on data routes.
func callerClaims(r *http.Request) *auth.Claims {
	return auth.ClaimsFromContext(r.Context())
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
