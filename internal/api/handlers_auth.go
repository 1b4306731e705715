// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
)

// Login handles POST /api/v1/auth/login. Verifies the bcrypt-hashed
// password and issues a signed token. Unknown email and wrong password
// produce the same response so the endpoint cannot be used to probe
// for accounts.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", err)
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid email or password", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "login failed", err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		logging.Warn().Str("email", sanitizeLogValue(req.Email)).Msg("Failed login attempt")
		respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid email or password", nil)
		return
	}

	token, err := h.jwtManager.GenerateToken(user.ID, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "token generation failed", err)
		return
	}

	logging.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("User logged in")
	respondSuccess(w, http.StatusOK, models.LoginResponse{
		Token:     token,
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: time.Now().Add(h.cfg.Security.SessionTimeout),
	}, started)
}
