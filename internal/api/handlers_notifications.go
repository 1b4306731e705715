// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homewire/homewire/internal/store"
)

// Notifications handles GET /api/v1/notifications. Supports
// ?unread=true plus limit/offset pagination; newest first.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	claims := callerClaims(r)

	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	ns, err := h.store.Notifications(r.Context(), claims.UserID, unreadOnly, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load notifications", err)
		return
	}
	respondSuccess(w, http.StatusOK, ns, started)
}

// MarkNotificationRead handles PUT /api/v1/notifications/{id}/read.
// Ownership is enforced by the store: a foreign id reads as not found.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	claims := callerClaims(r)
	id := chi.URLParam(r, "id")

	if err := h.store.MarkNotificationRead(r.Context(), id, claims.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "notification not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to mark notification read", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"id": id}, started)
}

// MarkAllNotificationsRead handles PUT /api/v1/notifications/read-all.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	claims := callerClaims(r)

	updated, err := h.store.MarkAllNotificationsRead(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to mark notifications read", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]int64{"updated": updated}, started)
}

// DeleteNotification handles DELETE /api/v1/notifications/{id}.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	claims := callerClaims(r)
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteNotification(r.Context(), id, claims.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "notification not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to delete notification", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"id": id}, started)
}
