// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package api

import (
	"net/http"
	"time"
)

type healthStatus struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Store       string `json:"store"`
	Connections int    `json:"connections"`
	UsersOnline int    `json:"users_online"`
}

// Health handles GET /api/v1/health: overall status with store
// connectivity and live connection counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	status := healthStatus{
		Status:      "ok",
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Store:       "ok",
		Connections: h.registry.ConnCount(),
		UsersOnline: h.registry.UserCount(),
	}
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status.Status = "degraded"
		status.Store = "unreachable"
		code = http.StatusServiceUnavailable
	}
	respondSuccess(w, code, status, started)
}

// HealthLive handles GET /api/v1/health/live: process liveness only.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ok"}, time.Now())
}

// HealthReady handles GET /api/v1/health/ready: readiness requires a
// reachable store.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if err := h.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "STORE_ERROR", "store unreachable", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, started)
}
