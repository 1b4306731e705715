// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homewire/homewire/internal/auth"
	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/metrics"
	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
	"github.com/homewire/homewire/internal/ws"
)

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout against slow clients.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates connection origins against the
// configured CORS list. Non-browser clients omit the Origin header and
// are allowed; they still face the token gate.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.cfg == nil {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket handles GET /ws: upgrade followed by the admission gate.
//
// Close codes are only deliverable after a successful upgrade, so the
// connection is always upgraded first and rejected over the wire:
// 4001 no credential, 4003 invalid or expired credential, 4004 token
// verified but user gone. Nothing is registered before the gate passes.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	token := auth.TokenFromRequest(r)
	if token == "" {
		rejectConn(conn, models.CloseNoCredential, "authentication required", "no_credential")
		return
	}

	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		rejectConn(conn, models.CloseInvalidCredential, "invalid or expired credential", "invalid_credential")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rejectConn(conn, models.CloseUnknownUser, "unknown user", "unknown_user")
			return
		}
		rejectConn(conn, websocket.CloseInternalServerErr, "admission check failed", "store_error")
		return
	}

	c := ws.NewConn(conn, user.ID, user.Role, ws.ConnOptions{
		WriteWait:      h.cfg.WebSocket.WriteWait,
		MaxMessageSize: h.cfg.WebSocket.MaxMessageSize,
		SendBuffer:     h.cfg.WebSocket.SendBuffer,
	})

	ack, err := models.NewEvent(models.EventConnection, models.ConnectionAck{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err == nil {
		c.Send(ack)
	}

	h.registry.Register(c)
	c.Start(context.Background(), h.router)

	// The read pump closes the connection on disconnect; reap the
	// registry entry when that happens.
	go func() {
		<-c.Done()
		h.registry.Unregister(c)
	}()
}

// rejectConn completes an upgrade only to close it with an admission
// close code. Browsers surface the code to the client facade.
func rejectConn(conn *websocket.Conn, code int, reason, metricLabel string) {
	metrics.WSAdmissionRejections.WithLabelValues(metricLabel).Inc()
	logging.Warn().Int("close_code", code).Str("reason", reason).Msg("WebSocket connection rejected")

	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logging.Debug().Err(err).Msg("failed to write rejection close frame")
	}
	_ = conn.Close()
}
