// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
	"github.com/homewire/homewire/internal/validation"
	"github.com/homewire/homewire/internal/ws"
)

// Conversations handles GET /api/v1/conversations: the caller's
// conversation summaries, most recent first.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	claims := callerClaims(r)

	convs, err := h.store.Conversations(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load conversations", err)
		return
	}
	respondSuccess(w, http.StatusOK, convs, started)
}

// ConversationMessages handles GET /api/v1/conversations/{key}/messages:
// paginated history for a conversation the caller participates in.
func (h *Handler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	claims := callerClaims(r)
	key := chi.URLParam(r, "key")

	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("malformed conversation key %q", key), nil)
		return
	}
	if claims.UserID != parts[0] && claims.UserID != parts[1] {
		respondError(w, http.StatusForbidden, "AUTHORIZATION_ERROR", "caller is not a participant in this conversation", nil)
		return
	}
	propertyID := ""
	if len(parts) == 3 {
		propertyID = parts[2]
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	msgs, err := h.store.MessagesBetween(r.Context(), parts[0], parts[1], propertyID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load messages", err)
		return
	}
	respondSuccess(w, http.StatusOK, msgs, started)
}

// SendMessage handles POST /api/v1/messages. It runs the same
// persist-then-fanout path as the WebSocket router, so collaborators
// without a live connection still trigger real-time delivery. When the
// receiver is fully offline a durable inquiry notification is raised
// instead.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	claims := callerClaims(r)

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error: &models.APIError{
				Code:    apiErr.Code,
				Message: apiErr.Message,
				Details: apiErr.Details,
			},
		})
		return
	}

	msg, result, err := h.router.SendMessage(r.Context(), claims.UserID, models.SendMessagePayload{
		ReceiverID:  req.ReceiverID,
		PropertyID:  req.PropertyID,
		Content:     req.Content,
		Attachments: req.Attachments,
	})
	if err != nil {
		status, code := sendMessageFailure(err)
		respondError(w, status, code, err.Error(), err)
		return
	}

	if result.Targets == 0 {
		h.notifyOfflineReceiver(r, claims.UserID, msg)
	}

	respondSuccess(w, http.StatusCreated, msg, started)
}

// notifyOfflineReceiver raises a durable inquiry notification for a
// receiver with no live connections. Best-effort: the message itself is
// already persisted.
func (h *Handler) notifyOfflineReceiver(r *http.Request, senderID string, msg *models.Message) {
	text := "You have a new message"
	if sender, err := h.store.GetUserByID(r.Context(), senderID); err == nil && sender.Name != "" {
		text = fmt.Sprintf("New message from %s", sender.Name)
	}
	if _, _, err := h.notifier.Notify(r.Context(), msg.ReceiverID, text, models.NotificationInquiry, msg.PropertyID); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to notify offline receiver")
	}
}

// sendMessageFailure maps a router error to HTTP status and wire code.
func sendMessageFailure(err error) (int, string) {
	switch {
	case errors.Is(err, ws.ErrEmptyContent),
		errors.Is(err, ws.ErrSelfMessage),
		errors.Is(err, ws.ErrUnknownReceiver):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "STORE_ERROR"
	}
}
