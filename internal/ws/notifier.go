// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package ws

import (
	"context"
	"fmt"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/metrics"
	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
)

// Notifier persists notifications and pushes them to the target user's
// live connections. Persistence is synchronous and mandatory; push is
// best-effort. An offline target is success: the record waits in the
// store. No deduplication is performed.
type Notifier struct {
	store    store.Store
	registry *Registry
	router   *Router
}

// NewNotifier creates a notification dispatcher.
func NewNotifier(st store.Store, registry *Registry, router *Router) *Notifier {
	return &Notifier{store: st, registry: registry, router: router}
}

// Notify creates a notification for userID and fans it out.
func (n *Notifier) Notify(ctx context.Context, userID, text string, category models.NotificationCategory, propertyID string) (*models.Notification, DeliveryResult, error) {
	record := &models.Notification{
		UserID:     userID,
		Text:       text,
		Category:   category,
		PropertyID: propertyID,
	}
	if err := n.store.CreateNotification(ctx, record); err != nil {
		return nil, DeliveryResult{}, fmt.Errorf("persist notification: %w", err)
	}
	metrics.NotificationsDispatched.WithLabelValues(string(category)).Inc()

	ev, err := models.NewEvent(models.EventNotification, record)
	if err != nil {
		return record, DeliveryResult{}, err
	}
	result := n.router.fanOut(userID, ev)

	logging.Debug().
		Str("notification_id", record.ID).
		Str("user_id", userID).
		Str("category", string(category)).
		Int("targets", result.Targets).
		Msg("notification dispatched")
	return record, result, nil
}
