// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package models

import "time"

// NotificationCategory is the closed set of notification kinds.
type NotificationCategory string

const (
	NotificationInquiry      NotificationCategory = "inquiry"
	NotificationPropertyView NotificationCategory = "property_view"
	NotificationSystem       NotificationCategory = "system"
	NotificationAlert        NotificationCategory = "alert"
)

// ValidNotificationCategory reports whether c is a known category.
func ValidNotificationCategory(c NotificationCategory) bool {
	switch c {
	case NotificationInquiry, NotificationPropertyView, NotificationSystem, NotificationAlert:
		return true
	default:
		return false
	}
}

// Notification is a durable record informing a user asynchronously.
// Created by any subsystem through the dispatcher; mutated only by
// explicit read actions.
type Notification struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	Text       string               `json:"text"`
	Category   NotificationCategory `json:"category"`
	Read       bool                 `json:"read"`
	PropertyID string               `json:"property_id,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}
