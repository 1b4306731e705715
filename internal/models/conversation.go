// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package models

import "time"

// ConversationSummary is a derived view, not a stored entity: the set
// of messages between the requesting user and exactly one counterpart,
// optionally scoped to a property, reduced to its latest state.
// Computed on demand by the store's grouping query.
type ConversationSummary struct {
	Key             string    `json:"key"`
	CounterpartID   string    `json:"counterpart_id"`
	CounterpartName string    `json:"counterpart_name,omitempty"`
	PropertyID      string    `json:"property_id,omitempty"`
	LastMessageID   string    `json:"last_message_id"`
	LastContent     string    `json:"last_content"`
	LastSenderID    string    `json:"last_sender_id"`
	LastCreatedAt   time.Time `json:"last_created_at"`
	UnreadCount     int       `json:"unread_count"`
}
