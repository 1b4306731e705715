// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package models

import "time"

// Message is a durable chat message exchanged between two users,
// optionally associated with a property listing.
//
// Invariants enforced by the router and the store:
//   - SenderID and ReceiverID are distinct identities
//   - Content is non-empty
//
// Messages are created once and only ever mutated by the mark-read
// operation (Read / ReadAt). The core never deletes them; retention
// is an external policy.
type Message struct {
	// ID is a ULID: lexicographic order matches creation order.
	ID          string     `json:"id"`
	SenderID    string     `json:"sender_id"`
	ReceiverID  string     `json:"receiver_id"`
	PropertyID  string     `json:"property_id,omitempty"`
	Content     string     `json:"content"`
	Attachments []string   `json:"attachments,omitempty"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ConversationKey returns the canonical key for the conversation this
// message belongs to. The key is independent of message direction: both
// participants derive the same key.
func (m *Message) ConversationKey() string {
	return ConversationKey(m.SenderID, m.ReceiverID, m.PropertyID)
}

// Participant reports whether userID is the sender or receiver.
func (m *Message) Participant(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart returns the other participant relative to userID.
// Returns empty string if userID is not a participant.
func (m *Message) Counterpart(userID string) string {
	switch userID {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	default:
		return ""
	}
}

// ConversationKey builds the canonical conversation key for a user pair
// and an optional property scope. The pair is ordered so that both
// sides compute the same key.
func ConversationKey(userA, userB, propertyID string) string {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	if propertyID == "" {
		return lo + ":" + hi
	}
	return lo + ":" + hi + ":" + propertyID
}
