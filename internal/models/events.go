// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Event types for the bidirectional JSON-framed WebSocket protocol.
// Every frame carries a "type" discriminator and an optional "data"
// payload whose shape depends on the type.
const (
	// Server -> client
	EventConnection   = "connection"   // admission ack, carries the authenticated user id
	EventNewMessage   = "new_message"  // fan-out of a persisted message to the receiver
	EventMessageSent  = "message_sent" // persistence ack to the sender (confirms a pending send)
	EventMessageRead  = "message_read" // read receipt to the original sender
	EventUserTyping   = "user_typing"  // counterpart typing state
	EventNotification = "notification" // pushed notification record
	EventError        = "error"        // validation or persistence failure, to the origin only
	EventPong         = "pong"

	// Client -> server
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
	EventHeartbeat   = "heartbeat" // application-level liveness ack
	EventPing        = "ping"
)

// WebSocket close codes in the private 4000-4099 range, sent before a
// connection is rejected or evicted.
const (
	CloseNoCredential      = 4001 // no token presented at upgrade time
	CloseInvalidCredential = 4003 // signature invalid or expired
	CloseUnknownUser       = 4004 // token verified but user no longer exists
	CloseSessionTakeover   = 4005 // evicted by a newer connection (single-session policy)
)

// Event is one WebSocket frame.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event of the given type.
func NewEvent(eventType string, data interface{}) (Event, error) {
	if data == nil {
		return Event{Type: eventType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

// ConnectionAck is the data payload of a "connection" event.
type ConnectionAck struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// SendMessagePayload is the data payload of a client "send_message" event.
// ClientID is an optional client-generated temporary id echoed back in the
// "message_sent" ack so the client can reconcile its optimistic copy.
type SendMessagePayload struct {
	ReceiverID  string   `json:"receiver_id"`
	PropertyID  string   `json:"property_id,omitempty"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
}

// MessageSentAck is the data payload of a "message_sent" event.
type MessageSentAck struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TypingPayload is the data payload of "typing" (client) and
// "user_typing" (server) events.
type TypingPayload struct {
	ConversationKey string `json:"conversation_key"`
	UserID          string `json:"user_id,omitempty"`
	IsTyping        bool   `json:"is_typing"`
}

// MarkReadPayload is the data payload of a client "mark_read" event.
type MarkReadPayload struct {
	MessageID string `json:"message_id"`
}

// ReadReceipt is the data payload of a "message_read" event.
type ReadReceipt struct {
	MessageID       string    `json:"message_id"`
	ConversationKey string    `json:"conversation_key"`
	ReaderID        string    `json:"reader_id"`
	ReadAt          time.Time `json:"read_at"`
}

// ErrorPayload is the data payload of an "error" event. Code mirrors the
// REST error codes (VALIDATION_ERROR, AUTHORIZATION_ERROR, STORE_ERROR).
// ClientID echoes the temporary id of a failed send_message so the
// sender can reconcile its optimistic pending copy.
type ErrorPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}
