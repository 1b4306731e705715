// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/metrics"
	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
)

// Validation and authorization failures surfaced by router operations.
// The WS path maps them to error events, the REST path to 4xx statuses.
var (
	ErrEmptyContent    = errors.New("message content must not be empty")
	ErrSelfMessage     = errors.New("sender and receiver must be distinct")
	ErrUnknownReceiver = errors.New("receiver does not exist")
	ErrNotReceiver     = errors.New("only the receiver may mark a message read")
	ErrNotParticipant  = errors.New("caller is not a participant in the conversation")
)

// DeliveryResult reports the outcome of a fan-out. Targets counts the
// receiver's live connections at fan-out time; Delivered is true when
// at least one accepted the event. An offline receiver yields
// {false, 0}, which is success: the durable record is the source of
// truth and delivery is best-effort.
type DeliveryResult struct {
	Delivered bool
	Targets   int
}

// Router dispatches inbound WebSocket events, persists messages and
// fans out deliveries to the registry. It is shared by every
// connection's read pump and by the REST message endpoint.
type Router struct {
	store    store.Store
	registry *Registry

	typingTTL time.Duration
	mu        sync.Mutex
	typing    map[string]*typingState
}

// typingState tracks an active typing indicator for one user in one
// conversation. Last write wins: each update resets the expiry timer.
type typingState struct {
	timer *time.Timer
}

// NewRouter creates a router over the given store and registry.
func NewRouter(st store.Store, registry *Registry, typingTTL time.Duration) *Router {
	if typingTTL <= 0 {
		typingTTL = 5 * time.Second
	}
	return &Router{
		store:     st,
		registry:  registry,
		typingTTL: typingTTL,
		typing:    make(map[string]*typingState),
	}
}

// HandleEvent dispatches one inbound event from a connection.
// Unknown event types get an error event back; nothing else happens.
func (r *Router) HandleEvent(ctx context.Context, c *Conn, ev models.Event) {
	switch ev.Type {
	case models.EventSendMessage:
		r.handleSendMessage(ctx, c, ev.Data)
	case models.EventTyping:
		r.handleTyping(c, ev.Data)
	case models.EventMarkRead:
		r.handleMarkRead(ctx, c, ev.Data)
	case models.EventHeartbeat:
		c.MarkAlive()
	case models.EventPing:
		c.MarkAlive()
		c.Send(models.Event{Type: models.EventPong})
	default:
		logging.Debug().Str("type", ev.Type).Uint64("conn_id", c.ID()).Msg("unknown websocket event type")
		c.SendError("VALIDATION_ERROR", fmt.Sprintf("unknown event type %q", ev.Type))
	}
}

func (r *Router) handleSendMessage(ctx context.Context, c *Conn, data json.RawMessage) {
	var p models.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.SendError("VALIDATION_ERROR", "malformed send_message payload")
		return
	}

	msg, _, err := r.SendMessage(ctx, c.UserID(), p)
	if err != nil {
		// Echo the client id so the sender can fail its pending copy.
		ev, evErr := models.NewEvent(models.EventError, models.ErrorPayload{
			Code:     errorCode(err),
			Message:  err.Error(),
			ClientID: p.ClientID,
		})
		if evErr == nil {
			c.Send(ev)
		}
		return
	}

	// Ack to the sender only; the receiver got new_message. ClientID
	// lets the sender reconcile its optimistic pending copy.
	ack, err := models.NewEvent(models.EventMessageSent, models.MessageSentAck{
		ID:        msg.ID,
		ClientID:  p.ClientID,
		CreatedAt: msg.CreatedAt,
	})
	if err == nil {
		c.Send(ack)
	}
}

// SendMessage validates, persists and fans out one message. Persistence
// strictly precedes broadcast: a message that was fanned out is always
// durable. The returned DeliveryResult describes the receiver-side
// fan-out only.
func (r *Router) SendMessage(ctx context.Context, senderID string, p models.SendMessagePayload) (*models.Message, DeliveryResult, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, DeliveryResult{}, ErrEmptyContent
	}
	if p.ReceiverID == senderID {
		return nil, DeliveryResult{}, ErrSelfMessage
	}
	if _, err := r.store.GetUserByID(ctx, p.ReceiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, DeliveryResult{}, ErrUnknownReceiver
		}
		return nil, DeliveryResult{}, err
	}

	msg := &models.Message{
		SenderID:    senderID,
		ReceiverID:  p.ReceiverID,
		PropertyID:  p.PropertyID,
		Content:     p.Content,
		Attachments: p.Attachments,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, DeliveryResult{}, fmt.Errorf("persist message: %w", err)
	}

	ev, err := models.NewEvent(models.EventNewMessage, msg)
	if err != nil {
		return nil, DeliveryResult{}, err
	}
	result := r.fanOut(p.ReceiverID, ev)

	logging.Debug().
		Str("message_id", msg.ID).
		Str("sender_id", senderID).
		Str("receiver_id", p.ReceiverID).
		Int("targets", result.Targets).
		Bool("delivered", result.Delivered).
		Msg("message routed")
	return msg, result, nil
}

func (r *Router) handleMarkRead(ctx context.Context, c *Conn, data json.RawMessage) {
	var p models.MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.SendError("VALIDATION_ERROR", "malformed mark_read payload")
		return
	}
	if _, _, err := r.MarkRead(ctx, c.UserID(), p.MessageID); err != nil {
		c.SendError(errorCode(err), err.Error())
	}
}

// MarkRead marks a message read on behalf of readerID, who must be the
// message's receiver, and sends a read receipt to the original sender.
func (r *Router) MarkRead(ctx context.Context, readerID, messageID string) (*models.Message, DeliveryResult, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, DeliveryResult{}, err
	}
	if msg.ReceiverID != readerID {
		return nil, DeliveryResult{}, ErrNotReceiver
	}

	readAt := time.Now().UTC()
	if err := r.store.MarkMessageRead(ctx, messageID, readAt); err != nil {
		return nil, DeliveryResult{}, fmt.Errorf("mark message read: %w", err)
	}
	msg.Read = true
	msg.ReadAt = &readAt

	ev, err := models.NewEvent(models.EventMessageRead, models.ReadReceipt{
		MessageID:       msg.ID,
		ConversationKey: msg.ConversationKey(),
		ReaderID:        readerID,
		ReadAt:          readAt,
	})
	if err != nil {
		return msg, DeliveryResult{}, err
	}
	result := r.fanOut(msg.SenderID, ev)
	return msg, result, nil
}

func (r *Router) handleTyping(c *Conn, data json.RawMessage) {
	var p models.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.SendError("VALIDATION_ERROR", "malformed typing payload")
		return
	}

	counterpart, err := counterpartFromKey(p.ConversationKey, c.UserID())
	if err != nil {
		c.SendError("AUTHORIZATION_ERROR", err.Error())
		return
	}
	r.setTyping(c.UserID(), counterpart, p.ConversationKey, p.IsTyping)
}

// setTyping broadcasts the typing state to the counterpart and arms or
// disarms the TTL expiry. Indicators are never persisted.
func (r *Router) setTyping(userID, counterpart, conversationKey string, isTyping bool) {
	key := conversationKey + "|" + userID

	r.mu.Lock()
	if state, ok := r.typing[key]; ok {
		state.timer.Stop()
		delete(r.typing, key)
	}
	if isTyping {
		state := &typingState{}
		state.timer = time.AfterFunc(r.typingTTL, func() {
			r.expireTyping(key, userID, counterpart, conversationKey)
		})
		r.typing[key] = state
	}
	r.mu.Unlock()

	r.broadcastTyping(userID, counterpart, conversationKey, isTyping)
}

// expireTyping clears an indicator whose TTL lapsed without an explicit
// stop from the client.
func (r *Router) expireTyping(key, userID, counterpart, conversationKey string) {
	r.mu.Lock()
	_, ok := r.typing[key]
	if ok {
		delete(r.typing, key)
	}
	r.mu.Unlock()

	if ok {
		r.broadcastTyping(userID, counterpart, conversationKey, false)
	}
}

func (r *Router) broadcastTyping(userID, counterpart, conversationKey string, isTyping bool) {
	ev, err := models.NewEvent(models.EventUserTyping, models.TypingPayload{
		ConversationKey: conversationKey,
		UserID:          userID,
		IsTyping:        isTyping,
	})
	if err != nil {
		return
	}
	r.fanOut(counterpart, ev)
}

// fanOut delivers an event to every live connection of one user.
// Stale connections are logged and skipped, never retried: the durable
// record in the store is the source of truth.
func (r *Router) fanOut(userID string, ev models.Event) DeliveryResult {
	conns := r.registry.ConnectionsFor(userID)
	delivered := 0
	for _, c := range conns {
		if c.Send(ev) {
			delivered++
			continue
		}
		metrics.WSDeliveryFailures.Inc()
		logging.Warn().
			Str("user_id", userID).
			Uint64("conn_id", c.ID()).
			Str("type", ev.Type).
			Msg("dropping event for stale connection")
	}
	return DeliveryResult{Delivered: delivered > 0, Targets: len(conns)}
}

// counterpartFromKey resolves the other participant from a canonical
// conversation key, verifying the caller is one of the pair.
func counterpartFromKey(key, userID string) (string, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed conversation key %q", key)
	}
	switch userID {
	case parts[0]:
		return parts[1], nil
	case parts[1]:
		return parts[0], nil
	default:
		return "", ErrNotParticipant
	}
}

// errorCode maps a router failure to its wire error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrSelfMessage),
		errors.Is(err, ErrUnknownReceiver),
		errors.Is(err, store.ErrNotFound):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotReceiver), errors.Is(err, ErrNotParticipant):
		return "AUTHORIZATION_ERROR"
	default:
		return "STORE_ERROR"
	}
}
