// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package ws

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
)

type routerFixture struct {
	store    *store.MemoryStore
	registry *Registry
	router   *Router
}

func newRouterFixture(t *testing.T, users ...string) *routerFixture {
	t.Helper()
	st := store.NewMemoryStore()
	for _, id := range users {
		require.NoError(t, st.CreateUser(context.Background(), &models.User{
			ID:           id,
			Email:        id + "@example.com",
			Name:         "User " + id,
			Role:         models.RoleClient,
			PasswordHash: "x",
		}))
	}
	registry := NewRegistry(false)
	return &routerFixture{
		store:    st,
		registry: registry,
		router:   NewRouter(st, registry, 50*time.Millisecond),
	}
}

func (f *routerFixture) connect(userID string) *Conn {
	c := testConn(userID)
	f.registry.Register(c)
	return c
}

// nextEvent pops one event off a connection's send buffer, failing the
// test if none arrives.
func nextEvent(t *testing.T, c *Conn) models.Event {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event on send buffer")
		return models.Event{}
	}
}

func decodeEvent[T any](t *testing.T, ev models.Event) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	return out
}

func rawEvent(t *testing.T, eventType string, data interface{}) models.Event {
	t.Helper()
	ev, err := models.NewEvent(eventType, data)
	require.NoError(t, err)
	return ev
}

func TestSendMessagePersistsBeforeBroadcast(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	ctx := context.Background()
	receiver := f.connect("bob")

	msg, result, err := f.router.SendMessage(ctx, "alice", models.SendMessagePayload{
		ReceiverID: "bob",
		Content:    "hello",
	})
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, 1, result.Targets)

	// The fanned-out event carries the persisted record: same id,
	// already durable in the store.
	ev := nextEvent(t, receiver)
	require.Equal(t, models.EventNewMessage, ev.Type)
	delivered := decodeEvent[models.Message](t, ev)
	assert.Equal(t, msg.ID, delivered.ID)

	stored, err := f.store.GetMessage(ctx, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
}

func TestSendMessageOfflineReceiverIsSuccess(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")

	msg, result, err := f.router.SendMessage(context.Background(), "alice", models.SendMessagePayload{
		ReceiverID: "bob",
		Content:    "are you there?",
	})
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Equal(t, 0, result.Targets)

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "are you there?", stored.Content)
}

func TestSendMessageValidation(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	ctx := context.Background()

	_, _, err := f.router.SendMessage(ctx, "alice", models.SendMessagePayload{ReceiverID: "bob", Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, _, err = f.router.SendMessage(ctx, "alice", models.SendMessagePayload{ReceiverID: "alice", Content: "hi"})
	assert.ErrorIs(t, err, ErrSelfMessage)

	_, _, err = f.router.SendMessage(ctx, "alice", models.SendMessagePayload{ReceiverID: "ghost", Content: "hi"})
	assert.ErrorIs(t, err, ErrUnknownReceiver)
}

func TestSendMessagePersistenceFailureNoBroadcast(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	receiver := f.connect("bob")

	f.store.FailWrites = true
	_, _, err := f.router.SendMessage(context.Background(), "alice", models.SendMessagePayload{
		ReceiverID: "bob",
		Content:    "doomed",
	})
	require.Error(t, err)
	assert.Empty(t, drainEvents(receiver), "nothing may be broadcast when persistence fails")
}

func TestSendMessagePersistenceFailureEchoesClientID(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	sender := f.connect("alice")

	f.store.FailWrites = true
	f.router.HandleEvent(context.Background(), sender, rawEvent(t, models.EventSendMessage, models.SendMessagePayload{
		ReceiverID: "bob",
		Content:    "doomed",
		ClientID:   "tmp-42",
	}))

	ev := nextEvent(t, sender)
	require.Equal(t, models.EventError, ev.Type)
	payload := decodeEvent[models.ErrorPayload](t, ev)
	assert.Equal(t, "STORE_ERROR", payload.Code)
	assert.Equal(t, "tmp-42", payload.ClientID, "the sender needs the client id to fail its local copy")
}

func TestSendMessageTwoTabsExactlyOncePerConnection(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	tab1 := f.connect("bob")
	tab2 := f.connect("bob")

	_, result, err := f.router.SendMessage(context.Background(), "alice", models.SendMessagePayload{
		ReceiverID: "bob",
		Content:    "open house at noon",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Targets)
	assert.True(t, result.Delivered)

	for _, tab := range []*Conn{tab1, tab2} {
		types := drainEvents(tab)
		count := 0
		for _, typ := range types {
			if typ == models.EventNewMessage {
				count++
			}
		}
		assert.Equal(t, 1, count, "each connection receives the event exactly once")
	}
}

func TestHandleSendMessageAcksSenderWithClientID(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	sender := f.connect("alice")
	receiver := f.connect("bob")

	f.router.HandleEvent(context.Background(), sender, rawEvent(t, models.EventSendMessage, models.SendMessagePayload{
		ReceiverID: "bob",
		Content:    "hello",
		ClientID:   "tmp-42",
	}))

	ev := nextEvent(t, sender)
	require.Equal(t, models.EventMessageSent, ev.Type)
	ack := decodeEvent[models.MessageSentAck](t, ev)
	assert.Equal(t, "tmp-42", ack.ClientID)
	assert.NotEmpty(t, ack.ID)

	// The sender never receives a new_message echo of its own send.
	assert.Empty(t, drainEvents(sender))

	ev = nextEvent(t, receiver)
	assert.Equal(t, models.EventNewMessage, ev.Type)
}

func TestMarkReadReceiverOnly(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob", "mallory")
	ctx := context.Background()

	msg, _, err := f.router.SendMessage(ctx, "alice", models.SendMessagePayload{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	// Neither the sender nor a third party may mark it read.
	_, _, err = f.router.MarkRead(ctx, "alice", msg.ID)
	assert.ErrorIs(t, err, ErrNotReceiver)
	_, _, err = f.router.MarkRead(ctx, "mallory", msg.ID)
	assert.ErrorIs(t, err, ErrNotReceiver)

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Read, "rejected mark_read must not mutate the message")

	_, _, err = f.router.MarkRead(ctx, "bob", msg.ID)
	require.NoError(t, err)
	stored, err = f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Read)
	require.NotNil(t, stored.ReadAt)
}

func TestMarkReadSendsReceiptToSender(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	ctx := context.Background()
	sender := f.connect("alice")

	msg, _, err := f.router.SendMessage(ctx, "alice", models.SendMessagePayload{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	_, result, err := f.router.MarkRead(ctx, "bob", msg.ID)
	require.NoError(t, err)
	assert.True(t, result.Delivered)

	ev := nextEvent(t, sender)
	require.Equal(t, models.EventMessageRead, ev.Type)
	receipt := decodeEvent[models.ReadReceipt](t, ev)
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, "bob", receipt.ReaderID)
	assert.Equal(t, msg.ConversationKey(), receipt.ConversationKey)
}

func TestMarkReadUnknownMessage(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	_, _, err := f.router.MarkRead(context.Background(), "bob", "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTypingFanOutToCounterpartOnly(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	sender := f.connect("alice")
	counterpart := f.connect("bob")
	key := models.ConversationKey("alice", "bob", "")

	f.router.HandleEvent(context.Background(), sender, rawEvent(t, models.EventTyping, models.TypingPayload{
		ConversationKey: key,
		IsTyping:        true,
	}))

	ev := nextEvent(t, counterpart)
	require.Equal(t, models.EventUserTyping, ev.Type)
	payload := decodeEvent[models.TypingPayload](t, ev)
	assert.Equal(t, "alice", payload.UserID)
	assert.True(t, payload.IsTyping)

	assert.Empty(t, drainEvents(sender), "typing must not echo to the origin")
}

func TestTypingRejectsNonParticipant(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob", "mallory")
	intruder := f.connect("mallory")
	key := models.ConversationKey("alice", "bob", "")

	f.router.HandleEvent(context.Background(), intruder, rawEvent(t, models.EventTyping, models.TypingPayload{
		ConversationKey: key,
		IsTyping:        true,
	}))

	ev := nextEvent(t, intruder)
	require.Equal(t, models.EventError, ev.Type)
	payload := decodeEvent[models.ErrorPayload](t, ev)
	assert.Equal(t, "AUTHORIZATION_ERROR", payload.Code)
}

func TestTypingLastWriteWinsAndExpires(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	counterpart := f.connect("bob")
	key := models.ConversationKey("alice", "bob", "")

	f.router.setTyping("alice", "bob", key, true)
	f.router.setTyping("alice", "bob", key, false)

	first := decodeEvent[models.TypingPayload](t, nextEvent(t, counterpart))
	second := decodeEvent[models.TypingPayload](t, nextEvent(t, counterpart))
	assert.True(t, first.IsTyping)
	assert.False(t, second.IsTyping, "explicit stop overrides the earlier start")

	// An uncleared indicator expires on its own after the TTL.
	f.router.setTyping("alice", "bob", key, true)
	nextEvent(t, counterpart)

	require.Eventually(t, func() bool {
		select {
		case ev := <-counterpart.send:
			return ev.Type == models.EventUserTyping && !decodeEvent[models.TypingPayload](t, ev).IsTyping
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "typing indicator must auto-expire")
}

func TestTypingExplicitStopCancelsExpiry(t *testing.T) {
	f := newRouterFixture(t, "alice", "bob")
	counterpart := f.connect("bob")
	key := models.ConversationKey("alice", "bob", "")

	f.router.setTyping("alice", "bob", key, true)
	f.router.setTyping("alice", "bob", key, false)
	drainEvents(counterpart)

	// Past the TTL, no stale expiry broadcast may appear.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, drainEvents(counterpart))
}

func TestHandleEventUnknownType(t *testing.T) {
	f := newRouterFixture(t, "alice")
	c := f.connect("alice")

	f.router.HandleEvent(context.Background(), c, models.Event{Type: "bogus"})

	ev := nextEvent(t, c)
	require.Equal(t, models.EventError, ev.Type)
	payload := decodeEvent[models.ErrorPayload](t, ev)
	assert.Equal(t, "VALIDATION_ERROR", payload.Code)
}

func TestHandleEventPing(t *testing.T) {
	f := newRouterFixture(t, "alice")
	c := f.connect("alice")
	c.ClearAlive()

	f.router.HandleEvent(context.Background(), c, models.Event{Type: models.EventPing})

	assert.True(t, c.Alive())
	ev := nextEvent(t, c)
	assert.Equal(t, models.EventPong, ev.Type)
}

func TestCounterpartFromKey(t *testing.T) {
	key := models.ConversationKey("bob", "alice", "prop-9")

	got, err := counterpartFromKey(key, "alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", got)

	got, err = counterpartFromKey(key, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	_, err = counterpartFromKey(key, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = counterpartFromKey("justone", "justone")
	assert.Error(t, err)
}
