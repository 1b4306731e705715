// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package homewire

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homewire/homewire/internal/api"
	"github.com/homewire/homewire/internal/auth"
	"github.com/homewire/homewire/internal/config"
	"github.com/homewire/homewire/internal/models"
	"github.com/homewire/homewire/internal/store"
	"github.com/homewire/homewire/internal/ws"
)

// serverFixture runs the full server stack against the in-memory store
// so client tests exercise the real admission gate and event router.
type serverFixture struct {
	store    *store.MemoryStore
	jwt      *auth.JWTManager
	registry *ws.Registry
	server   *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8091},
		Security: config.SecurityConfig{
			JWTSecret:       "test-secret-at-least-32-characters-long",
			SessionTimeout:  time.Hour,
			LoginRateLimit:  100,
			LoginRateWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		WebSocket: config.WebSocketConfig{
			HeartbeatInterval: 30 * time.Second,
			WriteWait:         10 * time.Second,
			MaxMessageSize:    64 * 1024,
			SendBuffer:        256,
			TypingTTL:         5 * time.Second,
		},
	}

	st := store.NewMemoryStore()
	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	require.NoError(t, err)

	registry := ws.NewRegistry(cfg.WebSocket.SingleSession)
	router := ws.NewRouter(st, registry, cfg.WebSocket.TypingTTL)
	notifier := ws.NewNotifier(st, registry, router)
	handler := api.NewHandler(cfg, st, jwtManager, registry, router, notifier)
	authMW := auth.NewMiddleware(jwtManager, cfg.Security.LoginRateLimit, cfg.Security.LoginRateWindow)
	t.Cleanup(authMW.Close)

	srv := httptest.NewServer(api.NewRouter(handler, authMW).Setup())
	t.Cleanup(srv.Close)

	return &serverFixture{store: st, jwt: jwtManager, registry: registry, server: srv}
}

func (f *serverFixture) seedUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(context.Background(), &models.User{
		ID:           id,
		Email:        id + "@example.com",
		Name:         "User " + id,
		Role:         models.RoleClient,
		PasswordHash: "x",
	}))
}

func (f *serverFixture) newClient(t *testing.T, userID string, opts Options) *Client {
	t.Helper()
	token, err := f.jwt.GenerateToken(userID, models.RoleClient)
	require.NoError(t, err)

	opts.ServerURL = f.server.URL
	opts.Token = token
	c := New(opts)
	t.Cleanup(c.Disconnect)
	return c
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientConnectAndStateTransitions(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")

	c := f.newClient(t, "alice", Options{})

	states := make(chan State, 16)
	c.OnStateChange(func(s State) { states <- s })

	connect(t, c)
	assert.Equal(t, StateConnecting, <-states)
	assert.Equal(t, StateConnected, <-states)

	// Connect while connected is a no-op.
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return f.registry.Online("alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientConnectRejectedBadToken(t *testing.T) {
	f := newServerFixture(t)

	c := New(Options{ServerURL: f.server.URL, Token: "not-a-token"})
	t.Cleanup(c.Disconnect)

	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	// The upgrade itself succeeds; the server closes with 4003 right
	// after. A 4xxx close means the session was rejected, so the client
	// must not redial with the same credential.
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.registry.ConnCount())

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, StateReconnecting)
}

func TestClientSendMessagePendingToConfirmed(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")

	alice := f.newClient(t, "alice", Options{})
	bob := f.newClient(t, "bob", Options{})
	connect(t, alice)
	connect(t, bob)

	received := make(chan models.Message, 1)
	bob.OnNewMessage(func(m models.Message) { received <- m })

	clientID, err := alice.SendMessage("bob", "prop-9", "is the loft still available?", nil)
	require.NoError(t, err)
	require.NotEmpty(t, clientID)

	o, ok := alice.Outbound(clientID)
	require.True(t, ok)
	assert.Equal(t, SendPending, o.Status)

	require.Eventually(t, func() bool {
		o, ok := alice.Outbound(clientID)
		return ok && o.Status == SendConfirmed && o.ServerID != ""
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case msg := <-received:
		confirmed, _ := alice.Outbound(clientID)
		assert.Equal(t, confirmed.ServerID, msg.ID)
		assert.Equal(t, "alice", msg.SenderID)
		assert.Equal(t, "is the loft still available?", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never got the message")
	}
}

func TestClientSendMessagePersistFailureMarksFailed(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")

	alice := f.newClient(t, "alice", Options{})
	connect(t, alice)

	errs := make(chan models.ErrorPayload, 1)
	alice.OnError(func(p models.ErrorPayload) { errs <- p })

	f.store.FailWrites = true

	clientID, err := alice.SendMessage("bob", "prop-9", "doomed", nil)
	require.NoError(t, err)

	select {
	case p := <-errs:
		assert.Equal(t, "STORE_ERROR", p.Code)
		assert.Equal(t, clientID, p.ClientID)
	case <-time.After(2 * time.Second):
		t.Fatal("sender never got the error event")
	}

	o, ok := alice.Outbound(clientID)
	require.True(t, ok)
	assert.Equal(t, SendFailed, o.Status)
	require.NotNil(t, o.Error)
	assert.Equal(t, "STORE_ERROR", o.Error.Code)
}

func TestClientTypingAndReadReceipts(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")

	alice := f.newClient(t, "alice", Options{})
	bob := f.newClient(t, "bob", Options{})
	connect(t, alice)
	connect(t, bob)

	typing := make(chan models.TypingPayload, 1)
	bob.OnTyping(func(p models.TypingPayload) { typing <- p })
	receipts := make(chan models.ReadReceipt, 1)
	alice.OnReadReceipt(func(r models.ReadReceipt) { receipts <- r })
	received := make(chan models.Message, 1)
	bob.OnNewMessage(func(m models.Message) { received <- m })

	require.NoError(t, alice.Typing("alice:bob", true))
	select {
	case p := <-typing:
		assert.Equal(t, "alice", p.UserID)
		assert.True(t, p.IsTyping)
	case <-time.After(2 * time.Second):
		t.Fatal("no typing indicator")
	}

	_, err := alice.SendMessage("bob", "", "ping me back", nil)
	require.NoError(t, err)
	var msg models.Message
	select {
	case msg = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never got the message")
	}

	require.NoError(t, bob.MarkRead(msg.ID))
	select {
	case r := <-receipts:
		assert.Equal(t, msg.ID, r.MessageID)
		assert.Equal(t, "bob", r.ReaderID)
	case <-time.After(2 * time.Second):
		t.Fatal("no read receipt")
	}
}

func TestClientSubscribeReplaces(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")

	alice := f.newClient(t, "alice", Options{})
	bob := f.newClient(t, "bob", Options{})
	connect(t, alice)
	connect(t, bob)

	stale := make(chan models.Message, 1)
	fresh := make(chan models.Message, 1)
	bob.OnNewMessage(func(m models.Message) { stale <- m })
	bob.OnNewMessage(func(m models.Message) { fresh <- m })

	_, err := alice.SendMessage("bob", "", "only the fresh callback fires", nil)
	require.NoError(t, err)

	select {
	case <-fresh:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement callback never fired")
	}
	select {
	case <-stale:
		t.Fatal("replaced callback still fired")
	default:
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")

	c := f.newClient(t, "alice", Options{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       20 * time.Millisecond,
	})
	connect(t, c)

	// Kill the session server-side with an abnormal close code; the
	// client should treat it as a drop and dial back in.
	f.registry.CloseAll(websocket.CloseTryAgainLater, "restarting")

	require.Eventually(t, func() bool {
		return c.State() == StateConnected && f.registry.Online("alice")
	}, 3*time.Second, 10*time.Millisecond)
}

func TestClientGivesUpAfterBoundedAttempts(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")

	c := f.newClient(t, "alice", Options{
		MaxReconnectAttempts: 2,
		ReconnectDelay:       20 * time.Millisecond,
	})
	connect(t, c)

	// Shut the whole server down so every redial fails.
	f.server.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)

	// Terminal state: sends fail fast.
	_, err := c.SendMessage("bob", "", "anyone there?", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientDisconnectIdempotent(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(t, "alice")

	c := f.newClient(t, "alice", Options{})
	connect(t, c)

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	_, err := c.SendMessage("bob", "", "after disconnect", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.Eventually(t, func() bool {
		return !f.registry.Online("alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientSendBeforeConnect(t *testing.T) {
	c := New(Options{ServerURL: "http://127.0.0.1:1", Token: "t"})
	_, err := c.SendMessage("bob", "", "too early", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}
