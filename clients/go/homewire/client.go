// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package homewire is the Go client facade for the Homewire realtime
// server. It maintains one logical WebSocket connection per Client,
// reconnects automatically on unexpected drops with a bounded number of
// attempts, and dispatches server events to registered callbacks.
//
// Subscription semantics: at most one callback per event category per
// Client; registering again replaces the previous callback rather than
// stacking. Disconnect tears all of them down.
//
// Outbound messages follow a pending/confirmed lifecycle: SendMessage
// returns a client-generated temporary id immediately, and the entry is
// reconciled to the server-assigned message id when the message_sent
// ack arrives.
package homewire

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/models"
)

// State is the connection lifecycle state of a Client.
//
// Transitions: Disconnected -> Connecting -> Connected, then either
// Disconnected (clean close or explicit Disconnect) or Reconnecting
// (unexpected drop). Reconnecting returns to Connected on success or
// settles at Disconnected once the attempt budget is exhausted.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SendStatus is the lifecycle state of an optimistic outbound message.
type SendStatus int

const (
	// SendPending means the message left the client but the server has
	// not acknowledged persistence yet.
	SendPending SendStatus = iota
	// SendConfirmed means the server persisted the message and returned
	// its durable id.
	SendConfirmed
	// SendFailed means the server rejected the message; Error on the
	// Outbound record carries the server's error payload.
	SendFailed
)

// Outbound is the client-side record of one sent message.
type Outbound struct {
	ClientID  string
	ServerID  string
	Status    SendStatus
	CreatedAt time.Time

	// Error holds the server's rejection when Status is SendFailed.
	Error *models.ErrorPayload
}

// Options configures a Client.
type Options struct {
	// ServerURL is the HTTP base URL of the Homewire server
	// (e.g. "http://localhost:8744"). The facade derives the WebSocket
	// endpoint from it.
	ServerURL string

	// Token is the bearer credential attached to the upgrade request.
	Token string

	// MaxReconnectAttempts bounds automatic reconnection after an
	// unexpected drop. Once exhausted the Client settles at
	// StateDisconnected. Default 5.
	MaxReconnectAttempts int

	// ReconnectDelay is the fixed wait between attempts. Default 3s.
	ReconnectDelay time.Duration

	HandshakeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	return o
}

// ErrNotConnected is returned by send operations while the Client has
// no live connection.
var ErrNotConnected = errors.New("homewire: not connected")

// Client is a thread-safe facade over one logical server connection.
// The zero value is not usable; construct with New.
type Client struct {
	opts Options

	connMu  sync.RWMutex
	conn    *websocket.Conn
	running bool
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup

	writeMu sync.Mutex

	state atomic.Int32

	callbackMu     sync.RWMutex
	onNewMessage   func(models.Message)
	onNotification func(models.Notification)
	onTyping       func(models.TypingPayload)
	onReadReceipt  func(models.ReadReceipt)
	onError        func(models.ErrorPayload)
	onStateChange  func(State)

	pendingMu sync.Mutex
	pending   map[string]*Outbound
	clientSeq atomic.Uint64
}

// New creates a Client. It does not connect; call Connect.
func New(opts Options) *Client {
	return &Client{
		opts:    opts.withDefaults(),
		stop:    make(chan struct{}),
		pending: make(map[string]*Outbound),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect establishes the WebSocket connection and starts the listener.
// Calling Connect while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.running {
		// Already connected, or the listener is mid-reconnect.
		c.connMu.Unlock()
		return nil
	}
	if c.stopped {
		// Reusing a Client after Disconnect starts a fresh lifecycle.
		c.stopped = false
		c.stop = make(chan struct{})
	}
	c.running = true
	c.connMu.Unlock()

	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.connMu.Lock()
		c.running = false
		c.connMu.Unlock()
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.listen(ctx)
	return nil
}

// dial opens the socket and installs it on the client.
func (c *Client) dial(ctx context.Context) error {
	wsURL, err := c.buildWebSocketURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// buildWebSocketURL derives ws(s)://host/ws?token=... from ServerURL.
func (c *Client) buildWebSocketURL() (string, error) {
	parsed, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	scheme := "ws"
	if parsed.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: parsed.Host, Path: "/ws"}
	q := u.Query()
	q.Set("token", c.opts.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listen reads frames until the connection closes cleanly, the Client
// is stopped, or the reconnect budget runs out.
func (c *Client) listen(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.connMu.Lock()
		c.running = false
		c.connMu.Unlock()
	}()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			c.closeConnection(websocket.CloseNormalClosure)
			c.setState(StateDisconnected)
			return
		case <-c.stop:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			if attempts >= c.opts.MaxReconnectAttempts {
				logging.Warn().Int("attempts", attempts).Msg("homewire client giving up on reconnection")
				c.setState(StateDisconnected)
				return
			}
			c.setState(StateReconnecting)
			select {
			case <-time.After(c.opts.ReconnectDelay):
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return
			case <-c.stop:
				return
			}
			attempts++
			if err := c.dial(ctx); err != nil {
				logging.Warn().Err(err).Int("attempt", attempts).Msg("homewire client reconnection failed")
				continue
			}
			c.setState(StateConnected)
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if isTerminalClose(err) {
				logging.Debug().Err(err).Msg("homewire client connection ended by server")
				c.closeConnection(websocket.CloseNormalClosure)
				c.setState(StateDisconnected)
				return
			}
			select {
			case <-c.stop:
				return
			default:
			}
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			// Unexpected drop: clear the connection and let the loop
			// reconnect.
			c.closeConnection(websocket.CloseAbnormalClosure)
			continue
		}

		attempts = 0
		c.handleFrame(raw)
	}
}

// isTerminalClose reports whether a read error represents a close the
// facade must not redial past: a clean close, or an admission or
// policy close in the server's private 4000-4099 range. Retrying those
// with the same credential can never succeed.
func isTerminalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return true
	}
	return ce.Code >= 4000 && ce.Code <= 4099
}

// handleFrame decodes one server frame and routes it to the matching
// callback. Unknown types are logged and dropped.
func (c *Client) handleFrame(raw []byte) {
	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		logging.Warn().Err(err).Msg("homewire client received malformed frame")
		return
	}

	switch ev.Type {
	case models.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return
		}
		c.callbackMu.RLock()
		cb := c.onNewMessage
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(msg)
		}

	case models.EventMessageSent:
		var ack models.MessageSentAck
		if err := json.Unmarshal(ev.Data, &ack); err != nil {
			return
		}
		c.confirmPending(ack)

	case models.EventNotification:
		var n models.Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			return
		}
		c.callbackMu.RLock()
		cb := c.onNotification
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(n)
		}

	case models.EventUserTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return
		}
		c.callbackMu.RLock()
		cb := c.onTyping
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(p)
		}

	case models.EventMessageRead:
		var r models.ReadReceipt
		if err := json.Unmarshal(ev.Data, &r); err != nil {
			return
		}
		c.callbackMu.RLock()
		cb := c.onReadReceipt
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(r)
		}

	case models.EventPing:
		// Application-level liveness probe from the heartbeat monitor.
		if err := c.writeEvent(models.Event{Type: models.EventHeartbeat}); err != nil {
			logging.Debug().Err(err).Msg("homewire client heartbeat reply failed")
		}

	case models.EventConnection, models.EventPong:
		// Admission ack and pong need no handling.

	case models.EventError:
		var p models.ErrorPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return
		}
		logging.Warn().Str("code", p.Code).Str("message", p.Message).Msg("homewire client received error event")
		c.failPending(p)
		c.callbackMu.RLock()
		cb := c.onError
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(p)
		}

	default:
		logging.Debug().Str("type", ev.Type).Msg("homewire client ignoring unknown event type")
	}
}

// OnNewMessage registers the callback for incoming messages.
// Registering again replaces the previous callback; nil unregisters.
func (c *Client) OnNewMessage(cb func(models.Message)) {
	c.callbackMu.Lock()
	c.onNewMessage = cb
	c.callbackMu.Unlock()
}

// OnNotification registers the callback for pushed notifications.
func (c *Client) OnNotification(cb func(models.Notification)) {
	c.callbackMu.Lock()
	c.onNotification = cb
	c.callbackMu.Unlock()
}

// OnTyping registers the callback for counterpart typing updates.
func (c *Client) OnTyping(cb func(models.TypingPayload)) {
	c.callbackMu.Lock()
	c.onTyping = cb
	c.callbackMu.Unlock()
}

// OnReadReceipt registers the callback for read receipts.
func (c *Client) OnReadReceipt(cb func(models.ReadReceipt)) {
	c.callbackMu.Lock()
	c.onReadReceipt = cb
	c.callbackMu.Unlock()
}

// OnError registers the callback for server error events, including
// rejected sends. For a failed send_message the payload echoes the
// temporary id returned by SendMessage.
func (c *Client) OnError(cb func(models.ErrorPayload)) {
	c.callbackMu.Lock()
	c.onError = cb
	c.callbackMu.Unlock()
}

// OnStateChange registers the callback invoked on every connection
// state transition.
func (c *Client) OnStateChange(cb func(State)) {
	c.callbackMu.Lock()
	c.onStateChange = cb
	c.callbackMu.Unlock()
}

// SendMessage sends a direct message and returns the client-generated
// temporary id. The entry stays SendPending until the server's
// message_sent ack reconciles it with the durable message id; track it
// with Outbound.
func (c *Client) SendMessage(receiverID, propertyID, content string, attachments []string) (string, error) {
	clientID := fmt.Sprintf("tmp-%d", c.clientSeq.Add(1))

	ev, err := models.NewEvent(models.EventSendMessage, models.SendMessagePayload{
		ReceiverID:  receiverID,
		PropertyID:  propertyID,
		Content:     content,
		Attachments: attachments,
		ClientID:    clientID,
	})
	if err != nil {
		return "", err
	}

	c.pendingMu.Lock()
	c.pending[clientID] = &Outbound{ClientID: clientID, Status: SendPending}
	c.pendingMu.Unlock()

	if err := c.writeEvent(ev); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, clientID)
		c.pendingMu.Unlock()
		return "", err
	}
	return clientID, nil
}

// Typing reports the caller's typing state in a conversation.
func (c *Client) Typing(conversationKey string, isTyping bool) error {
	ev, err := models.NewEvent(models.EventTyping, models.TypingPayload{
		ConversationKey: conversationKey,
		IsTyping:        isTyping,
	})
	if err != nil {
		return err
	}
	return c.writeEvent(ev)
}

// MarkRead marks a received message as read.
func (c *Client) MarkRead(messageID string) error {
	ev, err := models.NewEvent(models.EventMarkRead, models.MarkReadPayload{MessageID: messageID})
	if err != nil {
		return err
	}
	return c.writeEvent(ev)
}

// Outbound returns the tracking record for a temporary id returned by
// SendMessage.
func (c *Client) Outbound(clientID string) (Outbound, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if o, ok := c.pending[clientID]; ok {
		return *o, true
	}
	return Outbound{}, false
}

// confirmPending reconciles a message_sent ack with its pending entry.
// Acks for unknown client ids (REST-originated sends, replays) are
// ignored.
func (c *Client) confirmPending(ack models.MessageSentAck) {
	if ack.ClientID == "" {
		return
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	o, ok := c.pending[ack.ClientID]
	if !ok {
		return
	}
	o.ServerID = ack.ID
	o.Status = SendConfirmed
	o.CreatedAt = ack.CreatedAt
}

// failPending marks a pending entry failed when the server rejects the
// send. Error events without a client id concern something else and
// touch nothing.
func (c *Client) failPending(p models.ErrorPayload) {
	if p.ClientID == "" {
		return
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	o, ok := c.pending[p.ClientID]
	if !ok || o.Status != SendPending {
		return
	}
	o.Status = SendFailed
	o.Error = &p
}

// writeEvent serializes one frame to the socket. Gorilla permits one
// concurrent writer, hence the write mutex.
func (c *Client) writeEvent(ev models.Event) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// closeConnection tears down the socket if present. Safe to call from
// any goroutine and on an already-closed client.
func (c *Client) closeConnection(code int) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline); err != nil {
		logging.Debug().Err(err).Msg("homewire client close frame failed")
	}
	if err := c.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("homewire client socket close failed")
	}
	c.conn = nil
}

// Disconnect stops the listener, closes the connection and clears all
// subscriptions. It is idempotent.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	if c.stopped {
		c.connMu.Unlock()
		return
	}
	c.stopped = true
	close(c.stop)
	c.connMu.Unlock()

	c.closeConnection(websocket.CloseNormalClosure)
	c.wg.Wait()

	c.callbackMu.Lock()
	c.onNewMessage = nil
	c.onNotification = nil
	c.onTyping = nil
	c.onReadReceipt = nil
	c.onError = nil
	c.onStateChange = nil
	c.callbackMu.Unlock()

	c.setState(StateDisconnected)
}

// setState records a transition and notifies the subscriber. Repeated
// sets of the same state do not fire the callback.
func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.callbackMu.RLock()
	cb := c.onStateChange
	c.callbackMu.RUnlock()
	if cb != nil {
		cb(s)
	}
}
