// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/metrics"
	"github.com/homewire/homewire/internal/models"
)

// connIDCounter assigns unique, monotonically increasing ids so that
// connections can be ordered deterministically in sweeps and tests.
var connIDCounter atomic.Uint64

// EventHandler consumes inbound events from a connection's read pump.
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Conn, ev models.Event)
}

// ConnOptions tunes per-connection transport behavior.
type ConnOptions struct {
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Conn is one live WebSocket connection bound to an authenticated user.
// A user may own several simultaneously (one per browser tab); the
// registry tracks the full set.
type Conn struct {
	id     uint64
	userID string
	role   string

	ws   *websocket.Conn
	send chan models.Event
	opts ConnOptions

	// alive is flipped false by each heartbeat sweep and true again by
	// any heartbeat/ping/pong from the client. lastPong breaks the tie
	// for pongs that arrive while a sweep is running.
	alive    atomic.Bool
	lastPong atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded WebSocket connection. ws may be nil in
// tests that only exercise registry and fan-out behavior.
func NewConn(ws *websocket.Conn, userID, role string, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		id:     connIDCounter.Add(1),
		userID: userID,
		role:   role,
		ws:     ws,
		send:   make(chan models.Event, opts.SendBuffer),
		opts:   opts,
		done:   make(chan struct{}),
	}
	c.MarkAlive()
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uint64 { return c.id }

// UserID returns the authenticated user this connection belongs to.
func (c *Conn) UserID() string { return c.userID }

// Role returns the authenticated user's role.
func (c *Conn) Role() string { return c.role }

// Send enqueues an event for the write pump without blocking. It
// reports false when the connection is closed or its buffer is full;
// the caller treats that as a stale connection.
func (c *Conn) Send(ev models.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// MarkAlive records liveness: sets the alive flag and the last-pong
// timestamp.
func (c *Conn) MarkAlive() {
	c.lastPong.Store(time.Now().UnixNano())
	c.alive.Store(true)
}

// ClearAlive flips the alive flag false. Called by the heartbeat sweep.
func (c *Conn) ClearAlive() { c.alive.Store(false) }

// Alive reports whether the client has acknowledged liveness since the
// last sweep.
func (c *Conn) Alive() bool { return c.alive.Load() }

// LastPong returns the time of the most recent liveness acknowledgment.
func (c *Conn) LastPong() time.Time { return time.Unix(0, c.lastPong.Load()) }

// Done is closed when the connection has been terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close terminates the connection, sending the close frame with the
// given code at most once. Safe to call from any goroutine.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws == nil {
			return
		}
		deadline := time.Now().Add(c.opts.WriteWait)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("failed to write close frame")
		}
		_ = c.ws.Close()
	})
}

// Start launches the read and write pumps. The read pump dispatches
// inbound events to handler and returns when the peer disconnects; the
// caller is responsible for unregistering afterwards.
func (c *Conn) Start(ctx context.Context, handler EventHandler) {
	go c.writePump()
	go c.readPump(ctx, handler)
}

func (c *Conn) readPump(ctx context.Context, handler EventHandler) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Uint64("conn_id", c.id).Str("user_id", c.userID).Msg("unexpected websocket close")
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("malformed websocket frame")
			c.SendError("VALIDATION_ERROR", "malformed event frame")
			continue
		}

		metrics.WSMessagesReceived.WithLabelValues(ev.Type).Inc()
		handler.HandleEvent(ctx, c, ev)
	}
}

func (c *Conn) writePump() {
	defer func() {
		if c.ws != nil {
			_ = c.ws.Close()
		}
	}()

	for {
		select {
		case ev := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("websocket write failed")
				return
			}
			metrics.WSMessagesSent.WithLabelValues(ev.Type).Inc()

		case <-c.done:
			return
		}
	}
}

// SendError delivers an error event to this connection only.
func (c *Conn) SendError(code, message string) {
	ev, err := models.NewEvent(models.EventError, models.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.Send(ev)
}
