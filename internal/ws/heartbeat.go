// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/metrics"
	"github.com/homewire/homewire/internal/models"
)

// Heartbeat periodically sweeps the registry and evicts connections
// that have not acknowledged liveness for two consecutive intervals.
//
// Each sweep flips every live connection's alive flag false and sends
// an application-level ping; any heartbeat, ping or protocol pong from
// the client flips it back. A connection found dead at the start of a
// sweep has therefore been silent for at least one full interval and
// at most two.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
}

// NewHeartbeat creates a heartbeat monitor over the registry.
func NewHeartbeat(registry *Registry, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{registry: registry, interval: interval}
}

// Serve runs the sweep loop until the context is canceled. Implements
// suture.Service.
func (h *Heartbeat) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", h.interval).Msg("heartbeat monitor started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("component", "heartbeat").Msg("heartbeat monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// String names the service for supervisor logs.
func (h *Heartbeat) String() string { return "heartbeat-monitor" }

// Sweep examines every connection once. Exported for tests, which
// drive sweeps directly instead of waiting on the ticker.
func (h *Heartbeat) Sweep() {
	h.sweepAt(time.Now())
}

func (h *Heartbeat) sweepAt(start time.Time) {
	pingEv := models.Event{Type: models.EventPing}

	for _, c := range h.registry.AllConnections() {
		if !c.Alive() && c.LastPong().Before(start) {
			// Silent for a full interval. A pong that raced in after
			// the sweep started would have advanced LastPong past
			// start, so this connection is genuinely unresponsive.
			metrics.WSHeartbeatEvictions.Inc()
			logging.Info().
				Str("user_id", c.UserID()).
				Uint64("conn_id", c.ID()).
				Time("last_pong", c.LastPong()).
				Msg("evicting unresponsive websocket connection")
			h.registry.Unregister(c)
			c.Close(websocket.CloseGoingAway, "heartbeat timeout")
			continue
		}

		c.ClearAlive()
		if !c.Send(pingEv) {
			logging.Debug().Uint64("conn_id", c.ID()).Msg("ping dropped, send buffer full")
		}
	}
}
