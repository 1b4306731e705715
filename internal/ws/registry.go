// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package ws

import (
	"sort"
	"sync"

	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/metrics"
	"github.com/homewire/homewire/internal/models"
)

// Registry maps user identities to their live connections. A user may
// hold several connections at once (one per tab); each is tracked
// individually with set semantics.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Conn]struct{}

	// singleSession, when enabled, evicts a user's prior connections on
	// each Register with close code 4005. Off by default: multi-tab is
	// the supported model.
	singleSession bool
}

// NewRegistry creates an empty registry.
func NewRegistry(singleSession bool) *Registry {
	return &Registry{
		byUser:        make(map[string]map[*Conn]struct{}),
		singleSession: singleSession,
	}
}

// Register adds a connection under its user id. Registering the same
// connection twice is a no-op. Returns any prior connections evicted by
// the single-session policy.
func (r *Registry) Register(c *Conn) []*Conn {
	var evicted []*Conn

	r.mu.Lock()
	set, ok := r.byUser[c.UserID()]
	if !ok {
		set = make(map[*Conn]struct{})
		r.byUser[c.UserID()] = set
	}
	if _, dup := set[c]; !dup {
		if r.singleSession {
			for prior := range set {
				evicted = append(evicted, prior)
				delete(set, prior)
			}
		}
		set[c] = struct{}{}
	}
	users, conns := len(r.byUser), r.connCountLocked()
	r.mu.Unlock()

	for _, prior := range evicted {
		prior.Close(models.CloseSessionTakeover, "session takeover")
	}

	metrics.WSConnections.Set(float64(conns))
	metrics.WSUsersOnline.Set(float64(users))
	logging.Info().
		Str("user_id", c.UserID()).
		Uint64("conn_id", c.ID()).
		Int("users_online", users).
		Int("total_connections", conns).
		Msg("websocket client connected")
	return evicted
}

// Unregister removes a connection. Idempotent: unknown connections are
// ignored. The user's entry disappears once its last connection goes.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	set, ok := r.byUser[c.UserID()]
	if ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(r.byUser, c.UserID())
			}
		} else {
			ok = false
		}
	}
	users, conns := len(r.byUser), r.connCountLocked()
	r.mu.Unlock()

	if !ok {
		return
	}

	metrics.WSConnections.Set(float64(conns))
	metrics.WSUsersOnline.Set(float64(users))
	logging.Info().
		Str("user_id", c.UserID()).
		Uint64("conn_id", c.ID()).
		Int("users_online", users).
		Int("total_connections", conns).
		Msg("websocket client disconnected")
}

// ConnectionsFor returns a snapshot of a user's connections, possibly
// empty. Callers iterate the snapshot without holding the lock.
func (r *Registry) ConnectionsFor(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// AllConnections returns a snapshot of every live connection, ordered
// by connection id for deterministic sweeps.
func (r *Registry) AllConnections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, r.connCountLocked())
	for _, set := range r.byUser {
		for c := range set {
			conns = append(conns, c)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// UserCount returns the number of distinct users with live connections.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ConnCount returns the total number of live connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connCountLocked()
}

func (r *Registry) connCountLocked() int {
	n := 0
	for _, set := range r.byUser {
		n += len(set)
	}
	return n
}

// CloseAll terminates every connection with the given close code.
// Used during graceful shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	conns := r.AllConnections()
	for _, c := range conns {
		r.Unregister(c)
		c.Close(code, reason)
	}
	if len(conns) > 0 {
		logging.Info().Int("clients_closed", len(conns)).Msg("closed all websocket clients during shutdown")
	}
}
