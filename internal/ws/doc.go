// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package ws implements the real-time messaging core: the connection
// registry mapping user identities to their live WebSocket connections,
// the event router that persists and fans out chat traffic, the
// notification dispatcher, and the heartbeat monitor that evicts
// half-open connections.
//
// Concurrency model: the registry's RWMutex is the only shared mutable
// structure. Each connection runs a read pump and a write pump
// goroutine; all writes to a connection go through its buffered send
// channel. Fan-out iterates over a snapshot of a user's connections,
// never holding the registry lock across a send.
package ws
