// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package supervisor builds the suture supervision tree that keeps the
// long-running services alive: the heartbeat monitor in the messaging
// layer and the HTTP server in the api layer. A crash in one layer is
// restarted without taking down the other.
package supervisor
