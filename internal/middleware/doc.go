// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package middleware provides infrastructure HTTP middleware: request
// ID tracking for traceable logs and Prometheus instrumentation of the
// REST surface. Authentication middleware lives in internal/auth.
package middleware
