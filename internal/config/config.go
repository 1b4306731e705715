// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package config holds the layered application configuration.
//
// Configuration is loaded with Koanf v2 in three layers, later layers
// overriding earlier ones:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Homewire server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Client    ClientConfig    `koanf:"client"`
	Store     StoreConfig     `koanf:"store"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies bearer credentials. Minimum 32
	// characters; the server refuses to start without it.
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// Login rate limit (per client IP).
	LoginRateLimit  int           `koanf:"login_rate_limit"`
	LoginRateWindow time.Duration `koanf:"login_rate_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// WebSocketConfig holds settings for the realtime core.
type WebSocketConfig struct {
	// HeartbeatInterval is the sweep period of the liveness monitor.
	// A connection that misses two consecutive sweeps is terminated.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	WriteWait      time.Duration `koanf:"write_wait"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	SendBuffer     int           `koanf:"send_buffer"`

	// TypingTTL is how long a typing indicator lives before the server
	// broadcasts an implicit is_typing=false.
	TypingTTL time.Duration `koanf:"typing_ttl"`

	// SingleSession, when true, evicts a user's prior connections on a
	// new connection (close code 4005). Off by default: multiple
	// simultaneous connections per user (multi-tab) are the supported
	// model.
	SingleSession bool `koanf:"single_session"`
}

// ClientConfig holds defaults handed to the Go client facade by the
// server's configuration surface (also used by the facade's own
// DefaultOptions).
type ClientConfig struct {
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver selects the store backend: sqlite or memory.
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters (got %d)", len(c.Security.JWTSecret))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535 (got %d)", c.Server.Port)
	}
	if c.WebSocket.HeartbeatInterval < time.Second {
		return fmt.Errorf("websocket.heartbeat_interval must be at least 1s (got %s)", c.WebSocket.HeartbeatInterval)
	}
	if c.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("websocket.send_buffer must be positive (got %d)", c.WebSocket.SendBuffer)
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative (got %d)", c.Client.MaxReconnectAttempts)
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite or memory (got %q)", c.Store.Driver)
	}
	return nil
}
