// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package main is the entry point for the Homewire server application.
//
// Homewire is the realtime messaging and notification backend for a real
// estate CRM: clients and realtors exchange direct messages scoped to
// property listings, with durable notifications for events that must
// outlive a live connection.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and config files (Koanf v2)
//  2. Store: open the SQLite message/notification store (WAL mode)
//  3. Realtime core: connection registry, event router, notifier, heartbeat monitor
//  4. Authentication: JWT manager and HTTP middleware
//  5. HTTP server: REST API plus the /ws WebSocket endpoint
//  6. Supervisor tree: suture-managed service lifecycle with restart backoff
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (JWT_SECRET -> security.jwt_secret)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// Required settings:
//   - JWT_SECRET: 32+ character secret for token signing
//
// Common settings:
//   - HTTP_HOST, HTTP_PORT: listen address (default 0.0.0.0:8090)
//   - STORE_DRIVER: sqlite (default) or memory
//   - STORE_PATH: SQLite database path (default /data/homewire.db)
//   - WS_HEARTBEAT_INTERVAL: liveness sweep period (default 30s)
//   - WS_SINGLE_SESSION: evict prior connections per user (default false)
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Closes every WebSocket connection with a going-away frame
//   - Closes the store
//
// # Example Usage
//
// Development with the in-memory store:
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export STORE_DRIVER=memory
//	export LOG_LEVEL=debug
//	./homewire
//
// Production with SQLite:
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export STORE_PATH=/data/homewire.db
//	export CORS_ORIGINS=https://crm.example.com
//	./homewire
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homewire/homewire/internal/api"
	"github.com/homewire/homewire/internal/auth"
	"github.com/homewire/homewire/internal/config"
	"github.com/homewire/homewire/internal/logging"
	"github.com/homewire/homewire/internal/store"
	"github.com/homewire/homewire/internal/supervisor"
	"github.com/homewire/homewire/internal/supervisor/services"
	"github.com/homewire/homewire/internal/ws"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Homewire with supervisor tree")
	logging.Info().
		Str("store_driver", cfg.Store.Driver).
		Str("addr", cfg.Server.Addr()).
		Bool("single_session", cfg.WebSocket.SingleSession).
		Msg("Configuration loaded")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the store
	var st store.Store
	switch cfg.Store.Driver {
	case "memory":
		st = store.NewMemoryStore()
		logging.Warn().Msg("Using in-memory store: all data is lost on restart")
	default:
		st, err = store.NewSQLiteStore(ctx, cfg.Store.Path)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open store")
		}
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	logging.Info().Msg("Store initialized successfully")

	// Realtime core: registry tracks live connections, the router moves
	// events between them, the notifier persists out-of-band alerts, and
	// the heartbeat monitor evicts dead connections.
	registry := ws.NewRegistry(cfg.WebSocket.SingleSession)
	router := ws.NewRouter(st, registry, cfg.WebSocket.TypingTTL)
	notifier := ws.NewNotifier(st, registry, router)
	heartbeat := ws.NewHeartbeat(registry, cfg.WebSocket.HeartbeatInterval)

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}
	logging.Info().Msg("JWT authentication enabled")

	middleware := auth.NewMiddleware(
		jwtManager,
		cfg.Security.LoginRateLimit,
		cfg.Security.LoginRateWindow,
	)
	defer middleware.Close()

	// CORS wildcard with credentialed endpoints deserves a loud notice.
	for _, origin := range cfg.Security.CORSOrigins {
		if origin == "*" {
			logging.Warn().Msg("CORS is configured with wildcard origin (CORS_ORIGINS=*)")
			logging.Warn().Msg("Set specific origins in production, e.g. CORS_ORIGINS=https://crm.example.com")
		}
	}

	handler := api.NewHandler(cfg, st, jwtManager, registry, router, notifier)
	apiRouter := api.NewRouter(handler, middleware)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apiRouter.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Create structured logger for supervisor using our slog adapter
	// This bridges zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	tree := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())

	// Messaging layer services
	tree.AddMessagingService(heartbeat)
	logging.Info().Dur("interval", cfg.WebSocket.HeartbeatInterval).Msg("Heartbeat monitor added to supervisor tree")

	// API layer services
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Close remaining live connections so clients see a clean
	// going-away frame instead of a dropped TCP session.
	registry.CloseAll(websocket.CloseGoingAway, "server shutting down")

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
