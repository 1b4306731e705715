// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homewire/homewire/internal/auth"
	"github.com/homewire/homewire/internal/middleware"
)

// Router wires handlers and middleware into the HTTP surface.
type Router struct {
	handler *Handler
	authMW  *auth.Middleware
}

// NewRouter creates the HTTP router over the API handlers.
func NewRouter(handler *Handler, authMW *auth.Middleware) *Router {
	return &Router{handler: handler, authMW: authMW}
}

// Setup configures all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.handler.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints: permissive rate limit for monitoring probes.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Login: strict per-IP throttle against brute force.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.With(router.authMW.LoginRateLimit).Post("/login", router.handler.Login)
	})

	// Data endpoints: all require a valid bearer token.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.authMW.Authenticate)

		r.Get("/conversations", router.handler.Conversations)
		r.Get("/conversations/{key}/messages", router.handler.ConversationMessages)
		r.Post("/messages", router.handler.SendMessage)

		r.Get("/notifications", router.handler.Notifications)
		r.Put("/notifications/read-all", router.handler.MarkAllNotificationsRead)
		r.Put("/notifications/{id}/read", router.handler.MarkNotificationRead)
		r.Delete("/notifications/{id}", router.handler.DeleteNotification)
	})

	// WebSocket upgrade: the admission gate inside the handler maps
	// credential failures to close codes instead of HTTP statuses.
	r.Get("/ws", router.handler.WebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
