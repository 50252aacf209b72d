// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openaurae/openaurae/internal/config"
)

// Router binds handlers to routes.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a Router. A nil middleware uses the defaults.
func NewRouter(handler *Handler, middleware *Middleware) *Router {
	if middleware == nil {
		middleware = NewMiddleware(nil)
	}
	return &Router{handler: handler, middleware: middleware}
}

// MiddlewareConfigFromServer maps the server section onto the middleware.
func MiddlewareConfigFromServer(cfg *config.ServerConfig) *MiddlewareConfig {
	mc := DefaultMiddlewareConfig()
	if len(cfg.CORSOrigins) > 0 {
		mc.CORSAllowedOrigins = cfg.CORSOrigins
	}
	if cfg.OperatorRateLimit > 0 {
		mc.RateLimitRequests = cfg.OperatorRateLimit
	}
	if cfg.OperatorRateWindow > 0 {
		mc.RateLimitWindow = cfg.OperatorRateWindow
	}
	return mc
}

// Setup returns the HTTP handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())
	r.Use(PrometheusMetrics)

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/devices/{deviceID}", func(r chi.Router) {
			// Long-lived; no timeout or throttling.
			r.Get("/live", router.handler.Live)

			r.Route("/sensors/{sensorID}", func(r chi.Router) {
				r.With(chimiddleware.Timeout(30*time.Second)).Get("/readings", router.handler.Readings)
				r.With(router.middleware.RateLimit()).Delete("/pairing", router.handler.UnpairSensor)
			})
		})

		r.With(router.middleware.RateLimit()).Post("/sync/{account}/full", router.handler.TriggerFullSync)
		r.With(chimiddleware.Timeout(30*time.Second)).Get("/quarantine", router.handler.Quarantine)
	})

	return r
}
