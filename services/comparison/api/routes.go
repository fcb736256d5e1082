// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// RegisterRoutes registers the comparison endpoints on rg.
//
// Endpoints:
//
//	POST /v1/comparisons - Submit a comparison (202)
//	GET  /v1/comparisons - List requests, ?status=a,b filters
//	GET  /v1/comparisons/:id - Request status
//	GET  /v1/comparisons/:id/result - Diff result (409 until Completed)
//	GET  /v1/events - Recent lifecycle messages (local bus only)
//	GET  /v1/health - Liveness
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.POST("/comparisons", h.HandleSubmit)
	rg.GET("/comparisons", h.HandleList)
	rg.GET("/comparisons/:id", h.HandleGet)
	rg.GET("/comparisons/:id/result", h.HandleResult)
	rg.GET("/events", h.HandleEvents)
	rg.GET("/health", h.HandleHealth)
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Backend Backend
	Logger  *slog.Logger

	// ServiceName enables one server span per request. Empty disables it.
	ServiceName string

	// TracerProvider for the request spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider

	// Gatherer backs GET /metrics. Nil omits the endpoint.
	Gatherer prometheus.Gatherer

	// RateLimit is requests per second per client on /v1. 0 disables it.
	RateLimit float64
	Burst     int
}

// NewRouter builds the HTTP handler for the service.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		var opts []otelgin.Option
		if cfg.TracerProvider != nil {
			opts = append(opts, otelgin.WithTracerProvider(cfg.TracerProvider))
		}
		router.Use(otelgin.Middleware(cfg.ServiceName, opts...))
	}
	router.Use(RequestID(), AccessLog(logger))

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	if cfg.RateLimit > 0 {
		v1.Use(NewRateLimiter(cfg.RateLimit, cfg.Burst).Middleware())
	}
	RegisterRoutes(v1, NewHandlers(cfg.Backend, logger))
	return router
}
