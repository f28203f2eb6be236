// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the calculation engine over HTTP with gin.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers the calculation endpoints on rg.
//
// Endpoints:
//
//	POST /v1/calc/run                   - Run an inline project
//	POST /v1/calc/graph                 - Inspect an inline rule set's graph
//	GET  /v1/calc/runs/:project/latest  - Latest stored run of a project
//	GET  /v1/calc/health                - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	calcGroup := rg.Group("/calc")
	{
		calcGroup.POST("/run", h.HandleRun)
		calcGroup.POST("/graph", h.HandleGraph)
		calcGroup.GET("/runs/:project/latest", h.HandleLatest)
		calcGroup.GET("/health", h.HandleHealth)
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// RateLimit is the sustained request rate per second across all
	// clients. <= 0 disables limiting.
	RateLimit float64

	// Burst is the limiter's bucket size. Defaults to 1 when limiting.
	Burst int

	// MaxBodyBytes caps request bodies. <= 0 means 4 MiB.
	MaxBodyBytes int64

	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter builds a gin engine with recovery, tracing, rate limiting and
// the /v1 routes.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "greenframe"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/v1")
	v1.Use(BodyLimit(opts.MaxBodyBytes))
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		v1.Use(RateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}
	RegisterRoutes(v1, h)
	return router
}

// RateLimit rejects requests with 429 once limiter is exhausted.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter.Allow() {
			c.Next()
			return
		}
		r := limiter.Reserve()
		retry := r.Delay()
		r.Cancel()
		seconds := int(retry.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
	}
}

// BodyLimit caps the request body at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
