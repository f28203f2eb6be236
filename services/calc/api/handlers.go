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
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/geometry"
	"github.com/AleutianAI/greenframe/services/calc/materialize"
	"github.com/AleutianAI/greenframe/services/calc/ruleset"
	"github.com/AleutianAI/greenframe/services/calc/telemetry"
)

// errBadRequest marks request-shape errors.
var errBadRequest = errors.New("bad request")

// Config configures Handlers.
type Config struct {
	// Store receives runs posted with persist=true. Optional.
	Store calc.Materializer

	// Runs serves GET /v1/calc/runs/:project/latest. Optional.
	Runs materialize.RunStore

	// EngineOpts apply to every engine the handlers build.
	EngineOpts []calc.Option

	Logger *slog.Logger
}

// Handlers serves the calculation endpoints.
//
// Thread Safety: Safe for concurrent use. Every request builds its own
// Runner and Engine.
type Handlers struct {
	store      calc.Materializer
	runs       materialize.RunStore
	engineOpts []calc.Option
	logger     *slog.Logger
}

// NewHandlers creates Handlers.
func NewHandlers(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:      cfg.Store,
		runs:       cfg.Runs,
		engineOpts: cfg.EngineOpts,
		logger:     logger,
	}
}

// requestLogger returns a logger tagged with the request id and trace.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", requestID),
		slog.String("handler", handler),
	)
}

// decode reads and checks a RunRequest.
func (h *Handlers) decode(c *gin.Context) (*RunRequest, []calc.Option, error) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	if req.Project == nil {
		return nil, nil, fmt.Errorf("%w: project is required", errBadRequest)
	}
	if err := req.Project.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if req.Rules == nil {
		return nil, nil, fmt.Errorf("%w: rules are required", errBadRequest)
	}
	if req.Rules.Global.Path != "" {
		return nil, nil, fmt.Errorf("%w: global must be inline, not a path", errBadRequest)
	}
	if err := req.Rules.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	opts := append([]calc.Option{}, h.engineOpts...)
	if req.ExtractMode != "" {
		mode, err := calc.ParseExtractMode(req.ExtractMode)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		opts = append(opts, calc.WithExtractMode(mode))
	}
	return &req, opts, nil
}

// HandleRun handles POST /v1/calc/run.
//
// Description:
//
//	Runs an inline project against an inline rule set and returns the
//	report plus the materialized batch. Formula failures are part of a
//	successful response; only request errors and cycles are not.
//
// Response:
//
//	200 OK: RunResponse
//	400 Bad Request: ErrorResponse (INVALID_REQUEST, INVALID_RULE)
//	422 Unprocessable Entity: ErrorResponse (CYCLE_DETECTED)
//	500 Internal Server Error: ErrorResponse (STORE_FAILED, RUN_FAILED)
func (h *Handlers) HandleRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRun")

	req, opts, err := h.decode(c)
	if err != nil {
		logger.Warn("invalid request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	var capture captureSink
	var sink calc.Materializer = &capture
	stored := false
	if req.Persist && h.store != nil {
		sink = materialize.Multi{&capture, storeSink{next: h.store}}
		stored = true
	}

	runner := &calc.Runner{
		Project:      req.Project.Name,
		Inputs:       &geometry.ProjectLoader{Project: req.Project, Logger: logger},
		Rules:        &ruleset.SetSource{Set: req.Rules, Global: req.Global, Logger: logger},
		Materializer: sink,
		Logger:       logger,
		EngineOpts:   opts,
	}
	report, err := runner.Run(c.Request.Context())
	if err != nil {
		status, resp := errorResponse(err)
		logger.Error("run failed", slog.String("code", resp.Code), slog.String("error", err.Error()))
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, RunResponse{Report: report, Batch: capture.batch, Stored: stored})
}

// HandleGraph handles POST /v1/calc/graph.
//
// Description:
//
//	Reports the dependency graph of an inline rule set without
//	evaluating it. A cycle is reported in the body with 200 OK.
func (h *Handlers) HandleGraph(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGraph")

	req, opts, err := h.decode(c)
	if err != nil {
		logger.Warn("invalid request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	global := req.Global
	if global == nil {
		global = req.Rules.Global.Inline
	}
	rules := ruleset.Resolve(req.Rules, global, logger)
	inputs := geometry.Inputs(req.Project, logger)

	report, err := calc.Inspect(inputs, rules, append(opts, calc.WithLogger(logger))...)
	if err != nil {
		status, resp := errorResponse(err)
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleLatest handles GET /v1/calc/runs/:project/latest.
func (h *Handlers) HandleLatest(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "no result store configured", Code: "NO_STORE"})
		return
	}
	project := c.Param("project")
	batch, err := h.runs.Latest(c.Request.Context(), project)
	if errors.Is(err, materialize.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "RUN_NOT_FOUND"})
		return
	}
	if err != nil {
		h.requestLogger(c, "HandleLatest").Error("load run failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// HandleHealth handles GET /v1/calc/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Store:   h.runs != nil,
	})
}

// errorResponse maps a run or registration error to a status and body.
func errorResponse(err error) (int, ErrorResponse) {
	var cycle *calc.CycleError
	switch {
	case errors.As(err, &cycle):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "CYCLE_DETECTED",
			Cycle: &calc.CycleInfo{Codes: cycle.Codes, Path: cycle.Path},
		}
	case errors.Is(err, calc.ErrInvalidRule), errors.Is(err, ruleset.ErrInvalidRuleSet):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_RULE"}
	case errors.Is(err, geometry.ErrInvalidProject):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"}
	case errors.Is(err, errStore):
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RUN_FAILED"}
	}
}
