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
	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/geometry"
	"github.com/AleutianAI/greenframe/services/calc/materialize"
	"github.com/AleutianAI/greenframe/services/calc/ruleset"
)

// ServiceVersion is reported by the health endpoint.
var ServiceVersion = "dev"

// RunRequest is the body of POST /v1/calc/run and POST /v1/calc/graph.
type RunRequest struct {
	// Project holds the greenhouse parameters. Required.
	Project *geometry.Project `json:"project"`

	// Rules is the rule set. Its global entry must be inline; server-side
	// paths are rejected.
	Rules *ruleset.RuleSet `json:"rules"`

	// Global replaces the rule set's inline global mapping when set.
	Global ruleset.Globals `json:"global,omitempty"`

	// ExtractMode is "compat" (default), "explicit" or "order-independent".
	ExtractMode string `json:"extract_mode,omitempty"`

	// Persist stores the run in the server's result store. Ignored when
	// the server has none.
	Persist bool `json:"persist,omitempty"`
}

// RunResponse is returned by POST /v1/calc/run.
type RunResponse struct {
	Report *calc.Report       `json:"report"`
	Batch  *materialize.Batch `json:"batch,omitempty"`
	Stored bool               `json:"stored"`
}

// HealthResponse is returned by GET /v1/calc/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   bool   `json:"store"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Cycle lists the unorderable rules for CYCLE_DETECTED.
	Cycle *calc.CycleInfo `json:"cycle,omitempty"`
}
