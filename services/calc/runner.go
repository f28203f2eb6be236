// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// InputLoader supplies a run's parameter values.
type InputLoader interface {
	LoadInputs(ctx context.Context) (Inputs, error)
}

// RuleSource supplies a run's active rules, in registration order.
type RuleSource interface {
	LoadRules(ctx context.Context) ([]FormulaRule, error)
}

// Materializer persists a run's results.
//
// Results arrive in evaluation order. Implementations decide which results
// become records; see the materialize package for the standard contract.
type Materializer interface {
	Materialize(ctx context.Context, run RunInfo, results []Result) error
}

// InputLoaderFunc adapts a function to InputLoader.
type InputLoaderFunc func(ctx context.Context) (Inputs, error)

// LoadInputs calls f.
func (f InputLoaderFunc) LoadInputs(ctx context.Context) (Inputs, error) { return f(ctx) }

// RuleSourceFunc adapts a function to RuleSource.
type RuleSourceFunc func(ctx context.Context) ([]FormulaRule, error)

// LoadRules calls f.
func (f RuleSourceFunc) LoadRules(ctx context.Context) ([]FormulaRule, error) { return f(ctx) }

// RunInfo identifies a run to a Materializer.
type RunInfo struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Project   string    `json:"project" yaml:"project"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
}

// Counts summarizes a run's results.
type Counts struct {
	Rules        int `json:"rules" yaml:"rules"`
	Succeeded    int `json:"succeeded" yaml:"succeeded"`
	Failed       int `json:"failed" yaml:"failed"`
	LengthFailed int `json:"length_failed" yaml:"length_failed"`
	Zero         int `json:"zero" yaml:"zero"`
}

// CountResults tallies results.
func CountResults(results []Result) Counts {
	c := Counts{Rules: len(results)}
	for _, r := range results {
		switch {
		case r.Failed():
			c.Failed++
		case r.Value == 0:
			c.Zero++
			c.Succeeded++
		default:
			c.Succeeded++
		}
		if r.LengthError != "" {
			c.LengthFailed++
		}
	}
	return c
}

// Report is the outcome of Runner.Run.
type Report struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Project    string        `json:"project,omitempty" yaml:"project,omitempty"`
	Phase      Phase         `json:"phase" yaml:"phase"`
	Order      []string      `json:"order" yaml:"order"`
	Results    []Result      `json:"results" yaml:"results"`
	Unresolved []Unresolved  `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Counts     Counts        `json:"counts" yaml:"counts"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	Duration   time.Duration `json:"duration_ns" yaml:"duration_ns"`

	// FailedPhase and Error are set when Phase is FAILED.
	FailedPhase string `json:"failed_phase,omitempty" yaml:"failed_phase,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Runner drives one run through its phases.
//
// Description:
//
//	IDLE -> LOADING_INPUTS -> REGISTERING_RULES -> SORTING -> EVALUATING ->
//	MATERIALIZING -> DONE. Loading and materializing happen outside the
//	engine and honor ctx cancellation. A cycle found while SORTING aborts
//	the run before anything is evaluated or materialized. Evaluation
//	failures are recorded on results and never abort.
//
// Thread Safety:
//
//	A Runner may be reused sequentially. Each Run builds a fresh Engine,
//	so concurrent Runs on distinct Runners share no state.
type Runner struct {
	Project      string
	Inputs       InputLoader
	Rules        RuleSource
	Materializer Materializer // optional
	Logger       *slog.Logger
	EngineOpts   []Option

	// OnPhase is called on every phase transition. Optional.
	OnPhase func(Phase)
}

// Run executes one run.
//
// Outputs:
//
//	*Report - Always non-nil; Phase is DONE on success and FAILED otherwise.
//	error - Loader, registration, cycle, materializer or ctx error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Project:   r.Project,
		Phase:     PhaseIdle,
		StartedAt: time.Now().UTC(),
	}
	r.enter(report, PhaseIdle)
	fail := func(err error) (*Report, error) {
		report.Duration = time.Since(report.StartedAt)
		report.FailedPhase = report.Phase.String()
		report.Error = err.Error()
		logger.Error("run failed",
			slog.String("run_id", report.RunID),
			slog.String("project", r.Project),
			slog.String("phase", report.Phase.String()),
			slog.String("error", err.Error()),
		)
		r.enter(report, PhaseFailed)
		return report, err
	}

	if r.Inputs == nil || r.Rules == nil {
		return fail(fmt.Errorf("%w: inputs and rules are required", ErrMissingCollaborator))
	}

	r.enter(report, PhaseLoadingInputs)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	inputs, err := r.Inputs.LoadInputs(ctx)
	if err != nil {
		return fail(fmt.Errorf("loading inputs: %w", err))
	}

	r.enter(report, PhaseRegisteringRules)
	rules, err := r.Rules.LoadRules(ctx)
	if err != nil {
		return fail(fmt.Errorf("loading rules: %w", err))
	}
	opts := append([]Option{WithLogger(logger), WithRunID(report.RunID)}, r.EngineOpts...)
	engine := NewEngine(inputs, opts...)
	for _, rule := range rules {
		if err := engine.AddFormula(rule); err != nil {
			return fail(err)
		}
	}

	r.enter(report, PhaseSorting)
	order, err := engine.Order()
	if err != nil {
		return fail(err)
	}
	report.Order = order
	report.Unresolved = engine.Unresolved()

	r.enter(report, PhaseEvaluating)
	results, err := engine.CalculateAll(ctx)
	if err != nil {
		return fail(err)
	}
	report.Results = results
	report.Counts = CountResults(results)

	r.enter(report, PhaseMaterializing)
	if r.Materializer != nil {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		info := RunInfo{RunID: report.RunID, Project: r.Project, StartedAt: report.StartedAt}
		if err := r.Materializer.Materialize(ctx, info, results); err != nil {
			return fail(fmt.Errorf("materializing results: %w", err))
		}
	}

	report.Duration = time.Since(report.StartedAt)
	r.enter(report, PhaseDone)
	logger.Info("run completed",
		slog.String("run_id", report.RunID),
		slog.String("project", r.Project),
		slog.Int("rules", report.Counts.Rules),
		slog.Int("failed", report.Counts.Failed),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func (r *Runner) enter(report *Report, p Phase) {
	report.Phase = p
	if r.OnPhase != nil {
		r.OnPhase(p)
	}
}
