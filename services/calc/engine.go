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
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/greenframe/services/calc/expr"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Logger  *slog.Logger
	Mode    ExtractMode
	Metrics *Metrics
	Tracer  trace.Tracer
	RunID   string
}

// Option is a functional option for configuring an Engine.
type Option func(*EngineOptions)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *EngineOptions) {
		o.Logger = logger
	}
}

// WithExtractMode sets how dependency edges are read from formulas.
func WithExtractMode(mode ExtractMode) Option {
	return func(o *EngineOptions) {
		o.Mode = mode
	}
}

// WithMetrics sets the metric instruments. Without it the engine registers
// instruments on the global meter provider.
func WithMetrics(m *Metrics) Option {
	return func(o *EngineOptions) {
		o.Metrics = m
	}
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *EngineOptions) {
		o.Tracer = t
	}
}

// WithRunID fixes the run id instead of generating one per run.
func WithRunID(id string) Option {
	return func(o *EngineOptions) {
		o.RunID = id
	}
}

// Engine evaluates one run's rules.
//
// Description:
//
//	Engine owns the run's inputs, its Registry and the map of values
//	computed so far. CalculateAll orders the registered rules and
//	evaluates each exactly once; later rules read earlier values through
//	CALC() or bare-word substitution.
//
// Thread Safety:
//
//	Engine is NOT safe for concurrent use. Create one Engine per run.
type Engine struct {
	inputs   Inputs
	registry *Registry
	computed map[string]float64

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	runID   string
	fixedID bool
}

// NewEngine creates an engine over a copy of inputs.
//
// Inputs:
//
//	inputs - Parameter values GET() reads. Copied; later changes to the
//	         caller's map do not affect the engine.
//	opts - Functional options.
//
// Outputs:
//
//	*Engine - The engine, with an empty registry.
func NewEngine(inputs Inputs, opts ...Option) *Engine {
	var options EngineOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Metrics == nil {
		options.Metrics = globalMetrics(options.Logger)
	}
	if options.Tracer == nil {
		options.Tracer = otel.Tracer(instrumentationName)
	}

	return &Engine{
		inputs:   inputs.Clone(),
		registry: NewRegistry(options.Mode),
		computed: make(map[string]float64),
		logger:   options.Logger,
		metrics:  options.Metrics,
		tracer:   options.Tracer,
		runID:    options.RunID,
		fixedID:  options.RunID != "",
	}
}

// AddFormula registers a rule. See Registry.AddFormula.
func (e *Engine) AddFormula(rule FormulaRule) error {
	return e.registry.AddFormula(rule)
}

// Registry returns the engine's rule registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Inputs returns the engine's input values. The map must not be modified.
func (e *Engine) Inputs() Inputs {
	return e.inputs
}

// RunID returns the id of the current or last run.
func (e *Engine) RunID() string {
	return e.runID
}

// Graph returns a snapshot of the current dependency graph.
func (e *Engine) Graph() *Graph {
	return e.registry.Snapshot()
}

// Order returns the evaluation order without evaluating anything.
func (e *Engine) Order() ([]string, error) {
	return e.registry.Snapshot().Order()
}

// Unresolved returns references to codes that are neither registered rules
// nor inputs.
func (e *Engine) Unresolved() []Unresolved {
	return e.registry.Snapshot().Unresolved(func(code string) bool {
		_, ok := e.inputs[code]
		return ok
	})
}

// Computed returns a copy of the values computed by the last run.
func (e *Engine) Computed() map[string]float64 {
	out := make(map[string]float64, len(e.computed))
	for k, v := range e.computed {
		out[k] = v
	}
	return out
}

// CalculateAll orders and evaluates every registered rule.
//
// Description:
//
//	Resets the computed values, orders the rules (see Graph.Order) and
//	evaluates them in that order. For each rule:
//
//	  1. The primary formula is evaluated. On failure the Result carries
//	     the evaluator's error text, Value is 0 and the length formula is
//	     skipped; the loop continues with the next rule.
//	  2. On success the value is stored for later CALC() reads and, when
//	     LengthFormula is not "0", the length formula is evaluated. A
//	     length failure sets Length to 0 and LengthError, keeping Value.
//
//	Calling CalculateAll again on an unchanged engine yields identical
//	results.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	[]Result - One result per rule, in evaluation order.
//	error - *CycleError when the rules cannot be ordered; no results are
//	        returned in that case. Formula failures are never returned here.
func (e *Engine) CalculateAll(ctx context.Context) ([]Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if !e.fixedID {
		e.runID = uuid.NewString()
	}
	e.computed = make(map[string]float64, e.registry.Len())

	ctx, span := e.tracer.Start(ctx, "calc.CalculateAll",
		trace.WithAttributes(
			attribute.String("calc.run_id", e.runID),
			attribute.Int("calc.rule_count", e.registry.Len()),
			attribute.String("calc.extract_mode", e.registry.Mode().String()),
		),
	)
	defer span.End()

	start := time.Now()
	e.logger.Info("calculation started",
		slog.String("run_id", e.runID),
		slog.Int("rules", e.registry.Len()),
		slog.Int("inputs", len(e.inputs)),
	)

	graph := e.registry.Snapshot()
	for _, ref := range graph.Unresolved(e.hasInput) {
		e.logger.Warn("unresolved dependency",
			slog.String("run_id", e.runID),
			slog.String("rule", ref.Rule),
			slog.String("dependency", ref.Code),
		)
	}

	order, err := graph.Order()
	if err != nil {
		e.metrics.recordRun(ctx, graph.Len(), time.Since(start), true)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("calculation aborted",
			slog.String("run_id", e.runID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	results := make([]Result, 0, len(order))
	failed := 0
	for _, code := range order {
		rule, _ := e.registry.Rule(code)
		res := e.evaluateRule(ctx, span, rule)
		if res.Failed() {
			failed++
		}
		results = append(results, res)
	}

	duration := time.Since(start)
	e.metrics.recordRun(ctx, len(order), duration, false)
	span.SetAttributes(attribute.Int("calc.failed_rules", failed))
	span.SetStatus(codes.Ok, "")

	e.logger.Info("calculation completed",
		slog.String("run_id", e.runID),
		slog.Int("rules", len(results)),
		slog.Int("failed", failed),
		slog.Duration("duration", duration),
	)
	return results, nil
}

func (e *Engine) hasInput(code string) bool {
	_, ok := e.inputs[code]
	return ok
}

// evaluateRule computes one rule's result and stores its value.
func (e *Engine) evaluateRule(ctx context.Context, span trace.Span, rule FormulaRule) Result {
	res := Result{
		Code:          rule.Code,
		Name:          rule.Name,
		Section:       rule.Section,
		Formula:       rule.Formula,
		LengthFormula: rule.LengthFormula,
		Sequence:      rule.Sequence,
	}

	value, err := e.evaluate(rule.Formula)
	if err != nil {
		res.Error = err.Error()
		span.AddEvent("rule_failed", trace.WithAttributes(
			attribute.String("rule", rule.Code),
			attribute.String("error", res.Error),
		))
		e.logger.Warn("rule failed",
			slog.String("run_id", e.runID),
			slog.String("rule", rule.Code),
			slog.String("formula", rule.Formula),
			slog.String("error", res.Error),
		)
		e.metrics.recordRule(ctx, rule.Section, true, false)
		return res
	}
	res.Value = value
	e.computed[rule.Code] = value

	if !expr.IsConstantZero(rule.LengthFormula) {
		length, err := e.evaluate(rule.LengthFormula)
		if err != nil {
			res.LengthError = err.Error()
			span.AddEvent("length_failed", trace.WithAttributes(
				attribute.String("rule", rule.Code),
				attribute.String("error", res.LengthError),
			))
			e.logger.Warn("length formula failed",
				slog.String("run_id", e.runID),
				slog.String("rule", rule.Code),
				slog.String("formula", rule.LengthFormula),
				slog.String("error", res.LengthError),
			)
		} else {
			res.Length = length
		}
	}

	e.metrics.recordRule(ctx, rule.Section, false, res.LengthError != "")
	e.logger.Debug("rule evaluated",
		slog.String("run_id", e.runID),
		slog.String("rule", rule.Code),
		slog.Float64("value", res.Value),
		slog.Float64("length", res.Length),
	)
	return res
}

// evaluate runs one formula against the engine's state. Non-finite results
// are reported as errors so results always serialize.
func (e *Engine) evaluate(formula string) (float64, error) {
	v, err := expr.Evaluate(formula, e.inputs, e.computed)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, &expr.Error{
			Kind: expr.ValueError,
			Msg:  fmt.Sprintf("formula produced a non-finite value (%s)", expr.FormatFloat(v)),
			Pos:  -1,
		}
	}
	return v, nil
}
