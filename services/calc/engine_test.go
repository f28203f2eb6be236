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
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/greenframe/services/calc/expr"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds an engine with a private meter so tests do not touch
// the global providers.
func newTestEngine(t *testing.T, inputs Inputs, opts ...Option) *Engine {
	t.Helper()
	m, err := NewMetrics(sdkmetric.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	base := []Option{WithLogger(discardLogger()), WithMetrics(m)}
	return NewEngine(inputs, append(base, opts...)...)
}

func addRules(t *testing.T, e *Engine, rules ...FormulaRule) {
	t.Helper()
	for _, rule := range rules {
		require.NoError(t, e.AddFormula(rule))
	}
}

func resultByCode(t *testing.T, results []Result, code string) Result {
	t.Helper()
	for _, r := range results {
		if r.Code == code {
			return r
		}
	}
	t.Fatalf("no result for %s", code)
	return Result{}
}

func codesOf(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Code
	}
	return out
}

// -----------------------------------------------------------------------------
// CalculateAll
// -----------------------------------------------------------------------------

func TestEngine_CalculateAll_DependencyOrderAndValues(t *testing.T) {
	e := newTestEngine(t, Inputs{"x": expr.Int(5), "y": expr.Int(3)})
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "GET('x') + CALC('B')"},
		FormulaRule{Code: "B", Formula: "GET('y') * 2"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, codesOf(results))
	assert.Equal(t, 6.0, resultByCode(t, results, "B").Value)
	assert.Equal(t, 11.0, resultByCode(t, results, "A").Value)
	assert.Equal(t, map[string]float64{"A": 11, "B": 6}, e.Computed())
}

func TestEngine_CalculateAll_CycleAbortsWithoutResults(t *testing.T) {
	e := newTestEngine(t, Inputs{"x": expr.Int(5), "y": expr.Int(3)})
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "GET('x') + CALC('B')"},
		FormulaRule{Code: "B", Formula: "GET('y') * 2 + A"},
	)

	results, err := e.CalculateAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
	assert.Empty(t, e.Computed())
}

func TestEngine_CalculateAll_NilContext(t *testing.T) {
	e := newTestEngine(t, nil)
	var ctx context.Context
	_, err := e.CalculateAll(ctx)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestEngine_CalculateAll_Idempotent(t *testing.T) {
	e := newTestEngine(t, Inputs{"bays": expr.Int(4), "span": expr.Float(9.6)}, WithRunID("fixed"))
	addRules(t, e,
		FormulaRule{Code: "TRUSS", Formula: "GET('bays') + 1", LengthFormula: "GET('span')"},
		FormulaRule{Code: "PURLIN", Formula: "TRUSS * 2"},
		FormulaRule{Code: "BAD", Formula: "1 / 0"},
	)

	first, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	second, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "fixed", e.RunID())
}

func TestEngine_CalculateAll_NewRunIDPerRun(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e, FormulaRule{Code: "A", Formula: "1"})

	_, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	first := e.RunID()
	_, err = e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, e.RunID())
}

func TestEngine_CalculateAll_ZeroRuleAndFailingSibling(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e,
		FormulaRule{Code: "NONE", Formula: "0"},
		FormulaRule{Code: "DIV", Formula: "1/0"},
		FormulaRule{Code: "OK", Formula: "2 + 2"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	none := resultByCode(t, results, "NONE")
	assert.False(t, none.Failed())
	assert.Zero(t, none.Value)

	div := resultByCode(t, results, "DIV")
	assert.True(t, div.Failed())
	assert.Equal(t, "ZeroDivisionError: division by zero", div.Error)
	assert.Zero(t, div.Value)

	assert.Equal(t, 4.0, resultByCode(t, results, "OK").Value)
}

func TestEngine_CalculateAll_TypeErrorDoesNotStopSiblings(t *testing.T) {
	e := newTestEngine(t, Inputs{"label": expr.String("north")})
	addRules(t, e,
		FormulaRule{Code: "LABEL", Formula: "GET('label') + 1"},
		FormulaRule{Code: "AFTER", Formula: "3"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)

	label := resultByCode(t, results, "LABEL")
	assert.True(t, label.Failed())
	assert.Contains(t, label.Error, "TypeError")
	assert.Equal(t, 3.0, resultByCode(t, results, "AFTER").Value)
}

func TestEngine_CalculateAll_FailedRuleIsUnavailableToDependents(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "1/0"},
		FormulaRule{Code: "B", Formula: "CALC('A', 9) + 1"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, resultByCode(t, results, "A").Failed())
	assert.Equal(t, 10.0, resultByCode(t, results, "B").Value)
}

func TestEngine_CalculateAll_BareTokenSubstitution(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "5"},
		FormulaRule{Code: "B", Formula: "A * 2"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codesOf(results))
	assert.Equal(t, 10.0, resultByCode(t, results, "B").Value)
}

func TestEngine_CalculateAll_ForwardBareTokenIsNotAnEdge(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "B + 1"},
		FormulaRule{Code: "B", Formula: "A * 2"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codesOf(results))
	assert.Equal(t, "NameError: name 'B' is not defined", resultByCode(t, results, "A").Error)
	assert.True(t, resultByCode(t, results, "B").Failed())
}

func TestEngine_CalculateAll_OrderIndependentLinksLaterCodes(t *testing.T) {
	e := newTestEngine(t, nil, WithExtractMode(ExtractOrderIndependent))
	addRules(t, e,
		FormulaRule{Code: "B", Formula: "A * 2"},
		FormulaRule{Code: "A", Formula: "5"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codesOf(results))
	assert.Equal(t, 10.0, resultByCode(t, results, "B").Value)
}

func TestEngine_CalculateAll_NegativeSubstitution(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e,
		FormulaRule{Code: "OFFSET", Formula: "-3"},
		FormulaRule{Code: "SQUARE", Formula: "OFFSET ** 2"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9.0, resultByCode(t, results, "SQUARE").Value)
}

func TestEngine_CalculateAll_ExplicitOnlyLeavesBareWordsUnbound(t *testing.T) {
	e := newTestEngine(t, nil, WithExtractMode(ExtractExplicitOnly))
	addRules(t, e,
		FormulaRule{Code: "B", Formula: "A * 2"},
		FormulaRule{Code: "A", Formula: "5"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, codesOf(results))

	b := resultByCode(t, results, "B")
	assert.Equal(t, "NameError: name 'A' is not defined", b.Error)
}

func TestEngine_CalculateAll_LengthFormula(t *testing.T) {
	e := newTestEngine(t, Inputs{"span": expr.Float(9.6), "bays": expr.Int(4)})
	addRules(t, e,
		FormulaRule{Code: "GUTTER", Formula: "GET('bays')", LengthFormula: "GET('span') * CALC('GUTTER')"},
		FormulaRule{Code: "RAFTER", Formula: "2", LengthFormula: "1 / 0"},
		FormulaRule{Code: "BROKEN", Formula: "1 / 0", LengthFormula: "5"},
		FormulaRule{Code: "PLAIN", Formula: "3"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)

	gutter := resultByCode(t, results, "GUTTER")
	assert.Equal(t, 4.0, gutter.Value)
	assert.InDelta(t, 38.4, gutter.Length, 1e-9)

	rafter := resultByCode(t, results, "RAFTER")
	assert.Equal(t, 2.0, rafter.Value)
	assert.Zero(t, rafter.Length)
	assert.Contains(t, rafter.LengthError, "ZeroDivisionError")
	assert.False(t, rafter.Failed())

	broken := resultByCode(t, results, "BROKEN")
	assert.True(t, broken.Failed())
	assert.Zero(t, broken.Length)
	assert.Empty(t, broken.LengthError)

	plain := resultByCode(t, results, "PLAIN")
	assert.Equal(t, "0", plain.LengthFormula)
	assert.Zero(t, plain.Length)
}

func TestEngine_CalculateAll_MissingReferenceUsesDefault(t *testing.T) {
	e := newTestEngine(t, Inputs{"width": expr.Int(8)})
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "CALC('missing', 7) + CALC('width', 1)"},
	)

	assert.Equal(t, []Unresolved{{Rule: "A", Code: "missing"}}, e.Unresolved())

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	// CALC reads computed values only, never inputs.
	assert.Equal(t, 8.0, resultByCode(t, results, "A").Value)
}

func TestEngine_CalculateAll_NonFiniteIsAnError(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e,
		FormulaRule{Code: "INF", Formula: "math.inf"},
		FormulaRule{Code: "NAN", Formula: "math.nan"},
	)

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ValueError: formula produced a non-finite value (inf)", resultByCode(t, results, "INF").Error)
	assert.Contains(t, resultByCode(t, results, "NAN").Error, "non-finite")
}

func TestEngine_CalculateAll_CeilOfDivision(t *testing.T) {
	e := newTestEngine(t, Inputs{"length": expr.Int(10)})
	addRules(t, e, FormulaRule{Code: "POSTS", Formula: "CEIL(GET('length') / 3)"})

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, results[0].Value)
}

func TestEngine_CalculateAll_ResultCarriesRuleFields(t *testing.T) {
	e := newTestEngine(t, nil)
	addRules(t, e, FormulaRule{
		Code:     "HOOP",
		Name:     "Hoop pipe",
		Formula:  "12",
		Section:  "structure",
		Sequence: 3,
	})

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Result{
		Code:          "HOOP",
		Name:          "Hoop pipe",
		Value:         12,
		Section:       "structure",
		Formula:       "12",
		LengthFormula: "0",
		Sequence:      3,
	}, results[0])
}

func TestEngine_InputsAreCopied(t *testing.T) {
	inputs := Inputs{"x": expr.Int(1)}
	e := newTestEngine(t, inputs)
	inputs["x"] = expr.Int(100)
	addRules(t, e, FormulaRule{Code: "A", Formula: "GET('x')"})

	results, err := e.CalculateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, results[0].Value)
}

// -----------------------------------------------------------------------------
// Telemetry
// -----------------------------------------------------------------------------

func TestEngine_CalculateAll_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	e := NewEngine(nil, WithLogger(discardLogger()), WithMetrics(m))
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "1", LengthFormula: "1/0"},
		FormulaRule{Code: "B", Formula: "1/0"},
		FormulaRule{Code: "C", Formula: "2"},
	)
	_, err = e.CalculateAll(context.Background())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(1), sumInt64(rm, "calc_runs_total"))
	assert.Equal(t, int64(3), sumInt64(rm, "calc_rules_evaluated_total"))
	assert.Equal(t, int64(1), sumInt64(rm, "calc_rule_failures_total"))
	assert.Equal(t, int64(1), sumInt64(rm, "calc_length_failures_total"))
	assert.Equal(t, int64(0), sumInt64(rm, "calc_cycle_failures_total"))
}

func TestEngine_CalculateAll_RecordsCycleMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	e := NewEngine(nil, WithLogger(discardLogger()), WithMetrics(m))
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "CALC('B')"},
		FormulaRule{Code: "B", Formula: "CALC('A')"},
	)
	_, err = e.CalculateAll(context.Background())
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(1), sumInt64(rm, "calc_cycle_failures_total"))
	assert.Equal(t, int64(0), sumInt64(rm, "calc_rules_evaluated_total"))
}

func sumInt64(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestEngine_CalculateAll_RecordsSpan(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	defer tp.Shutdown(context.Background())

	e := newTestEngine(t, nil, WithTracer(tp.Tracer("test")), WithRunID("run-1"))
	addRules(t, e,
		FormulaRule{Code: "A", Formula: "1/0"},
		FormulaRule{Code: "B", Formula: "2", LengthFormula: "GET('x') + 'a'"},
	)
	_, err := e.CalculateAll(context.Background())
	require.NoError(t, err)

	spans := spanRecorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "calc.CalculateAll", span.Name())

	attrs := make(map[string]any)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "run-1", attrs["calc.run_id"])
	assert.Equal(t, int64(2), attrs["calc.rule_count"])
	assert.Equal(t, int64(1), attrs["calc.failed_rules"])

	var events []string
	for _, ev := range span.Events() {
		events = append(events, ev.Name)
	}
	assert.Equal(t, []string{"rule_failed", "length_failed"}, events)
}

func TestEngine_CalculateAll_CycleMarksSpanError(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	defer tp.Shutdown(context.Background())

	e := newTestEngine(t, nil, WithTracer(tp.Tracer("test")))
	addRules(t, e, FormulaRule{Code: "A", Formula: "CALC('A')"})
	_, err := e.CalculateAll(context.Background())
	require.Error(t, err)

	spans := spanRecorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}
