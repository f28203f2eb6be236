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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/greenframe/services/calc/expr"
)

type recordingMaterializer struct {
	calls   int
	run     RunInfo
	results []Result
	err     error
}

func (m *recordingMaterializer) Materialize(_ context.Context, run RunInfo, results []Result) error {
	m.calls++
	m.run = run
	m.results = results
	return m.err
}

func staticInputs(in Inputs) InputLoader {
	return InputLoaderFunc(func(context.Context) (Inputs, error) { return in, nil })
}

func staticRules(rules ...FormulaRule) RuleSource {
	return RuleSourceFunc(func(context.Context) ([]FormulaRule, error) { return rules, nil })
}

func newTestRunner(t *testing.T, inputs InputLoader, rules RuleSource, mat Materializer) (*Runner, *[]Phase) {
	t.Helper()
	m, err := NewMetrics(sdkmetric.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	var phases []Phase
	return &Runner{
		Project:      "north-range",
		Inputs:       inputs,
		Rules:        rules,
		Materializer: mat,
		Logger:       discardLogger(),
		EngineOpts:   []Option{WithMetrics(m)},
		OnPhase:      func(p Phase) { phases = append(phases, p) },
	}, &phases
}

func TestRunner_Run_WalksEveryPhase(t *testing.T) {
	mat := &recordingMaterializer{}
	runner, phases := newTestRunner(t,
		staticInputs(Inputs{"x": expr.Int(5), "y": expr.Int(3)}),
		staticRules(
			FormulaRule{Code: "A", Formula: "GET('x') + CALC('B')"},
			FormulaRule{Code: "B", Formula: "GET('y') * 2"},
			FormulaRule{Code: "Z", Formula: "0"},
			FormulaRule{Code: "E", Formula: "1/0"},
		),
		mat,
	)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Phase{
		PhaseIdle, PhaseLoadingInputs, PhaseRegisteringRules, PhaseSorting,
		PhaseEvaluating, PhaseMaterializing, PhaseDone,
	}, *phases)
	assert.Equal(t, PhaseDone, report.Phase)
	assert.Equal(t, []string{"B", "Z", "E", "A"}, report.Order)
	assert.Equal(t, Counts{Rules: 4, Succeeded: 3, Failed: 1, Zero: 1}, report.Counts)
	assert.Empty(t, report.Error)

	require.Equal(t, 1, mat.calls)
	assert.Equal(t, report.RunID, mat.run.RunID)
	assert.Equal(t, "north-range", mat.run.Project)
	assert.Equal(t, report.Results, mat.results)
}

func TestRunner_Run_WithoutMaterializer(t *testing.T) {
	runner, phases := newTestRunner(t, staticInputs(nil), staticRules(FormulaRule{Code: "A", Formula: "1"}), nil)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, report.Phase)
	assert.Contains(t, *phases, PhaseMaterializing)
}

func TestRunner_Run_CycleAbortsBeforeMaterializing(t *testing.T) {
	mat := &recordingMaterializer{}
	runner, phases := newTestRunner(t,
		staticInputs(nil),
		staticRules(
			FormulaRule{Code: "A", Formula: "CALC('B')"},
			FormulaRule{Code: "B", Formula: "CALC('A')"},
		),
		mat,
	)

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Equal(t, "SORTING", report.FailedPhase)
	assert.Empty(t, report.Results)
	assert.Zero(t, mat.calls)
	assert.NotContains(t, *phases, PhaseEvaluating)
}

func TestRunner_Run_LoaderErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("inputs", func(t *testing.T) {
		runner, _ := newTestRunner(t,
			InputLoaderFunc(func(context.Context) (Inputs, error) { return nil, boom }),
			staticRules(),
			nil,
		)
		report, err := runner.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "LOADING_INPUTS", report.FailedPhase)
	})

	t.Run("rules", func(t *testing.T) {
		runner, _ := newTestRunner(t,
			staticInputs(nil),
			RuleSourceFunc(func(context.Context) ([]FormulaRule, error) { return nil, boom }),
			nil,
		)
		report, err := runner.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "REGISTERING_RULES", report.FailedPhase)
	})

	t.Run("invalid rule", func(t *testing.T) {
		runner, _ := newTestRunner(t, staticInputs(nil), staticRules(FormulaRule{Code: "A"}), nil)
		report, err := runner.Run(context.Background())
		assert.ErrorIs(t, err, ErrInvalidRule)
		assert.Equal(t, "REGISTERING_RULES", report.FailedPhase)
	})

	t.Run("missing collaborators", func(t *testing.T) {
		runner := &Runner{Logger: discardLogger()}
		report, err := runner.Run(context.Background())
		assert.ErrorIs(t, err, ErrMissingCollaborator)
		assert.Equal(t, PhaseFailed, report.Phase)
	})
}

func TestRunner_Run_MaterializerError(t *testing.T) {
	mat := &recordingMaterializer{err: errors.New("disk full")}
	runner, _ := newTestRunner(t, staticInputs(nil), staticRules(FormulaRule{Code: "A", Formula: "1"}), mat)

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "MATERIALIZING", report.FailedPhase)
	// Evaluation completed before the sink failed.
	assert.Len(t, report.Results, 1)
}

func TestRunner_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mat := &recordingMaterializer{}
	runner, _ := newTestRunner(t, staticInputs(nil), staticRules(FormulaRule{Code: "A", Formula: "1"}), mat)

	report, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "LOADING_INPUTS", report.FailedPhase)
	assert.Zero(t, mat.calls)
}

func TestReport_JSON(t *testing.T) {
	runner, _ := newTestRunner(t, staticInputs(nil), staticRules(FormulaRule{Code: "A", Formula: "1"}), nil)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "DONE", decoded["phase"])
	assert.Equal(t, []any{"A"}, decoded["order"])

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, PhaseDone, back.Phase)
	assert.Equal(t, report.Order, back.Order)
	assert.Equal(t, report.Results, back.Results)
}

func TestPhase_TextRoundTrip(t *testing.T) {
	for p := PhaseIdle; p <= PhaseFailed; p++ {
		text, err := p.MarshalText()
		require.NoError(t, err)

		var back Phase
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, p, back)
	}

	var p Phase
	assert.Error(t, p.UnmarshalText([]byte("UNKNOWN")))
	assert.Error(t, p.UnmarshalText([]byte("done")))
}

func TestCountResults(t *testing.T) {
	counts := CountResults([]Result{
		{Code: "A", Value: 2},
		{Code: "B", Value: 0},
		{Code: "C", Error: "ZeroDivisionError: division by zero"},
		{Code: "D", Value: 1, LengthError: "TypeError: bad"},
	})
	assert.Equal(t, Counts{Rules: 4, Succeeded: 3, Failed: 1, LengthFailed: 1, Zero: 1}, counts)
}
