// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/greenframe/services/calc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticRunner(name string, rules ...calc.FormulaRule) *calc.Runner {
	return &calc.Runner{
		Project: name,
		Inputs: calc.InputLoaderFunc(func(context.Context) (calc.Inputs, error) {
			return calc.Inputs{}, nil
		}),
		Rules: calc.RuleSourceFunc(func(context.Context) ([]calc.FormulaRule, error) {
			return rules, nil
		}),
		Logger: discardLogger(),
	}
}

func TestRun_IndependentJobs(t *testing.T) {
	jobs := []Job{
		{Name: "a", Runner: staticRunner("a", calc.FormulaRule{Code: "X", Formula: "2"})},
		{Name: "b", Runner: staticRunner("b", calc.FormulaRule{Code: "X", Formula: "3"})},
		{Name: "c", Runner: staticRunner("c",
			calc.FormulaRule{Code: "P", Formula: "CALC('Q')"},
			calc.FormulaRule{Code: "Q", Formula: "CALC('P')"},
		)},
	}

	outcomes, err := Run(context.Background(), jobs, WithConcurrency(2), WithLogger(discardLogger()))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "a", outcomes[0].Name)
	assert.Equal(t, 2.0, outcomes[0].Report.Results[0].Value)
	assert.Equal(t, 3.0, outcomes[1].Report.Results[0].Value)

	// The cycle in c does not affect a and b.
	assert.True(t, errors.Is(outcomes[2].Err, calc.ErrCycleDetected))
	assert.NotEmpty(t, outcomes[2].Error)
	assert.Equal(t, calc.PhaseFailed, outcomes[2].Report.Phase)
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	var active, peak int64
	var mu sync.Mutex
	slow := func(context.Context) (calc.Inputs, error) {
		n := atomic.AddInt64(&active, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return calc.Inputs{}, nil
	}

	var jobs []Job
	for i := 0; i < 6; i++ {
		r := staticRunner(fmt.Sprint(i), calc.FormulaRule{Code: "X", Formula: "1"})
		r.Inputs = calc.InputLoaderFunc(slow)
		jobs = append(jobs, Job{Name: r.Project, Runner: r})
	}

	outcomes, err := Run(context.Background(), jobs, WithConcurrency(2), WithLogger(discardLogger()))
	require.NoError(t, err)
	assert.Len(t, outcomes, 6)
	assert.LessOrEqual(t, peak, int64(2))
}

func TestRun_FailFast(t *testing.T) {
	boom := errors.New("disk on fire")
	bad := staticRunner("bad")
	bad.Inputs = calc.InputLoaderFunc(func(context.Context) (calc.Inputs, error) { return nil, boom })

	outcomes, err := Run(context.Background(), []Job{{Name: "bad", Runner: bad}},
		WithFailFast(true), WithLogger(discardLogger()))
	assert.ErrorIs(t, err, boom)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, boom)
}

func TestRun_MissingRunner(t *testing.T) {
	outcomes, err := Run(context.Background(), []Job{{Name: "empty"}}, WithLogger(discardLogger()))
	require.NoError(t, err)
	assert.True(t, errors.Is(outcomes[0].Err, calc.ErrMissingCollaborator))
}

func TestRun_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Run(nil, nil)
	assert.True(t, errors.Is(err, calc.ErrNilContext))
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := Run(ctx, []Job{{Name: "a", Runner: staticRunner("a")}}, WithLogger(discardLogger()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
}

const rulesYAML = `
sections:
  - code: frame
    rules:
      - code: COLUMN_QTY
        formula: (GET('no_of_spans') + 1) * (GET('no_of_bays') + 1)
`

func writeProject(t *testing.T, dir, name string, spanWidth int) string {
	t.Helper()
	doc := fmt.Sprintf(`
name: %s
params:
  total_span_length: 20
  total_bay_length: 12
  span_width: %d
  bay_width: 5
rules: rules.yaml
`, name, spanWidth)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestProjectJobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(rulesYAML), 0o644))
	paths := []string{
		writeProject(t, dir, "north", 4), // 3 spans, 4 bays
		writeProject(t, dir, "south", 6), // 2 spans, 4 bays
	}

	jobs, err := ProjectJobs(paths, ProjectConfig{Logger: discardLogger()})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "north", jobs[0].Name)

	outcomes, err := Run(context.Background(), jobs, WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, 20.0, outcomes[0].Report.Results[0].Value)
	assert.Equal(t, 15.0, outcomes[1].Report.Results[0].Value)
	assert.Equal(t, "south", outcomes[1].Report.Project)
}

func TestProjectJobs_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := ProjectJobs([]string{filepath.Join(dir, "missing.yaml")}, ProjectConfig{})
	assert.Error(t, err)

	path := filepath.Join(dir, "bare.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bare\n"), 0o644))
	_, err = ProjectJobs([]string{path}, ProjectConfig{})
	assert.True(t, errors.Is(err, ErrNoRuleSet))

	runner, err := NewProjectRunner(path, ProjectConfig{RulesPath: filepath.Join(dir, "elsewhere.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "bare", runner.Project)
}
