// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch runs several independent projects concurrently.
//
// Every job owns its Runner, and every Runner builds its own Engine, so
// jobs share no calculation state. A failing job does not stop its
// siblings unless FailFast is set.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/geometry"
	"github.com/AleutianAI/greenframe/services/calc/ruleset"
)

// ErrNoRuleSet is returned for a project that names no rule set and was
// given none.
var ErrNoRuleSet = errors.New("project has no rule set")

// Job is one project run.
type Job struct {
	Name   string
	Runner *calc.Runner
}

// Outcome is the result of one job. Report is non-nil whenever the runner
// started.
type Outcome struct {
	Name     string        `json:"name" yaml:"name"`
	Report   *calc.Report  `json:"report,omitempty" yaml:"report,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`

	Err error `json:"-" yaml:"-"`
}

// Options configures Run.
type Options struct {
	// Concurrency caps simultaneous jobs. <= 0 means GOMAXPROCS.
	Concurrency int

	// FailFast cancels outstanding jobs after the first failure and makes
	// Run return that error.
	FailFast bool

	Logger *slog.Logger
}

// Option configures Run.
type Option func(*Options)

// WithConcurrency sets the job limit.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithFailFast enables fail-fast mode.
func WithFailFast(enabled bool) Option {
	return func(o *Options) { o.FailFast = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Run executes jobs with bounded concurrency.
//
// Description:
//
//	Outcomes are returned in job order regardless of completion order.
//	Without FailFast every job runs and the returned error is nil; each
//	failure is reported on its Outcome. With FailFast the first failure
//	cancels the shared context and is returned.
//
// Inputs:
//
//	ctx - Cancellation for all jobs. Must not be nil.
//	jobs - Jobs to run. A job without a Runner fails with
//	       calc.ErrMissingCollaborator.
//
// Outputs:
//
//	[]Outcome - One per job.
//	error - ctx's error, or the first failure with FailFast.
//
// Thread Safety: Safe for concurrent use; jobs must not share Runners.
func Run(ctx context.Context, jobs []Job, opts ...Option) ([]Outcome, error) {
	if ctx == nil {
		return nil, calc.ErrNilContext
	}
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.Concurrency <= 0 {
		options.Concurrency = runtime.GOMAXPROCS(0)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	outcomes := make([]Outcome, len(jobs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(options.Concurrency)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			start := time.Now()
			out := Outcome{Name: job.Name}
			if job.Runner == nil {
				out.Err = fmt.Errorf("%w: job %q has no runner", calc.ErrMissingCollaborator, job.Name)
			} else {
				out.Report, out.Err = job.Runner.Run(gCtx)
			}
			out.Duration = time.Since(start)
			if out.Err != nil {
				out.Error = out.Err.Error()
				logger.Warn("batch job failed",
					slog.String("job", job.Name),
					slog.String("error", out.Error),
				)
			}
			outcomes[i] = out

			if options.FailFast && out.Err != nil {
				return fmt.Errorf("job %s: %w", job.Name, out.Err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	logger.Info("batch completed",
		slog.Int("jobs", len(jobs)),
		slog.Int("failed", failed),
	)
	return outcomes, nil
}

// ProjectConfig holds what a project runner needs beyond the project file.
type ProjectConfig struct {
	// RulesPath and GlobalPath override the paths named in the project.
	RulesPath  string
	GlobalPath string

	Materializer calc.Materializer
	Logger       *slog.Logger
	EngineOpts   []calc.Option
}

// NewProjectRunner loads a project file and builds its Runner. Inputs are
// read from the already-parsed project; rules are re-read on every run.
func NewProjectRunner(path string, cfg ProjectConfig) (*calc.Runner, error) {
	p, err := geometry.LoadProject(path)
	if err != nil {
		return nil, err
	}
	return ProjectRunner(p, cfg)
}

// ProjectRunner builds a Runner for a parsed project.
func ProjectRunner(p *geometry.Project, cfg ProjectConfig) (*calc.Runner, error) {
	rulesPath := cfg.RulesPath
	if rulesPath == "" {
		rulesPath = p.RulesPath()
	}
	if rulesPath == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRuleSet, p.Name)
	}
	globalPath := cfg.GlobalPath
	if globalPath == "" {
		globalPath = p.GlobalPath()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("project", p.Name))

	return &calc.Runner{
		Project:      p.Name,
		Inputs:       &geometry.ProjectLoader{Project: p, Logger: logger},
		Rules:        &ruleset.FileSource{Path: rulesPath, GlobalPath: globalPath, Logger: logger},
		Materializer: cfg.Materializer,
		Logger:       logger,
		EngineOpts:   cfg.EngineOpts,
	}, nil
}

// ProjectJobs builds one job per project file. The first file that fails
// to load aborts the build.
func ProjectJobs(paths []string, cfg ProjectConfig) ([]Job, error) {
	jobs := make([]Job, 0, len(paths))
	for _, path := range paths {
		runner, err := NewProjectRunner(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		jobs = append(jobs, Job{Name: runner.Project, Runner: runner})
	}
	return jobs, nil
}
