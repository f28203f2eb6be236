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
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "greenframe.calc"

// Metrics holds the engine's OpenTelemetry instruments.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs           metric.Int64Counter
	cycles         metric.Int64Counter
	rulesEvaluated metric.Int64Counter
	ruleFailures   metric.Int64Counter
	lengthFailures metric.Int64Counter
	runDuration    metric.Float64Histogram
	ruleCount      metric.Int64Histogram
}

// NewMetrics registers the engine instruments on meter.
//
// Outputs:
//
//	*Metrics - Instruments; those that failed to register are left nil.
//	error - Joined registration errors, if any.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var errs []error
	var err error

	m.runs, err = meter.Int64Counter("calc_runs_total",
		metric.WithDescription("Number of CalculateAll runs"),
	)
	errs = append(errs, err)

	m.cycles, err = meter.Int64Counter("calc_cycle_failures_total",
		metric.WithDescription("Number of runs aborted by a dependency cycle"),
	)
	errs = append(errs, err)

	m.rulesEvaluated, err = meter.Int64Counter("calc_rules_evaluated_total",
		metric.WithDescription("Number of rules evaluated"),
	)
	errs = append(errs, err)

	m.ruleFailures, err = meter.Int64Counter("calc_rule_failures_total",
		metric.WithDescription("Number of rules whose primary formula failed"),
	)
	errs = append(errs, err)

	m.lengthFailures, err = meter.Int64Counter("calc_length_failures_total",
		metric.WithDescription("Number of rules whose length formula failed"),
	)
	errs = append(errs, err)

	m.runDuration, err = meter.Float64Histogram("calc_run_duration_seconds",
		metric.WithDescription("Time spent ordering and evaluating one run"),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)

	m.ruleCount, err = meter.Int64Histogram("calc_run_rules",
		metric.WithDescription("Number of rules registered per run"),
	)
	errs = append(errs, err)

	return m, errors.Join(errs...)
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// globalMetrics lazily registers instruments on the global meter provider.
// Registration failures degrade observability but never fail a run.
func globalMetrics(logger *slog.Logger) *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter(instrumentationName))
		if err != nil {
			logger.Error("failed to initialize some calc metrics (observability degraded)",
				slog.String("error", err.Error()),
			)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func (m *Metrics) recordRun(ctx context.Context, rules int, d time.Duration, cycle bool) {
	if m == nil {
		return
	}
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cycle", cycle)))
	}
	if cycle && m.cycles != nil {
		m.cycles.Add(ctx, 1)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, d.Seconds())
	}
	if m.ruleCount != nil {
		m.ruleCount.Record(ctx, int64(rules))
	}
}

func (m *Metrics) recordRule(ctx context.Context, section string, failed, lengthFailed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("section", section))
	if m.rulesEvaluated != nil {
		m.rulesEvaluated.Add(ctx, 1, attrs)
	}
	if failed && m.ruleFailures != nil {
		m.ruleFailures.Add(ctx, 1, attrs)
	}
	if lengthFailed && m.lengthFailures != nil {
		m.lengthFailures.Add(ctx, 1, attrs)
	}
}
