// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry initializes OpenTelemetry for greenframe.
//
// The calc engine records spans and metrics through otel.Tracer and
// otel.Meter. Init installs real providers behind those globals; without
// Init they are no-ops.
//
// # Trace exporters
//
//   - otlp: OTLP over gRPC (Jaeger, Tempo, any OTLP collector)
//   - stdout: pretty-printed spans on stdout
//   - none: no tracer provider is installed
//
// # Metric exporters
//
//   - prometheus: served by MetricsHandler on /metrics
//   - stdout: periodic pretty-printed metrics on stdout
//   - none: no meter provider is installed
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Thread Safety
//
// Init is called once at startup. Everything else is safe for concurrent use.
package telemetry
