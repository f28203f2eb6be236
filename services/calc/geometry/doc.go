// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package geometry loads a greenhouse project's parameters and derives the
// base geometry every rule set reads.
//
// A project file (YAML or JSON) names the project, lists the user-entered
// dimensions and any extra parameters, and points at the rule set to run.
// Inputs flattens all of that into the calc.Inputs map that GET() reads:
//
//	total_span_length, width_front_span, ...   user parameters
//	span_length, bay_length                    clear lengths
//	no_of_spans, no_of_bays                    whole counts
//	structure_size                             covered area
//
// # Thread Safety
//
// Params, Base and Project are values. FileLoader is safe for concurrent
// use; every call reads the file afresh.
package geometry
