// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expr evaluates greenhouse component formulas.
//
// Formulas are short algebraic expressions written by rule authors:
//
//	CEIL(GET('span_length') / 20 + 1)
//	CALC('TRUSS_QTY') * 2 if GET('double_truss', False) else CALC('TRUSS_QTY')
//	MAX(GET('bay_width'), 4.0) * math.sqrt(2)
//
// The package parses formulas into a small AST and interprets it. The only
// names a formula can reach are GET, CALC, INT, CEIL, FLOOR, ABS, MIN, MAX,
// SUM and the math namespace, so formula text cannot touch the host.
//
// # Thread Safety
//
// All exported functions are safe for concurrent use.
package expr
