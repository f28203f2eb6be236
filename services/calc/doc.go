// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package calc computes greenhouse bills of components from formula rules.
//
// A run registers named formula rules, derives dependency edges from their
// text, orders them topologically and evaluates each formula exactly once.
// Later rules read earlier results through CALC('CODE') or, for older rule
// sets, by naming the code as a bare word.
//
//   - Registry: holds rules and maintains dependency/dependent maps.
//   - Graph: immutable snapshot of the registry used for ordering.
//   - Engine: one run's inputs, registry and computed values.
//   - Runner: drives an Engine through the run phases with host-provided
//     loaders and a Materializer.
//
// # Failure Model
//
// A cycle aborts the run with a *CycleError before anything is evaluated.
// Evaluation failures never abort: the failing rule's Result carries the
// evaluator's error text and a zero value, and every other rule still runs.
//
// # Thread Safety
//
// An Engine and its Registry belong to a single run and are not safe for
// concurrent use. Independent runs share nothing and may run in parallel.
//
// # Example
//
//	engine := calc.NewEngine(calc.Inputs{"y": expr.Int(3), "x": expr.Int(5)})
//	_ = engine.AddFormula(calc.FormulaRule{Code: "B", Formula: "GET('y') * 2"})
//	_ = engine.AddFormula(calc.FormulaRule{Code: "A", Formula: "GET('x') + CALC('B')"})
//	results, err := engine.CalculateAll(ctx)
package calc
