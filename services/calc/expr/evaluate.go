// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expr

import (
	"strconv"
	"strings"
)

// IsConstantZero reports whether formula is one of the short-circuit
// forms that evaluate to 0 without parsing.
func IsConstantZero(formula string) bool {
	return formula == "" || formula == "0"
}

// Evaluate computes a formula to a float.
//
// # Description
//
// Evaluation runs in three steps: bare references to computed codes are
// substituted (see Substitute), the text is parsed, and the tree is
// interpreted against a closed namespace holding GET, CALC, INT, CEIL,
// FLOOR, ABS, MIN, MAX, SUM and math. No other name resolves, and the
// interpreter has no access to the host beyond inputs and computed.
//
// "" and "0" return 0 without being parsed.
//
// # Inputs
//
//   - formula: Formula text.
//   - inputs: Values GET() reads. Not modified.
//   - computed: Values CALC() reads. Not modified.
//
// # Outputs
//
//   - float64: The result. Booleans become 0/1 and numeric strings are parsed.
//   - error: *Error describing the failure. Callers record it; Evaluate
//     never panics on formula content.
//
// # Thread Safety
//
// Safe for concurrent use as long as the maps are not written concurrently.
func Evaluate(formula string, inputs map[string]Value, computed map[string]float64) (float64, error) {
	if IsConstantZero(formula) {
		return 0, nil
	}
	text := Substitute(formula, computed)
	root, err := Parse(text)
	if err != nil {
		return 0, err
	}
	ev := &evaluator{inputs: inputs, computed: computed}
	v, err := ev.eval(root)
	if err != nil {
		return 0, err
	}
	return ToFloat(v)
}

// ToFloat applies the final result coercion.
func ToFloat(v Value) (float64, error) {
	switch v.kind {
	case KindBool, KindInt, KindFloat:
		f, _ := v.Number()
		return f, nil
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, newError(ValueError, -1, "could not convert string to float: %s", v.String())
		}
		return f, nil
	}
	return 0, newError(TypeError, -1, "float() argument must be a string or a real number, not '%s'", v.kind)
}

// Identifiers returns the distinct bare names referenced by formula, in
// order of first appearance. Attribute names, keywords, literals and
// keyword-argument names are excluded.
func Identifiers(formula string) ([]string, error) {
	root, err := Parse(formula)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	Walk(root, func(n Node) bool {
		if ref, ok := n.(*nameRef); ok && !seen[ref.name] {
			seen[ref.name] = true
			names = append(names, ref.name)
		}
		return true
	})
	return names, nil
}

// Check parses formula and verifies every bare name is either a builtin or
// satisfies known, and every math attribute exists. It does not evaluate.
func Check(formula string, known func(name string) bool) error {
	if IsConstantZero(formula) {
		return nil
	}
	root, err := Parse(formula)
	if err != nil {
		return err
	}
	var firstErr error
	Walk(root, func(n Node) bool {
		if firstErr != nil {
			return false
		}
		switch n := n.(type) {
		case *nameRef:
			if !IsBuiltin(n.name) && (known == nil || !known(n.name)) {
				firstErr = newError(NameError, n.pos, "name '%s' is not defined", n.name)
			}
		case *attribute:
			if ref, ok := n.obj.(*nameRef); ok && ref.name == "math" {
				if _, ok := namespace["math"].mod.attrs[n.name]; !ok {
					firstErr = newError(AttributeError, n.pos, "module 'math' has no attribute '%s'", n.name)
				}
			}
		}
		return true
	})
	return firstErr
}

// MathNames lists the members of the math namespace.
func MathNames() []string {
	return mathAttrNames()
}
