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
	"strings"
)

// Substitute replaces bare references to already computed codes with their
// numeric value.
//
// # Description
//
// Rule authors historically referenced earlier rules by writing their code
// as a bare word (`PURLIN_QTY * 2`) instead of `CALC('PURLIN_QTY')`. This
// pass keeps that working. It scans the formula once and rewrites an
// identifier when all of the following hold:
//
//   - it is a whole word equal to a key of computed,
//   - it is not inside a quoted string,
//   - it is not immediately followed by "(" (a call),
//   - it is not an attribute name after ".".
//
// Values are written as float literals ("6.0", "1e+20"); negative values
// are parenthesised so operator precedence is unchanged.
//
// # Inputs
//
//   - formula: Raw formula text. It need not be valid.
//   - computed: Values produced earlier in the run.
//
// # Outputs
//
//   - string: The rewritten formula; formula itself when nothing matched.
func Substitute(formula string, computed map[string]float64) string {
	if len(computed) == 0 || formula == "" {
		return formula
	}

	var b strings.Builder
	changed := false
	last := 0
	i := 0
	for i < len(formula) {
		c := formula[i]
		switch {
		case c == '\'' || c == '"':
			i = skipString(formula, i)

		case isDigit(c):
			// numeric literal, including exponents such as 1e5
			for i < len(formula) && (isIdentChar(formula[i]) || formula[i] == '.') {
				i++
			}

		case isIdentStart(c):
			start := i
			for i < len(formula) && isIdentChar(formula[i]) {
				i++
			}
			v, ok := computed[formula[start:i]]
			if !ok || followedByCall(formula, i) || precededByDot(formula, start) {
				continue
			}
			if !changed {
				b.Grow(len(formula) + 16)
				changed = true
			}
			b.WriteString(formula[last:start])
			b.WriteString(literalText(v))
			last = i

		default:
			i++
		}
	}
	if !changed {
		return formula
	}
	b.WriteString(formula[last:])
	return b.String()
}

// skipString returns the offset just past the string literal starting at
// i, or len(s) when it is unterminated.
func skipString(s string, i int) int {
	quote := s[i]
	j := i + 1
	for j < len(s) {
		switch s[j] {
		case '\\':
			j += 2
			continue
		case quote:
			return j + 1
		}
		j++
	}
	return len(s)
}

func followedByCall(s string, end int) bool {
	return end < len(s) && s[end] == '('
}

func precededByDot(s string, start int) bool {
	j := start - 1
	for j >= 0 && (s[j] == ' ' || s[j] == '\t') {
		j--
	}
	return j >= 0 && s[j] == '.'
}

func literalText(f float64) string {
	text := FormatFloat(f)
	if strings.HasPrefix(text, "-") {
		return "(" + text + ")"
	}
	return text
}
