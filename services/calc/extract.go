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
	"regexp"

	"github.com/AleutianAI/greenframe/services/calc/expr"
)

var (
	// calcCallPattern matches CALC('CODE') and CALC("CODE"), with optional
	// whitespace and an optional trailing default argument.
	calcCallPattern = regexp.MustCompile(`\bCALC\s*\(\s*(?:'([^'\n]*)'|"([^"\n]*)")`)

	// bareTokenPattern matches uppercase-style identifiers.
	bareTokenPattern = regexp.MustCompile(`\b[A-Z_][A-Z0-9_]*\b`)
)

var knownFunctions = func() map[string]bool {
	m := make(map[string]bool, len(expr.FunctionNames))
	for _, name := range expr.FunctionNames {
		m[name] = true
	}
	return m
}()

// explicitRefs returns the codes named in CALC() calls, in order of first
// appearance.
func explicitRefs(formula string) []string {
	matches := calcCallPattern.FindAllStringSubmatch(formula, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		code := m[1]
		if code == "" {
			code = m[2]
		}
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		refs = append(refs, code)
	}
	return refs
}

// bareTokens returns the uppercase-style words of formula that could name
// another rule: function names and self are dropped. The scan covers the
// raw text, quoted arguments included, the same way the legacy scan did.
func bareTokens(formula, self string) []string {
	matches := bareTokenPattern.FindAllString(formula, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, tok := range matches {
		if tok == self || knownFunctions[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}
