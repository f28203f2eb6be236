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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the calc package.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidRule is returned when a rule has no code or no formula.
	ErrInvalidRule = errors.New("invalid rule definition")

	// ErrCycleDetected is returned when the rules cannot be ordered.
	ErrCycleDetected = errors.New("cycle detected in rule dependencies")

	// ErrRuleNotFound is returned when a referenced rule isn't registered.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrMissingCollaborator is returned when a Runner lacks a loader.
	ErrMissingCollaborator = errors.New("runner collaborator not configured")
)

// RuleError wraps an error with the rule that caused it.
type RuleError struct {
	Code string
	Err  error
}

// Error returns the error message.
func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.Code, e.Err)
}

// Unwrap returns the underlying error.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// CycleError reports the rules that could not be ordered.
//
// Codes lists every rule left unordered, in registration order. That
// includes rules on a cycle and rules that only depend on one. Path holds
// one concrete cycle when it could be traced, first code repeated at the
// end (A -> B -> A).
type CycleError struct {
	Codes []string
	Path  []string
}

// Error names the implicated codes.
func (e *CycleError) Error() string {
	msg := "cycle detected among rules: " + strings.Join(e.Codes, ", ")
	if len(e.Path) > 0 {
		msg += " (" + strings.Join(e.Path, " -> ") + ")"
	}
	return msg
}

// Unwrap returns ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
