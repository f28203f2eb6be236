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
	"errors"
	"fmt"
)

// ErrorKind classifies evaluation failures using the names formula authors
// already know from the rule editor.
type ErrorKind string

const (
	SyntaxError       ErrorKind = "SyntaxError"
	NameError         ErrorKind = "NameError"
	TypeError         ErrorKind = "TypeError"
	ValueError        ErrorKind = "ValueError"
	ZeroDivisionError ErrorKind = "ZeroDivisionError"
	AttributeError    ErrorKind = "AttributeError"
	IndexError        ErrorKind = "IndexError"
)

// ErrEvaluation is matched by every *Error via errors.Is.
var ErrEvaluation = errors.New("formula evaluation failed")

// Error is a formula failure with its kind and source offset.
//
// Error() renders "Kind: message", which is the text shown next to the
// rule in diagnostics.
type Error struct {
	Kind ErrorKind
	Msg  string
	// Pos is the byte offset in the evaluated text, -1 when unknown.
	Pos int
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Msg
}

// Is reports ErrEvaluation equivalence.
func (e *Error) Is(target error) bool {
	return target == ErrEvaluation
}

func newError(kind ErrorKind, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// KindOf returns the ErrorKind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
