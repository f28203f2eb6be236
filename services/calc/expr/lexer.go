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

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokString
	tokName
	tokOp
)

// token is one lexeme. Pos/End are byte offsets into the source; for
// strings Text holds the unescaped payload.
type token struct {
	kind tokKind
	text string
	pos  int
	end  int
}

func (t token) is(op string) bool {
	return (t.kind == tokOp || t.kind == tokName) && t.text == op
}

// twoCharOps must be checked before single-character operators.
var twoCharOps = []string{"**", "//", "<=", ">=", "==", "!="}

const singleCharOps = "+-*/%<>()[],.="

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// tokenize splits src into tokens, always terminated by a tokEOF token.
func tokenize(src string) ([]token, error) {
	toks := make([]token, 0, len(src)/2+1)
	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++

		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			// explicit line continuation
			i += 2

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			end, err := scanNumber(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:end], pos: i, end: end})
			i = end

		case isIdentStart(c):
			end := i + 1
			for end < len(src) && isIdentChar(src[end]) {
				end++
			}
			toks = append(toks, token{kind: tokName, text: src[i:end], pos: i, end: end})
			i = end

		case c == '\'' || c == '"':
			text, end, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i, end: end})
			i = end

		default:
			matched := false
			for _, op := range twoCharOps {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, token{kind: tokOp, text: op, pos: i, end: i + 2})
					i += 2
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.IndexByte(singleCharOps, c) >= 0 {
				toks = append(toks, token{kind: tokOp, text: string(c), pos: i, end: i + 1})
				i++
				continue
			}
			return nil, newError(SyntaxError, i, "invalid character %q at position %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src), end: len(src)})
	return toks, nil
}

// scanNumber returns the end offset of the numeric literal starting at i.
func scanNumber(src string, i int) (int, error) {
	end := i
	for end < len(src) && isDigit(src[end]) {
		end++
	}
	if end < len(src) && src[end] == '.' {
		end++
		for end < len(src) && isDigit(src[end]) {
			end++
		}
	}
	if end < len(src) && (src[end] == 'e' || src[end] == 'E') {
		j := end + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j >= len(src) || !isDigit(src[j]) {
			return 0, newError(SyntaxError, i, "invalid decimal literal at position %d", i)
		}
		for j < len(src) && isDigit(src[j]) {
			j++
		}
		end = j
	}
	if end < len(src) && isIdentStart(src[end]) {
		return 0, newError(SyntaxError, i, "invalid decimal literal at position %d", i)
	}
	return end, nil
}

// scanString reads a quoted literal starting at i and returns its payload.
func scanString(src string, i int) (string, int, error) {
	quote := src[i]
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		c := src[j]
		switch {
		case c == quote:
			return b.String(), j + 1, nil
		case c == '\n':
			return "", 0, newError(SyntaxError, i, "unterminated string literal at position %d", i)
		case c == '\\' && j+1 < len(src):
			j++
			switch e := src[j]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			j++
		default:
			b.WriteByte(c)
			j++
		}
	}
	return "", 0, newError(SyntaxError, i, "unterminated string literal at position %d", i)
}
