// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level defines how rich terminal output is.
type Level string

const (
	// LevelRich enables colors, icons and bordered tables.
	LevelRich Level = "rich"

	// LevelPlain keeps icons and tables but drops color.
	LevelPlain Level = "plain"

	// LevelMachine outputs tab-separated text suitable for scripting.
	LevelMachine Level = "machine"
)

// ParseLevel converts a string to a Level. Unknown names are LevelPlain.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "rich", "full", "color":
		return LevelRich
	case "machine", "quiet", "q":
		return LevelMachine
	default:
		return LevelPlain
	}
}

// DetectLevel picks a level for w.
//
// Description:
//
//	NO_COLOR selects LevelPlain. A terminal selects LevelRich. Anything
//	else (pipes, files, buffers) selects LevelMachine.
func DetectLevel(w io.Writer) Level {
	if !IsTerminal(w) {
		return LevelMachine
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return LevelPlain
	}
	return LevelRich
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
