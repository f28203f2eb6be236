// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command greenframe evaluates greenhouse formula rule sets.
package main

import (
	"errors"
	"os"

	"github.com/AleutianAI/greenframe/services/calc"
)

// Exit codes.
const (
	exitFailure = 1
	exitCycle   = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, calc.ErrCycleDetected) {
		return exitCycle
	}
	return exitFailure
}
