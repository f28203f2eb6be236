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

import "fmt"

// Phase is a step of a run. Runs move through the phases linearly and
// never resume.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoadingInputs
	PhaseRegisteringRules
	PhaseSorting
	PhaseEvaluating
	PhaseMaterializing
	PhaseDone
	// PhaseFailed is terminal: a loader, the sort or the materializer failed.
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseLoadingInputs:
		return "LOADING_INPUTS"
	case PhaseRegisteringRules:
		return "REGISTERING_RULES"
	case PhaseSorting:
		return "SORTING"
	case PhaseEvaluating:
		return "EVALUATING"
	case PhaseMaterializing:
		return "MATERIALIZING"
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the phase name in JSON and YAML output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	for candidate := PhaseIdle; candidate <= PhaseFailed; candidate++ {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}
