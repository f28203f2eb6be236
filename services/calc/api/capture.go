// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/materialize"
)

var errStore = errors.New("result store failed")

// captureSink keeps the planned batch for the response.
type captureSink struct {
	batch *materialize.Batch
}

func (s *captureSink) Materialize(_ context.Context, run calc.RunInfo, results []calc.Result) error {
	b := materialize.Plan(run, results)
	s.batch = &b
	return nil
}

// storeSink tags store failures so they map to STORE_FAILED.
type storeSink struct {
	next calc.Materializer
}

func (s storeSink) Materialize(ctx context.Context, run calc.RunInfo, results []calc.Result) error {
	if err := s.next.Materialize(ctx, run, results); err != nil {
		return fmt.Errorf("%w: %v", errStore, err)
	}
	return nil
}
