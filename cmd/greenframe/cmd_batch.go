// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/greenframe/services/calc/batch"
)

// runBatch handles `greenframe batch`.
func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	opts, err := a.engineOptions()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	jobs, err := batch.ProjectJobs(args, batch.ProjectConfig{
		Materializer: st.sink,
		Logger:       a.logger,
		EngineOpts:   opts,
	})
	if err != nil {
		return err
	}

	limit := a.cfg.Batch.Concurrency
	if concurrency > 0 {
		limit = concurrency
	}
	outcomes, runErr := batch.Run(ctx, jobs,
		batch.WithConcurrency(limit),
		batch.WithFailFast(failFast || a.cfg.Batch.FailFast),
		batch.WithLogger(a.logger),
	)

	if a.format != formatTable {
		if err := a.encode(outcomes); err != nil {
			return err
		}
	} else {
		a.renderOutcomes(outcomes)
	}
	if runErr != nil {
		return runErr
	}
	if failed := countFailed(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d projects failed", failed, len(outcomes))
	}
	return nil
}

func countFailed(outcomes []batch.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
