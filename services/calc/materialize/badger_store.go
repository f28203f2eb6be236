// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/storage/badger"
)

// ErrRunNotFound is returned when a stored run does not exist.
var ErrRunNotFound = errors.New("run not found")

// defaultProject keys runs whose project has no name.
const defaultProject = "_"

// runMeta is the stored run header.
type runMeta struct {
	RunID     string    `json:"run_id"`
	Project   string    `json:"project"`
	StartedAt time.Time `json:"started_at"`
	Omitted   []string  `json:"omitted,omitempty"`
	StoredAt  time.Time `json:"stored_at"`
}

// BadgerStore keeps materialized runs in BadgerDB.
//
// Description:
//
//	Key layout:
//
//	  run/<project>/<runID>/meta              run header
//	  run/<project>/<runID>/component/<code>  Component JSON
//	  run/<project>/<runID>/diagnostic/<code> Diagnostic JSON
//	  latest/<project>                        runID of the last stored run
//
//	A run is written in one transaction, so readers never see half a run.
//
// Thread Safety:
//
//	Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerStore wraps an open database. A nil logger means slog.Default().
func NewBadgerStore(db *badger.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}
}

func projectKey(project string) string {
	if project == "" {
		return defaultProject
	}
	return project
}

func runPrefix(project, runID string) string {
	return "run/" + projectKey(project) + "/" + runID + "/"
}

func latestKey(project string) string {
	return "latest/" + projectKey(project)
}

// Materialize plans results and stores the batch.
func (s *BadgerStore) Materialize(ctx context.Context, run calc.RunInfo, results []calc.Result) error {
	return s.Save(ctx, Plan(run, results))
}

// Save stores a batch and marks it as the project's latest run.
func (s *BadgerStore) Save(ctx context.Context, b Batch) error {
	if b.RunID == "" {
		return errors.New("batch has no run id")
	}
	prefix := runPrefix(b.Project, b.RunID)
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		// A re-saved run replaces its previous records.
		if err := badger.DeletePrefix(txn, prefix); err != nil {
			return err
		}
		meta := runMeta{
			RunID:     b.RunID,
			Project:   b.Project,
			StartedAt: b.StartedAt,
			Omitted:   b.Omitted,
			StoredAt:  time.Now().UTC(),
		}
		if err := badger.PutJSON(txn, prefix+"meta", meta); err != nil {
			return err
		}
		for _, c := range b.Components {
			if err := badger.PutJSON(txn, prefix+"component/"+c.Code, c); err != nil {
				return err
			}
		}
		for _, d := range b.Diagnostics {
			if err := badger.PutJSON(txn, prefix+"diagnostic/"+d.Code, d); err != nil {
				return err
			}
		}
		return txn.Set([]byte(latestKey(b.Project)), []byte(b.RunID))
	})
	if err != nil {
		return fmt.Errorf("store run %s: %w", b.RunID, err)
	}

	s.logger.Info("run materialized",
		slog.String("store", "badger"),
		slog.String("run_id", b.RunID),
		slog.String("project", b.Project),
		slog.Int("components", len(b.Components)),
		slog.Int("diagnostics", len(b.Diagnostics)),
	)
	return nil
}

// Load reads a stored run.
func (s *BadgerStore) Load(ctx context.Context, project, runID string) (*Batch, error) {
	var b *Batch
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		b, err = loadRun(txn, project, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Latest reads the project's most recently stored run.
func (s *BadgerStore) Latest(ctx context.Context, project string) (*Batch, error) {
	var b *Batch
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(latestKey(project)))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: no runs for project %q", ErrRunNotFound, project)
		}
		if err != nil {
			return err
		}
		runID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		b, err = loadRun(txn, project, string(runID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func loadRun(txn *badgerdb.Txn, project, runID string) (*Batch, error) {
	prefix := runPrefix(project, runID)
	var meta runMeta
	if err := badger.GetJSON(txn, prefix+"meta", &meta); err != nil {
		if errors.Is(err, badger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	b := &Batch{
		RunID:       meta.RunID,
		Project:     meta.Project,
		StartedAt:   meta.StartedAt,
		Omitted:     meta.Omitted,
		Components:  []Component{},
		Diagnostics: []Diagnostic{},
	}
	err := badger.ScanPrefix(txn, prefix, func(key string, val []byte) error {
		rest := strings.TrimPrefix(key, prefix)
		switch {
		case strings.HasPrefix(rest, "component/"):
			var c Component
			if err := json.Unmarshal(val, &c); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			b.Components = append(b.Components, c)
		case strings.HasPrefix(rest, "diagnostic/"):
			var d Diagnostic
			if err := json.Unmarshal(val, &d); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			b.Diagnostics = append(b.Diagnostics, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys come back sorted by code; restore evaluation order.
	sort.Slice(b.Components, func(i, j int) bool { return b.Components[i].Position < b.Components[j].Position })
	sort.Slice(b.Diagnostics, func(i, j int) bool { return b.Diagnostics[i].Position < b.Diagnostics[j].Position })
	return b, nil
}

var (
	_ calc.Materializer = (*BadgerStore)(nil)
	_ RunStore          = (*BadgerStore)(nil)
)
