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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/materialize/migrations"
	"github.com/AleutianAI/greenframe/services/calc/storage/sqlite"
)

// SQLiteStore keeps materialized runs in SQLite tables runs, components
// and diagnostics.
//
// Thread Safety:
//
//	Safe for concurrent use; database/sql pools connections.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens the database at path and applies the run-store
// migrations.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sqlite.Open(ctx, path, migrations.FS, "")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Materialize plans results and stores the batch.
func (s *SQLiteStore) Materialize(ctx context.Context, run calc.RunInfo, results []calc.Result) error {
	return s.Save(ctx, Plan(run, results))
}

// Save stores a batch in one transaction, replacing any earlier copy of
// the same run.
func (s *SQLiteStore) Save(ctx context.Context, b Batch) error {
	if b.RunID == "" {
		return errors.New("batch has no run id")
	}
	omitted, err := json.Marshal(b.Omitted)
	if err != nil {
		return fmt.Errorf("encode omitted codes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, b.RunID); err != nil {
		return fmt.Errorf("clear run %s: %w", b.RunID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, project, started_at, stored_at, omitted) VALUES (?, ?, ?, ?, ?)`,
		b.RunID, b.Project, toMillis(b.StartedAt), toMillis(time.Now()), string(omitted),
	); err != nil {
		return fmt.Errorf("insert run %s: %w", b.RunID, err)
	}

	for _, c := range b.Components {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO components (
			   run_id, code, position, name, section,
			   quantity, unit_length, total_length, length_error
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.RunID, c.Code, c.Position, c.Name, c.Section,
			c.Quantity, c.UnitLength, c.TotalLength, c.LengthError,
		); err != nil {
			if sqlite.IsConstraintViolation(err) {
				return fmt.Errorf("duplicate component %s in run %s: %w", c.Code, b.RunID, err)
			}
			return fmt.Errorf("insert component %s: %w", c.Code, err)
		}
	}
	for _, d := range b.Diagnostics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO diagnostics (
			   run_id, code, position, name, section, formula, error
			 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.RunID, d.Code, d.Position, d.Name, d.Section, d.Formula, d.Error,
		); err != nil {
			return fmt.Errorf("insert diagnostic %s: %w", d.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", b.RunID, err)
	}

	s.logger.Info("run materialized",
		slog.String("store", "sqlite"),
		slog.String("run_id", b.RunID),
		slog.String("project", b.Project),
		slog.Int("components", len(b.Components)),
		slog.Int("diagnostics", len(b.Diagnostics)),
	)
	return nil
}

// Components returns a run's components in evaluation order.
func (s *SQLiteStore) Components(ctx context.Context, runID string) ([]Component, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, code, name, section, quantity, unit_length, total_length, length_error
		   FROM components WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	out := []Component{}
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.Position, &c.Code, &c.Name, &c.Section,
			&c.Quantity, &c.UnitLength, &c.TotalLength, &c.LengthError); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Diagnostics returns a run's diagnostics in evaluation order.
func (s *SQLiteStore) Diagnostics(ctx context.Context, runID string) ([]Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, code, name, section, formula, error
		   FROM diagnostics WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	out := []Diagnostic{}
	for rows.Next() {
		var d Diagnostic
		if err := rows.Scan(&d.Position, &d.Code, &d.Name, &d.Section, &d.Formula, &d.Error); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Load reads a whole stored run.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*Batch, error) {
	var (
		b         Batch
		startedAt int64
		omitted   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, project, started_at, omitted FROM runs WHERE run_id = ?`, runID,
	).Scan(&b.RunID, &b.Project, &startedAt, &omitted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	b.StartedAt = fromMillis(startedAt)
	if omitted != "" {
		if err := json.Unmarshal([]byte(omitted), &b.Omitted); err != nil {
			return nil, fmt.Errorf("decode omitted codes: %w", err)
		}
	}
	if b.Components, err = s.Components(ctx, runID); err != nil {
		return nil, err
	}
	if b.Diagnostics, err = s.Diagnostics(ctx, runID); err != nil {
		return nil, err
	}
	return &b, nil
}

// LatestRunID returns the id of the project's most recently stored run.
func (s *SQLiteStore) LatestRunID(ctx context.Context, project string) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM runs WHERE project = ? ORDER BY stored_at DESC, rowid DESC LIMIT 1`, project,
	).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no runs for project %q", ErrRunNotFound, project)
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return runID, nil
}

// Latest reads the project's most recently stored run.
func (s *SQLiteStore) Latest(ctx context.Context, project string) (*Batch, error) {
	runID, err := s.LatestRunID(ctx, project)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, runID)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var (
	_ calc.Materializer = (*SQLiteStore)(nil)
	_ RunStore          = (*SQLiteStore)(nil)
)
