// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/greenframe/services/calc"
)

func testOptions() *Options {
	return &Options{
		Debounce:   50 * time.Millisecond,
		BufferSize: 64,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type batches struct {
	mu  sync.Mutex
	got [][]Change
	ch  chan struct{}
}

func newBatches() *batches {
	return &batches{ch: make(chan struct{}, 16)}
}

func (b *batches) handler(_ context.Context, changes []Change) {
	b.mu.Lock()
	b.got = append(b.got, changes)
	b.mu.Unlock()
	b.ch <- struct{}{}
}

func (b *batches) wait(t *testing.T) []Change {
	t.Helper()
	select {
	case <-b.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.got[len(b.got)-1]
}

func TestWatcher_DebouncesWatchedFile(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(project, []byte("name: a\n"), 0o644))

	b := newBatches()
	w, err := New([]string{project}, b.handler, testOptions())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// An unrelated file in the same directory is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(project, []byte("name: b\n"), 0o644))
	}

	changes := b.wait(t)
	require.Len(t, changes, 1)
	abs, _ := filepath.Abs(project)
	assert.Equal(t, abs, changes[0].Path)
}

func TestWatcher_RenameOverFile(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("sections: []\n"), 0o644))

	b := newBatches()
	w, err := New([]string{rules}, b.handler, testOptions())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	tmp := filepath.Join(dir, ".rules.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("sections: []\n"), 0o644))
	require.NoError(t, os.Rename(tmp, rules))

	changes := b.wait(t)
	require.NotEmpty(t, changes)
	assert.Equal(t, "rules.yaml", filepath.Base(changes[0].Path))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.True(t, errors.Is(err, ErrNoPaths))
	_, err = New([]string{""}, nil, nil)
	assert.True(t, errors.Is(err, ErrNoPaths))
}

func TestStart_MissingDirectory(t *testing.T) {
	w, err := New([]string{filepath.Join(t.TempDir(), "gone", "project.yaml")}, nil, testOptions())
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_Files(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "b.yaml"), filepath.Join(dir, "a.yaml"), ""}, nil, testOptions())
	require.NoError(t, err)
	defer w.Stop()
	files := w.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "a.yaml", filepath.Base(files[0]))
}

func TestRun_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "p.yaml")}, nil, testOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDedupe(t *testing.T) {
	in := []Change{
		{Path: "a", Op: OpWrite},
		{Path: "b", Op: OpCreate},
		{Path: "a", Op: OpRemove},
	}
	out := dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, OpRemove, out[0].Op)
	assert.Equal(t, "b", out[1].Path)
	assert.Equal(t, "rename", OpRename.String())
}

func TestRerun(t *testing.T) {
	var reports []*calc.Report
	var errs []error
	builds := 0
	build := func() (*calc.Runner, error) {
		builds++
		if builds == 2 {
			return nil, errors.New("bad project")
		}
		return &calc.Runner{
			Inputs: calc.InputLoaderFunc(func(context.Context) (calc.Inputs, error) { return calc.Inputs{}, nil }),
			Rules: calc.RuleSourceFunc(func(context.Context) ([]calc.FormulaRule, error) {
				return []calc.FormulaRule{{Code: "A", Formula: "1"}}, nil
			}),
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		}, nil
	}
	h := Rerun(build, func(r *calc.Report, err error) {
		reports = append(reports, r)
		errs = append(errs, err)
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	h(context.Background(), []Change{{Path: "p.yaml", Op: OpWrite}})
	h(context.Background(), []Change{{Path: "p.yaml", Op: OpWrite}})

	require.Len(t, reports, 2)
	require.NoError(t, errs[0])
	assert.Equal(t, calc.PhaseDone, reports[0].Phase)
	assert.Nil(t, reports[1])
	assert.EqualError(t, errs[1], "bad project")
}
