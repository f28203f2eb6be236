// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlite

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, migrations fstest.MapFS) *sql.DB {
	t.Helper()
	var fsys fs.FS
	if migrations != nil {
		fsys = migrations
	}
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"), fsys, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow(query).Scan(&n))
	return n
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ", nil, "")
	assert.Error(t, err)
}

func TestApplyMigrations_RecordsApplied(t *testing.T) {
	migrations := fstest.MapFS{
		"001_items.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;")},
		"README.md":     {Data: []byte("ignored")},
	}
	db := openTemp(t, migrations)

	assert.Equal(t, int64(1), count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, int64(0), count(t, db, "SELECT COUNT(*) FROM items"))

	// Replaying is a no-op.
	require.NoError(t, ApplyMigrations(context.Background(), db, migrations, ""))
	assert.Equal(t, int64(1), count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestApplyMigrations_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTemp(t, nil)
	bad := fstest.MapFS{"001_bad.sql": {Data: []byte("CREAT TABLE things(id INT);")}}

	require.Error(t, ApplyMigrations(context.Background(), db, bad, ""))
	assert.Equal(t, int64(0), count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nA;\n", UpSection("-- +migrate Up\nA;\n-- +migrate Down\nB;"))
	assert.Equal(t, "A;", UpSection("A;"))
	assert.Equal(t, "\nA;", UpSection("-- +migrate Up\nA;"))
}

func TestIsConstraintViolation(t *testing.T) {
	db := openTemp(t, fstest.MapFS{
		"001.sql": {Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);")},
	})
	_, err := db.Exec("INSERT INTO items(id) VALUES ('a')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO items(id) VALUES ('a')")
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))
	assert.False(t, IsConstraintViolation(sql.ErrNoRows))
}
