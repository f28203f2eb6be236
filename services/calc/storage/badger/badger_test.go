// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Code  string  `json:"code"`
	Value float64 `json:"value"`
}

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	db, err := Open(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return PutJSON(txn, "latest/north", record{Code: "A", Value: 1})
	}))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	db, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	var got record
	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return GetJSON(txn, "latest/north", &got)
	}))
	assert.Equal(t, record{Code: "A", Value: 1}, got)
}

func TestOpen_Invalid(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorContains(t, err, "path is required")

	cfg := DefaultConfig(t.TempDir())
	cfg.GCDiscardRatio = 1.5
	_, err = Open(cfg)
	assert.Error(t, err)
}

func TestGetJSON_NotFound(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		var r record
		return GetJSON(txn, "missing", &r)
	})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestScanAndDeletePrefix(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, code := range []string{"B", "A", "C"} {
			if err := PutJSON(txn, "run/p/1/component/"+code, record{Code: code}); err != nil {
				return err
			}
		}
		return PutJSON(txn, "run/p/2/component/Z", record{Code: "Z"})
	}))

	var keys []string
	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return ScanPrefix(txn, "run/p/1/", func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
	}))
	assert.Equal(t, []string{"run/p/1/component/A", "run/p/1/component/B", "run/p/1/component/C"}, keys)

	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return DeletePrefix(txn, "run/p/1/")
	}))

	keys = nil
	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return ScanPrefix(txn, "run/p/", func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
	}))
	assert.Equal(t, []string{"run/p/2/component/Z"}, keys)
}

func TestWithTxn_RollsBackOnError(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := PutJSON(txn, "k", record{Code: "K"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var r record
		return GetJSON(txn, "k", &r)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = db.WithTxn(ctx, func(*badger.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
