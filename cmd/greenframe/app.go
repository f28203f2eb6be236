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
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/greenframe/cmd/greenframe/config"
	"github.com/AleutianAI/greenframe/pkg/logging"
	"github.com/AleutianAI/greenframe/pkg/ux"
	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/materialize"
	"github.com/AleutianAI/greenframe/services/calc/storage/badger"
	"github.com/AleutianAI/greenframe/services/calc/telemetry"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

// app is the per-invocation environment shared by the commands.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	logger  *slog.Logger
	out     io.Writer
	format  string
	printer *ux.Printer

	closers []func(context.Context) error
}

// newApp loads configuration, applies command-line overrides and starts
// logging and telemetry.
func newApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := (&config.Loader{Path: configPath, Notice: cmd.ErrOrStderr()}).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if extractMode != "" {
		cfg.Engine.ExtractMode = extractMode
	}
	if storeName != "" {
		cfg.Storage.Backend = storeName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "greenframe",
		JSON:    cfg.Log.JSON,
		Output:  cmd.ErrOrStderr(),
	})

	a := &app{
		cfg:    cfg,
		log:    log,
		logger: log.Slog(),
		out:    cmd.OutOrStdout(),
	}
	a.closers = append(a.closers, func(context.Context) error { return log.Close() })

	a.format, err = resolveFormat(outputFormat, a.out)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	printLevel := ux.DetectLevel(a.out)
	if uxLevel != "" {
		printLevel = ux.ParseLevel(uxLevel)
	}
	a.printer = ux.NewPrinter(a.out, printLevel)

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceVersion = version
	shutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, shutdown)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown step failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// engineOptions returns the options every engine of this invocation gets.
func (a *app) engineOptions() ([]calc.Option, error) {
	mode, err := calc.ParseExtractMode(a.cfg.Engine.ExtractMode)
	if err != nil {
		return nil, err
	}
	return []calc.Option{calc.WithLogger(a.logger), calc.WithExtractMode(mode)}, nil
}

// store is an opened result store.
type store struct {
	sink calc.Materializer
	runs materialize.RunStore
}

// openStore opens the configured result store and registers its closer.
// The "none" backend returns a zero store.
func (a *app) openStore(ctx context.Context) (store, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendBadger:
		bcfg := badger.DefaultConfig(config.ExpandPath(sc.BadgerPath))
		bcfg.Logger = a.logger
		db, err := badger.Open(bcfg)
		if err != nil {
			return store{}, fmt.Errorf("open badger store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		s := materialize.NewBadgerStore(db, a.logger)
		return store{sink: s, runs: s}, nil
	case config.BackendSQLite:
		s, err := materialize.OpenSQLiteStore(ctx, config.ExpandPath(sc.SQLitePath), a.logger)
		if err != nil {
			return store{}, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return store{sink: s, runs: s}, nil
	default:
		return store{}, nil
	}
}

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// resolveFormat validates --output. Empty means table on a terminal and
// JSON otherwise.
func resolveFormat(name string, out io.Writer) (string, error) {
	switch strings.ToLower(name) {
	case "":
		if ux.IsTerminal(out) {
			return formatTable, nil
		}
		return formatJSON, nil
	case formatTable:
		return formatTable, nil
	case formatJSON:
		return formatJSON, nil
	case formatYAML, "yml":
		return formatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", name)
}

// encode writes v as JSON or YAML.
func (a *app) encode(v any) error {
	f := materialize.FormatJSON
	if a.format == formatYAML {
		f = materialize.FormatYAML
	}
	return materialize.Encode(a.out, f, v)
}
