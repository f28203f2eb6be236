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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	logLevel     string
	outputFormat string
	uxLevel      string

	rulesPath   string
	globalPath  string
	storeName   string
	extractMode string

	concurrency int
	failFast    bool

	serveAddr string
	debounce  string
	focusRule string

	rootCmd = &cobra.Command{
		Use:   "greenframe",
		Short: "Evaluate greenhouse formula rule sets into a bill of components",
		Long: `greenframe orders a rule set's formulas by their dependencies,
evaluates each one against a project's greenhouse geometry and
materializes the results as components and diagnostics.`,
		SilenceUsage: true,
	}

	calcCmd = &cobra.Command{
		Use:   "calc [project file]",
		Short: "Evaluate a project's rule set once",
		Args:  cobra.ExactArgs(1),
		RunE:  runCalc, // Defined in cmd_calc.go
	}

	graphCmd = &cobra.Command{
		Use:   "graph [project file]",
		Short: "Show the dependency graph and evaluation order without evaluating",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraph, // Defined in cmd_calc.go
	}

	latestCmd = &cobra.Command{
		Use:   "latest [project name]",
		Short: "Show the most recently stored run of a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runLatest, // Defined in cmd_calc.go
	}

	batchCmd = &cobra.Command{
		Use:   "batch [project file...]",
		Short: "Evaluate several projects concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBatch, // Defined in cmd_batch.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [project file]",
		Short: "Re-evaluate a project whenever its files change",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the calculation HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the greenframe version",
		Args:  cobra.NoArgs,
		Run:   runVersion, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.greenframe/greenframe.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: table, json, yaml (default table on a terminal, json otherwise)")
	rootCmd.PersistentFlags().StringVar(&uxLevel, "ux", "", "table style: rich, plain, machine (default detected from the terminal)")

	for _, cmd := range []*cobra.Command{calcCmd, graphCmd, watchCmd} {
		cmd.Flags().StringVar(&rulesPath, "rules", "", "rule set file (overrides the project's rules path)")
		cmd.Flags().StringVar(&globalPath, "global", "", "global override JSON file (overrides the project's global path)")
	}
	for _, cmd := range []*cobra.Command{calcCmd, graphCmd, batchCmd, watchCmd, serveCmd} {
		cmd.Flags().StringVar(&extractMode, "extract-mode", "", "dependency extraction: compat, explicit or order-independent (overrides config)")
	}
	for _, cmd := range []*cobra.Command{calcCmd, batchCmd, watchCmd, serveCmd, latestCmd} {
		cmd.Flags().StringVar(&storeName, "store", "", "result store: badger, sqlite or none (overrides config)")
	}

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel runs (overrides config; 0 uses config)")
	batchCmd.Flags().BoolVar(&failFast, "fail-fast", false, "cancel remaining runs after the first failure")

	graphCmd.Flags().StringVar(&focusRule, "rule", "", "show only this rule's dependencies and dependents")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	watchCmd.Flags().StringVar(&debounce, "debounce", "300ms", "quiet period before re-running")

	rootCmd.AddCommand(calcCmd, graphCmd, latestCmd, batchCmd, watchCmd, serveCmd, versionCmd)
}
