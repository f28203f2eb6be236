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
	"io"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/greenframe/services/calc"
)

// Format selects a Writer encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. "" means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json or yaml)", s)
	}
}

// Writer renders each batch to an io.Writer.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{w: w, format: format}
}

// Materialize plans results and writes the batch.
func (w *Writer) Materialize(ctx context.Context, run calc.RunInfo, results []calc.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.Write(Plan(run, results))
}

// Write encodes one batch.
func (w *Writer) Write(b Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Encode(w.w, w.format, b)
}

// Encode writes v in the given format.
func Encode(out io.Writer, format Format, v any) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// Multi fans a run out to several materializers. Every materializer is
// called even when an earlier one fails; the errors are joined.
type Multi []calc.Materializer

// Materialize calls each materializer in order.
func (m Multi) Materialize(ctx context.Context, run calc.RunInfo, results []calc.Result) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Materialize(ctx, run, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ calc.Materializer = (*Writer)(nil)
	_ calc.Materializer = Multi(nil)
)
