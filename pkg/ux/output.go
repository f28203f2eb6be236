// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders greenframe CLI output.
//
// A Printer writes to one io.Writer at one Level. LevelRich uses the
// palette below through a lipgloss renderer bound to that writer;
// LevelPlain renders the same layout without color; LevelMachine writes
// tab-separated lines with no decoration.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

// Greenframe color palette - glasshouse greens and soil tones
var (
	ColorLeafBright = lipgloss.Color("#7BD389") // Bright leaf - highlights, success
	ColorLeaf       = lipgloss.Color("#4FAF5F") // Primary leaf - titles
	ColorStem       = lipgloss.Color("#2E7D4F") // Stem - borders, accents
	ColorSoil       = lipgloss.Color("#5B4A3A") // Soil - muted text
	ColorGlass      = lipgloss.Color("#A8DADC") // Glass - headers

	ColorSuccess = lipgloss.Color("#7BD389")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#7F8C8D")
)

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Styles is the set of styles a Printer renders with.
type Styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Header lipgloss.Style
	Cell   lipgloss.Style
	Border lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:     r.NewStyle().Bold(true).Foreground(ColorLeafBright),
		Subtitle:  r.NewStyle().Foreground(ColorLeaf),
		Bold:      r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(ColorMuted),
		Success:   r.NewStyle().Foreground(ColorSuccess),
		Warning:   r.NewStyle().Foreground(ColorWarning),
		Error:     r.NewStyle().Foreground(ColorError),
		Highlight: r.NewStyle().Foreground(ColorLeafBright).Bold(true),

		Header: r.NewStyle().Bold(true).Foreground(ColorGlass).Padding(0, 1),
		Cell:   r.NewStyle().Padding(0, 1),
		Border: r.NewStyle().Foreground(ColorStem),
	}
}

// Printer writes styled output to one writer.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	out      io.Writer
	level    Level
	renderer *lipgloss.Renderer
	styles   Styles
}

// NewPrinter creates a Printer for out at level.
func NewPrinter(out io.Writer, level Level) *Printer {
	r := lipgloss.NewRenderer(out)
	if level != LevelRich {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{out: out, level: level, renderer: r, styles: newStyles(r)}
}

// Level returns the printer's level.
func (p *Printer) Level() Level {
	return p.level
}

// Styles returns the printer's styles.
func (p *Printer) Styles() Styles {
	return p.styles
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Render returns the icon styled for the printer.
func (p *Printer) Render(i Icon) string {
	switch i {
	case IconSuccess:
		return p.styles.Success.Render(string(i))
	case IconWarning:
		return p.styles.Warning.Render(string(i))
	case IconError:
		return p.styles.Error.Render(string(i))
	case IconPending:
		return p.styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a styled title. Machine output skips it.
func (p *Printer) Title(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.out, p.styles.Title.Render(text))
}

// Success prints a message with a checkmark.
func (p *Printer) Success(text string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.Render(IconSuccess), p.styles.Success.Render(text))
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.out, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.Render(IconWarning), p.styles.Warning.Render(text))
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.out, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.Render(IconError), p.styles.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.level == LevelMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Machine output skips it.
func (p *Printer) Muted(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.out, p.styles.Muted.Render(text))
}

// Table prints rows under headers. Machine output is tab-separated with
// the header line first.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.level == LevelMachine {
		fmt.Fprintln(p.out, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.out, strings.Join(row, "\t"))
		}
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.Header
			}
			return p.styles.Cell
		})
	fmt.Fprintln(p.out, t.Render())
}

// Stat is one labelled count in a summary line.
type Stat struct {
	Label string
	Value int
	Icon  Icon
}

// Summary prints labelled counts on one line.
func (p *Printer) Summary(stats ...Stat) {
	if p.level == LevelMachine {
		parts := make([]string, len(stats))
		for i, s := range stats {
			parts[i] = fmt.Sprintf("%s=%d", strings.ReplaceAll(s.Label, " ", "_"), s.Value)
		}
		fmt.Fprintf(p.out, "SUMMARY: %s\n", strings.Join(parts, " "))
		return
	}
	parts := make([]string, len(stats))
	for i, s := range stats {
		value := p.styles.Bold.Render(fmt.Sprintf("%d", s.Value))
		switch s.Icon {
		case IconSuccess:
			value = p.styles.Success.Render(fmt.Sprintf("%d", s.Value))
		case IconWarning:
			value = p.styles.Warning.Render(fmt.Sprintf("%d", s.Value))
		case IconError:
			value = p.styles.Error.Render(fmt.Sprintf("%d", s.Value))
		}
		parts[i] = value + " " + p.styles.Muted.Render(s.Label)
	}
	fmt.Fprintf(p.out, "\n%s\n", strings.Join(parts, "  "))
}
