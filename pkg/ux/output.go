// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders styled terminal output for ferrule commands.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette - rust oranges with neutral greys.
var (
	ColorRust    = lipgloss.Color("#DE6A35") // titles
	ColorEmber   = lipgloss.Color("#F2A65A") // highlights
	ColorAsh     = lipgloss.Color("#6C6F75") // muted text
	ColorSuccess = lipgloss.Color("#4CB782")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Styles are the lipgloss styles a Printer renders with.
type Styles struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Muted     lipgloss.Style
	Highlight lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Box       lipgloss.Style
}

// NewStyles builds the styles for one renderer.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:     r.NewStyle().Bold(true).Foreground(ColorRust),
		Label:     r.NewStyle().Bold(true).Width(18),
		Muted:     r.NewStyle().Foreground(ColorAsh),
		Highlight: r.NewStyle().Bold(true).Foreground(ColorEmber),
		Success:   r.NewStyle().Foreground(ColorSuccess),
		Warning:   r.NewStyle().Foreground(ColorWarning),
		Error:     r.NewStyle().Foreground(ColorError),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorRust).
			Padding(0, 1),
	}
}

// Printer writes styled lines to w.
//
// Colour is chosen by the renderer from w: a pipe or buffer gets plain
// text, a terminal gets colour.
type Printer struct {
	w      io.Writer
	styles Styles
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styles: NewStyles(lipgloss.NewRenderer(w))}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Render styles an icon.
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

// Title prints a heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.styles.Title.Render(text))
}

// Field prints an aligned "label value" line.
func (p *Printer) Field(label, value string) {
	fmt.Fprintf(p.w, "  %s %s\n", p.styles.Label.Render(label), p.styles.Highlight.Render(value))
}

// Check prints a status line: icon, label and an optional detail.
func (p *Printer) Check(icon Icon, label, detail string) {
	line := fmt.Sprintf("  %s %s", p.Render(icon), label)
	if detail != "" {
		line += " " + p.styles.Muted.Render(detail)
	}
	fmt.Fprintln(p.w, line)
}

// Hint prints an indented suggestion under the previous line.
func (p *Printer) Hint(text string) {
	fmt.Fprintf(p.w, "      %s %s\n", IconArrow, p.styles.Muted.Render(text))
}

// Box prints text inside a rounded border.
func (p *Printer) Box(text string) {
	fmt.Fprintln(p.w, p.styles.Box.Render(text))
}

// Blank prints an empty line.
func (p *Printer) Blank() {
	fmt.Fprintln(p.w)
}
