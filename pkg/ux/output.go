// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders command summaries for the terminal.
//
// Two modes exist. Rich output uses lipgloss colors and boxes and is chosen
// when the destination is a terminal. Plain output is one key=value line
// per fact, stable for scripts and logs. QUPID_OUTPUT=rich|plain overrides
// detection.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorAccent  = lipgloss.Color("#20B9B4")
	ColorBright  = lipgloss.Color("#2CD7C7")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#5C7A84")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorBright),
	Label:     lipgloss.NewStyle().Foreground(ColorAccent),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Render returns the icon in its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// Mode selects rich or plain output.
type Mode string

const (
	ModeRich  Mode = "rich"
	ModePlain Mode = "plain"
)

// ParseMode converts a flag or environment value to a Mode. Unknown and
// empty values, including "auto", return "" so the caller detects the mode.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "color", "full":
		return ModeRich
	case "plain", "machine", "quiet":
		return ModePlain
	default:
		return ""
	}
}

// DetectMode picks ModeRich for terminals and ModePlain otherwise.
func DetectMode(w io.Writer) Mode {
	if m := ParseMode(os.Getenv("QUPID_OUTPUT")); m != "" {
		return m
	}
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			return ModeRich
		}
	}
	return ModePlain
}

// Printer writes styled messages to one destination.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer. An empty mode is detected from w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = DetectMode(w)
	}
	return &Printer{w: w, mode: mode}
}

// Mode returns the active output mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

func (p *Printer) rich() bool {
	return p.mode == ModeRich
}

// Title prints a heading. Plain mode prints nothing.
func (p *Printer) Title(text string) {
	if !p.rich() {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a completion message.
func (p *Printer) Success(text string) {
	if !p.rich() {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	if !p.rich() {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	if !p.rich() {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if !p.rich() {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Field is one labelled value in a summary.
type Field struct {
	Key   string
	Value string

	// Warn highlights the value in rich mode.
	Warn bool
}

// Fields prints a titled block of fields.
//
// Description:
//
//	Rich mode draws a rounded box with aligned labels. Plain mode prints a
//	single line "title: key=value key=value", with keys as given and spaces
//	in values replaced by underscores so the line splits on whitespace.
func (p *Printer) Fields(title string, fields []Field) {
	if !p.rich() {
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = f.Key + "=" + strings.ReplaceAll(f.Value, " ", "_")
		}
		fmt.Fprintf(p.w, "%s: %s\n", title, strings.Join(parts, " "))
		return
	}

	width := 0
	for _, f := range fields {
		if len(f.Key) > width {
			width = len(f.Key)
		}
	}
	lines := make([]string, 0, len(fields)+1)
	lines = append(lines, Styles.Title.Render(title))
	box := Styles.Box
	for _, f := range fields {
		value := Styles.Bold.Render(f.Value)
		if f.Warn {
			value = Styles.Warning.Render(f.Value)
			box = Styles.WarningBox
		}
		lines = append(lines, fmt.Sprintf("%s  %s", Styles.Label.Render(fmt.Sprintf("%-*s", width, f.Key)), value))
	}
	fmt.Fprintln(p.w, box.Render(strings.Join(lines, "\n")))
}

// ProgressBar renders a fraction as a bar, or "current/total" in plain mode.
func (p *Printer) ProgressBar(current, total, width int) string {
	if !p.rich() || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := min(max(int(pct*float64(width)), 0), width)
	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
