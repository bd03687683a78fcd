// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/carlbarrdahl/grants-stack/lib/history"
	"github.com/carlbarrdahl/grants-stack/lib/progress"
)

// Palette, as ANSI 256-color codes.
var (
	colorFaint      = lipgloss.Color("245")
	colorInProgress = lipgloss.Color("214")
	colorSuccess    = lipgloss.Color("78")
	colorError      = lipgloss.Color("196")
	colorHeader     = lipgloss.Color("39")
)

// statusGlyphs and statusLabels describe each status on screen.
var (
	statusGlyphs = map[progress.Status]string{
		progress.NotStarted: "○",
		progress.InProgress: "◐",
		progress.IsSuccess:  "●",
		progress.IsError:    "✗",
	}
	statusLabels = map[progress.Status]string{
		progress.NotStarted: "not started",
		progress.InProgress: "in progress",
		progress.IsSuccess:  "done",
		progress.IsError:    "failed",
	}
)

// newRenderer returns a lipgloss renderer for w. Color is detected
// from w unless noColor forces plain text.
func newRenderer(w io.Writer, noColor bool) *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(w)
	if noColor {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return renderer
}

type styles struct {
	header lipgloss.Style
	stage  lipgloss.Style
	faint  lipgloss.Style
	status map[progress.Status]lipgloss.Style
}

func newStyles(renderer *lipgloss.Renderer) styles {
	return styles{
		header: renderer.NewStyle().Bold(true).Foreground(colorHeader),
		stage:  renderer.NewStyle().Width(11),
		faint:  renderer.NewStyle().Foreground(colorFaint),
		status: map[progress.Status]lipgloss.Style{
			progress.NotStarted: renderer.NewStyle().Foreground(colorFaint),
			progress.InProgress: renderer.NewStyle().Foreground(colorInProgress),
			progress.IsSuccess:  renderer.NewStyle().Foreground(colorSuccess),
			progress.IsError:    renderer.NewStyle().Foreground(colorError).Bold(true),
		},
	}
}

func (s styles) renderStatus(status progress.Status) string {
	return s.status[status].Render(statusGlyphs[status] + " " + statusLabels[status])
}

// progressView prints one line per stage transition. Updates arrive
// from the pipeline goroutine, so every write holds mu.
type progressView struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
}

func newProgressView(w io.Writer, noColor bool) *progressView {
	return &progressView{out: w, styles: newStyles(newRenderer(w, noColor))}
}

func (v *progressView) begin(roundName string, attempt int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	title := fmt.Sprintf("Publishing %q", roundName)
	if attempt > 1 {
		title += fmt.Sprintf(" (attempt %d)", attempt)
	}
	fmt.Fprintln(v.out, v.styles.header.Render(title))
}

// update skips transitions back to NotStarted; they only mark the
// reset at the start of an attempt.
func (v *progressView) update(change progress.Change) {
	if change.Current == progress.NotStarted {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "  %s %s\n", v.styles.stage.Render(change.Stage.String()), v.styles.renderStatus(change.Current))
}

func (v *progressView) succeeded(outcome history.Attempt) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, v.styles.status[progress.IsSuccess].Render("Round published"))
	v.field("round", outcome.RoundAddress)
	v.field("transaction", outcome.TransactionHash)
	if outcome.Block != nil {
		v.field("block", fmt.Sprint(*outcome.Block))
	}
	v.field("metadata", outcome.MetadataPointer)
	v.field("schema", outcome.SchemaPointer)
}

func (v *progressView) failed(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s %s\n", v.styles.status[progress.IsError].Render("Publication failed:"), err)
}

func (v *progressView) field(name, value string) {
	fmt.Fprintf(v.out, "  %s %s\n", v.styles.faint.Render(fmt.Sprintf("%-11s", name)), value)
}
