// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/carlbarrdahl/grants-stack/lib/config"
	"github.com/carlbarrdahl/grants-stack/lib/history"
	"github.com/carlbarrdahl/grants-stack/lib/progress"
)

// listHistory prints the limit most recent attempts as a table.
func listHistory(ctx context.Context, cfg *config.Config, limit int, w io.Writer, noColor bool, logger *slog.Logger) error {
	if cfg.Paths.History == "" {
		return errors.New("attempt history is disabled (paths.history is empty)")
	}
	store, err := history.Open(cfg.Paths.History, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	attempts, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No attempts recorded.")
		return nil
	}
	fmt.Fprintln(w, renderHistory(newRenderer(w, noColor), attempts))
	return nil
}

func renderHistory(renderer *lipgloss.Renderer, attempts []history.Attempt) string {
	styles := newStyles(renderer)
	cell := renderer.NewStyle().Padding(0, 1)
	header := cell.Bold(true).Foreground(colorHeader)

	rows := make([][]string, 0, len(attempts))
	for _, attempt := range attempts {
		result := styles.renderStatus(progress.IsSuccess)
		if !attempt.Succeeded() {
			result = styles.status[progress.IsError].Render(attempt.ErrorKind)
		}
		rows = append(rows, []string{
			shortID(attempt.RunID),
			strconv.Itoa(attempt.Attempt),
			attempt.RoundName,
			attempt.StartedAt.Local().Format(time.DateTime),
			styles.renderStatus(attempt.State.Storing),
			styles.renderStatus(attempt.State.Deploying),
			styles.renderStatus(attempt.State.Indexing),
			result,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.faint).
		Headers("RUN", "#", "ROUND", "STARTED", "STORING", "DEPLOYING", "INDEXING", "RESULT").
		Rows(rows...).
		StyleFunc(func(row, column int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
