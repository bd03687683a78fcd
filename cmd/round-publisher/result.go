// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/carlbarrdahl/grants-stack/lib/clock"
	"github.com/carlbarrdahl/grants-stack/lib/history"
	"github.com/carlbarrdahl/grants-stack/lib/progress"
)

// resultLog appends one JSON object per line for every attempt start,
// status change, and attempt outcome. Each line is synced before the
// next is written, so a killed process leaves every completed line
// readable and another process can tail the file for progress.
//
// A nil *resultLog is valid and discards everything.
type resultLog struct {
	logger  *slog.Logger
	clock   clock.Clock
	file    *os.File
	encoder *json.Encoder
}

// newResultLog creates (or truncates) the log at path.
func newResultLog(path string, clk clock.Clock, logger *slog.Logger) (*resultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &resultLog{
		logger:  logger,
		clock:   clk,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close closes the underlying file.
func (r *resultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

func (r *resultLog) writeStart(runID string, attempt int, roundName string) {
	if r == nil {
		return
	}
	r.write(resultStartEntry{
		Type:      "start",
		RunID:     runID,
		Attempt:   attempt,
		Round:     roundName,
		Timestamp: r.timestamp(),
	})
}

func (r *resultLog) writeStatus(runID string, attempt int, change progress.Change) {
	if r == nil {
		return
	}
	r.write(resultStatusEntry{
		Type:      "status",
		RunID:     runID,
		Attempt:   attempt,
		Stage:     change.Stage,
		Previous:  change.Previous,
		Status:    change.Current,
		Timestamp: r.timestamp(),
	})
}

func (r *resultLog) writeComplete(outcome history.Attempt, duration time.Duration) {
	if r == nil {
		return
	}
	r.write(resultCompleteEntry{
		Type:            "complete",
		Status:          "ok",
		RunID:           outcome.RunID,
		Attempt:         outcome.Attempt,
		MetadataPointer: outcome.MetadataPointer,
		SchemaPointer:   outcome.SchemaPointer,
		RoundAddress:    outcome.RoundAddress,
		TransactionHash: outcome.TransactionHash,
		Block:           outcome.Block,
		DurationMS:      duration.Milliseconds(),
	})
}

func (r *resultLog) writeFailed(outcome history.Attempt, duration time.Duration) {
	if r == nil {
		return
	}
	entry := resultFailedEntry{
		Type:       "failed",
		Status:     "failed",
		RunID:      outcome.RunID,
		Attempt:    outcome.Attempt,
		Kind:       outcome.ErrorKind,
		Error:      outcome.Error,
		DurationMS: duration.Milliseconds(),
	}
	if stage, ok := outcome.State.Failed(); ok {
		entry.FailedStage = stage.String()
	}
	r.write(entry)
}

func (r *resultLog) write(entry any) {
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

func (r *resultLog) timestamp() string {
	return r.clock.Now().UTC().Format(time.RFC3339Nano)
}

// One struct per line type, so each line's fields are explicit.

type resultStartEntry struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Attempt   int    `json:"attempt"`
	Round     string `json:"round"`
	Timestamp string `json:"timestamp"`
}

type resultStatusEntry struct {
	Type      string          `json:"type"`
	RunID     string          `json:"run_id"`
	Attempt   int             `json:"attempt"`
	Stage     progress.Stage  `json:"stage"`
	Previous  progress.Status `json:"previous"`
	Status    progress.Status `json:"status"`
	Timestamp string          `json:"timestamp"`
}

type resultCompleteEntry struct {
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	RunID           string  `json:"run_id"`
	Attempt         int     `json:"attempt"`
	MetadataPointer string  `json:"metadata_pointer"`
	SchemaPointer   string  `json:"schema_pointer"`
	RoundAddress    string  `json:"round_address"`
	TransactionHash string  `json:"transaction_hash"`
	Block           *uint64 `json:"block"`
	DurationMS      int64   `json:"duration_ms"`
}

type resultFailedEntry struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	RunID       string `json:"run_id"`
	Attempt     int    `json:"attempt"`
	FailedStage string `json:"failed_stage,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error"`
	DurationMS  int64  `json:"duration_ms"`
}
