// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/carlbarrdahl/grants-stack/lib/config"
	"github.com/carlbarrdahl/grants-stack/lib/round"
	"github.com/carlbarrdahl/grants-stack/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath       string
	retries          int
	resultLog        string
	rejectSignatures int
	noColor          bool
	logLevel         string
	showDocuments    bool
	history          int
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("round-publisher", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.IntVar(&opts.retries, "retries", 0, "retry a failed attempt up to this many times")
	flagSet.StringVar(&opts.resultLog, "result-log", "", "write status changes as JSONL to this file (overrides paths.result_log)")
	flagSet.IntVar(&opts.rejectSignatures, "reject-signatures", 0, "decline the first N signature requests")
	flagSet.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flagSet.BoolVar(&opts.showDocuments, "show-documents", false, "print the stored documents after a successful run")
	flagSet.IntVar(&opts.history, "history", 0, "list the N most recent attempts and exit")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other binaries.
	if len(args) > 0 && args[0] == "--version" {
		version.Print(stdout, "round-publisher")
		return nil
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	level, err := parseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	if opts.retries < 0 || opts.rejectSignatures < 0 || opts.history < 0 {
		return errors.New("--retries, --reject-signatures and --history must not be negative")
	}

	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.resultLog != "" {
		cfg.Paths.ResultLog = opts.resultLog
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	logger := newLogger(stderr, level)
	logger.Debug("round-publisher starting", "version", version.Info(), "environment", cfg.Environment)

	if opts.history > 0 {
		if flagSet.NArg() > 0 {
			return fmt.Errorf("unexpected argument with --history: %s", flagSet.Arg(0))
		}
		return listHistory(ctx, cfg, opts.history, stdout, opts.noColor, logger)
	}

	if flagSet.NArg() != 1 {
		return errors.New("expected exactly one round file (see --help)")
	}
	path := flagSet.Arg(0)
	input, err := round.ReadFile(path)
	if err != nil {
		return err
	}
	if issues := round.Validate(input); len(issues) > 0 {
		return fmt.Errorf("%s is not a valid round:\n  %s", path, strings.Join(issues, "\n  "))
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	view := newProgressView(stdout, opts.noColor)
	return publisher.publish(ctx, *input, opts, view)
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", name)
	}
	return level, nil
}

// newLogger writes text records when w is a terminal and JSON records
// otherwise.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if file, ok := w.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(file.Fd())) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `round-publisher publishes a funding round.

The round file (JSONC, or YAML when it ends in .yaml/.yml) holds the
round metadata, the application questions, and the on-chain round
parameters. Publishing runs three stages in order:

  storing     save round metadata and application schema to the store
  deploying   deploy the round with both pointers attached
  indexing    wait until the indexer has processed the deployment block

A failed attempt can be retried; every retry starts again at storing.

Usage:
  round-publisher [flags] <round-file>
  round-publisher --history N

Examples:
  # Publish with the default development config
  round-publisher round.jsonc

  # Retry twice, simulating a wallet user who declines once
  round-publisher --retries 2 --reject-signatures 1 round.jsonc

  # Show the last 10 attempts
  round-publisher --history 10

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
