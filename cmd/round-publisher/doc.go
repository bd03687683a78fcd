// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// round-publisher publishes a funding round from a round file. It runs
// the three-stage pipeline in lib/pipeline: both metadata documents
// are saved to the content store, the round is deployed to the
// configured chain with the two pointers attached, and the command
// waits until the indexer has processed the deployment block.
//
// Stage statuses are rendered to stdout as they change. With
// --result-log (or paths.result_log) every change is also written as
// one JSON line, and every attempt is recorded in the SQLite history
// at paths.history. A failed attempt is retried up to --retries times;
// each retry starts over from the storage stage.
//
// Usage:
//
//	round-publisher [flags] <round-file>
//	round-publisher --history 20
package main
