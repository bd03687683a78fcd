// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package progress holds the per-stage status values of a round
// publication run and notifies observers when they change.
//
// A [Tracker] has exactly one writer (the pipeline that owns it) and
// any number of readers. Reads are lock-free atomic loads, so UI code
// can poll [Tracker.Get] or [Tracker.Snapshot] from any goroutine.
// Observers registered with [Tracker.Subscribe] are called
// synchronously from [Tracker.Set], in order, once per distinct
// change. Nothing is coalesced: a stage that moves NOT_STARTED →
// IN_PROGRESS → IS_SUCCESS produces two notifications even if both
// happen before an observer could have rendered the first.
package progress
