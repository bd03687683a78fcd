// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline publishes a round in three strictly sequential
// stages and exposes each stage's progress:
//
//  1. storing: save the round metadata and the application schema to
//     content-addressed storage ([Storage]).
//  2. deploying: deploy the round contract with both storage pointers
//     filled in ([Deployer]), forwarding the caller's signer.
//  3. indexing: wait until the indexer has processed the block that
//     mined the deployment ([Indexer]).
//
// Stage N+1 starts only after stage N succeeded. A failed stage records
// IS_ERROR and stops the run; later stages stay NOT_STARTED.
//
// # Retry
//
// Retrying is restarting. Every [Pipeline.Start] resets all three
// statuses to NOT_STARTED before returning, then runs from stage 1,
// including stages that succeeded last time. A retry after a
// deployment failure therefore stores the documents again.
//
// # Concurrency
//
// One run at a time. Start returns [ErrPipelineBusy] while a run is in
// flight; it never queues. Status reads ([Pipeline.Status],
// [Pipeline.State]) are lock-free and safe from any goroutine.
// Observers registered with [Pipeline.Subscribe] are called
// synchronously, once per status change, on the goroutine that made the
// change: the [Pipeline.Start] caller for the reset, and the run
// goroutine for every change after it.
//
// A run releases the pipeline before closing [Run.Done], so a Done
// waiter can Start the next run at once. Anything that may start runs
// concurrently should read the settled statuses from [Run.State]
// rather than [Pipeline.State].
package pipeline
