// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the
// select-with-timeout pattern used when a test waits on a goroutine
// (a pipeline run, a blocked collaborator, a poller). The timeout is a
// hang guard only; tests that depend on elapsed time use clock.Fake.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
