// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is an injectable time source.
//
// Anything that polls on an interval or enforces a deadline takes a
// Clock instead of calling time.Now, time.After, or time.NewTicker.
// Tests hand it a FakeClock and drive it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go poller.Run(ctx)          // registers a ticker and a deadline
//	c.WaitForTimers(2)          // both are now pending
//	c.Advance(5 * time.Second)  // fires whatever is due
//
// WaitForTimers closes the gap between a goroutine registering a timer
// and the test advancing past it.
package clock
