// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source for code that polls or waits. Production
// code uses Real; tests use Fake and move time with Advance.
type Clock interface {
	Now() time.Time

	// After delivers the current time once d has elapsed. d <= 0
	// delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker delivers a tick every d. Panics if d <= 0. C has
	// capacity 1; ticks the reader misses are dropped.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C until Stop is called.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
