// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package subgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/carlbarrdahl/grants-stack/lib/clock"
	"github.com/carlbarrdahl/grants-stack/lib/round"
)

// BlockSource reports the latest block an indexer has processed.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// ErrTooManyFailures is returned by WaitForBlock when MaxFailures
// consecutive queries fail.
var ErrTooManyFailures = errors.New("indexer queries keep failing")

const (
	DefaultInterval    = 2 * time.Second
	DefaultTimeout     = 5 * time.Minute
	DefaultMaxFailures = 5
)

// PollerConfig configures a Poller. Zero durations and counts take the
// defaults above.
type PollerConfig struct {
	Source BlockSource

	Interval time.Duration

	// Timeout bounds each WaitForBlock call. Negative disables it.
	Timeout time.Duration

	MaxFailures int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Poller implements the pipeline's indexer by polling a BlockSource.
type Poller struct {
	source      BlockSource
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	clock       clock.Clock
	logger      *slog.Logger
}

func NewPoller(config PollerConfig) (*Poller, error) {
	if config.Source == nil {
		return nil, errors.New("subgraph: poller requires a block source")
	}
	poller := &Poller{
		source:      config.Source,
		interval:    config.Interval,
		timeout:     config.Timeout,
		maxFailures: config.MaxFailures,
		clock:       config.Clock,
		logger:      config.Logger,
	}
	if poller.interval <= 0 {
		poller.interval = DefaultInterval
	}
	if poller.timeout == 0 {
		poller.timeout = DefaultTimeout
	}
	if poller.maxFailures <= 0 {
		poller.maxFailures = DefaultMaxFailures
	}
	if poller.clock == nil {
		poller.clock = clock.Real()
	}
	if poller.logger == nil {
		poller.logger = slog.New(slog.DiscardHandler)
	}
	poller.logger = poller.logger.With("component", "subgraph")
	return poller, nil
}

// WaitForBlock returns once the indexer reports a block at or past
// target, and returns the block it reported. A timeout wraps
// round.ErrIndexTimeout.
func (p *Poller) WaitForBlock(ctx context.Context, target uint64) (uint64, error) {
	var deadline <-chan time.Time
	if p.timeout > 0 {
		deadline = p.clock.After(p.timeout)
	}

	// Queries run on queryCtx, which is cancelled when the deadline fires.
	queryCtx, cancelQueries := context.WithCancel(ctx)
	defer cancelQueries()
	expired := make(chan struct{})
	if deadline != nil {
		go func() {
			select {
			case <-deadline:
				close(expired)
				cancelQueries()
			case <-queryCtx.Done():
			}
		}()
	}

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = p.interval
	retry.MaxInterval = 8 * p.interval
	retry.MaxElapsedTime = 0
	retry.RandomizationFactor = 0
	retry.Clock = p.clock
	retry.Reset()

	var (
		last     uint64
		failures int
		lastErr  error
	)
	timedOut := func() error {
		if lastErr != nil {
			return fmt.Errorf("indexer at block %d, waiting for %d after %s (last error: %v): %w",
				last, target, p.timeout, lastErr, round.ErrIndexTimeout)
		}
		return fmt.Errorf("indexer at block %d, waiting for %d after %s: %w",
			last, target, p.timeout, round.ErrIndexTimeout)
	}

	for {
		reached, err := p.source.BlockNumber(queryCtx)
		var wait <-chan time.Time
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, ctxErr
			}
			select {
			case <-expired:
				return last, timedOut()
			default:
			}
			failures++
			lastErr = err
			if failures >= p.maxFailures {
				return last, fmt.Errorf("%w: %d consecutive failures, last: %w", ErrTooManyFailures, failures, err)
			}
			delay := retry.NextBackOff()
			p.logger.Warn("indexer query failed", "error", err, "failures", failures, "retry_in", delay)
			wait = p.clock.After(delay)
		case reached >= target:
			p.logger.Info("indexer reached block", "target", target, "reached", reached)
			return reached, nil
		default:
			last, failures, lastErr = reached, 0, nil
			retry.Reset()
			p.logger.Debug("indexer behind", "target", target, "reached", reached)
			wait = ticker.C
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-expired:
			return last, timedOut()
		case <-wait:
		}
	}
}
