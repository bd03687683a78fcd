// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package localchain

import (
	"context"
	"sync"
)

// Indexer follows a Chain the way a subgraph follows a node: it starts
// behind the head and advances by Step blocks each time it is polled,
// never passing the head.
type Indexer struct {
	chain *Chain
	step  uint64

	mu      sync.Mutex
	indexed uint64
	stalled bool
}

// NewIndexer returns an Indexer lag blocks behind chain's current head.
// A step of 0 catches up completely on every poll.
func NewIndexer(chain *Chain, lag uint64, step uint64) *Indexer {
	head := chain.Head()
	indexed := uint64(0)
	if head > lag {
		indexed = head - lag
	}
	return &Indexer{chain: chain, step: step, indexed: indexed}
}

// Stall stops the indexer from advancing until Stall(false).
func (i *Indexer) Stall(stalled bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stalled = stalled
}

// BlockNumber reports the last indexed block, then advances toward the
// chain head.
func (i *Indexer) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	head := i.chain.Head()

	i.mu.Lock()
	defer i.mu.Unlock()
	reported := i.indexed
	if !i.stalled && i.indexed < head {
		if i.step == 0 || head-i.indexed <= i.step {
			i.indexed = head
		} else {
			i.indexed += i.step
		}
	}
	return reported, nil
}
