// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package localchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/carlbarrdahl/grants-stack/lib/clock"
	"github.com/carlbarrdahl/grants-stack/lib/codec"
	"github.com/carlbarrdahl/grants-stack/lib/round"
)

// ErrWrongChain is returned by Deploy when the signer is bound to a
// different chain ID.
var ErrWrongChain = errors.New("signer is bound to a different chain")

// ErrRoundNotFound is returned by Round for an unknown address.
var ErrRoundNotFound = errors.New("no round deployed at address")

// Block is a mined block holding a single transaction.
type Block struct {
	Number      uint64
	Time        time.Time
	Transaction string
}

// Config configures a Chain.
type Config struct {
	ChainID uint64

	// Genesis is the number of the block before the first deployment.
	Genesis uint64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Chain is an in-memory ledger that accepts round deployments. It
// implements the deployer the publication pipeline drives and is safe
// for concurrent use.
type Chain struct {
	chainID uint64
	clock   clock.Clock
	logger  *slog.Logger

	mu     sync.Mutex
	head   uint64
	blocks []Block
	nonces map[string]uint64
	rounds map[string]round.Round
}

// New returns a Chain whose head is config.Genesis.
func New(config Config) (*Chain, error) {
	if config.ChainID == 0 {
		return nil, errors.New("localchain: chain ID is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{
		chainID: config.ChainID,
		clock:   config.Clock,
		logger:  logger.With("component", "localchain", "chain_id", config.ChainID),
		head:    config.Genesis,
		nonces:  make(map[string]uint64),
		rounds:  make(map[string]round.Round),
	}, nil
}

// ChainID returns the chain's ID.
func (c *Chain) ChainID() uint64 { return c.chainID }

// Head returns the number of the latest block.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Blocks returns the blocks mined since genesis, oldest first.
func (c *Chain) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Block(nil), c.blocks...)
}

// Deploy creates a round contract from r. The transaction is signed
// by signer and mined into a new block whose number is reported in
// the returned Deployment. Signer errors are returned wrapped, so a
// rejected signature stays detectable with errors.Is.
func (c *Chain) Deploy(ctx context.Context, r round.Round, signer round.Signer) (round.Deployment, error) {
	if signer == nil {
		return round.Deployment{}, errors.New("localchain: deploy requires a signer")
	}
	if signer.ChainID() != c.chainID {
		return round.Deployment{}, fmt.Errorf("%w: signer chain %d, chain %d", ErrWrongChain, signer.ChainID(), c.chainID)
	}
	if r.Store == nil || r.ApplicationStore == nil {
		return round.Deployment{}, errors.New("localchain: round is missing its metadata pointers")
	}

	payload, err := codec.Marshal(r)
	if err != nil {
		return round.Deployment{}, fmt.Errorf("encoding round: %w", err)
	}
	digest := keccak256(payload)
	signature, err := signer.Sign(ctx, digest)
	if err != nil {
		return round.Deployment{}, fmt.Errorf("signing deployment: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return round.Deployment{}, err
	}

	sender := strings.ToLower(signer.Address())

	c.mu.Lock()
	nonce := c.nonces[sender]
	c.nonces[sender] = nonce + 1
	address := contractAddress(sender, nonce)
	transaction := hexHash(keccak256(digest, signature))
	c.head++
	number := c.head
	c.blocks = append(c.blocks, Block{Number: number, Time: c.clock.Now(), Transaction: transaction})
	c.rounds[strings.ToLower(address)] = r
	c.mu.Unlock()

	c.logger.Info("round deployed",
		"round_address", address,
		"transaction", transaction,
		"block", number,
		"sender", signer.Address(),
	)
	return round.Deployment{
		TransactionBlockNumber: round.BlockNumber(number),
		RoundAddress:           address,
		TransactionHash:        transaction,
	}, nil
}

// Round returns the round deployed at address.
func (c *Chain) Round(address string) (round.Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deployed, ok := c.rounds[strings.ToLower(address)]
	if !ok {
		return round.Round{}, fmt.Errorf("%w: %s", ErrRoundNotFound, address)
	}
	return deployed, nil
}
