// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package localchain

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/carlbarrdahl/grants-stack/lib/round"
)

// Signer is a deterministic wallet derived from a seed phrase. It
// implements round.Signer.
type Signer struct {
	key     []byte
	address string
	chainID uint64

	rejecting atomic.Bool
}

// NewSigner derives a signer for chainID from seed. Equal seeds give
// equal addresses.
func NewSigner(seed string, chainID uint64) *Signer {
	key := keccak256([]byte("localchain.signer"), []byte(seed))
	return &Signer{
		key:     key,
		address: checksumAddress(keccak256(key)),
		chainID: chainID,
	}
}

func (s *Signer) Address() string { return s.address }

func (s *Signer) ChainID() uint64 { return s.chainID }

// Reject controls whether Sign refuses, as a user declining the
// wallet prompt would.
func (s *Signer) Reject(reject bool) { s.rejecting.Store(reject) }

// Sign returns a deterministic 65-byte signature over digest.
func (s *Signer) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.rejecting.Load() {
		return nil, fmt.Errorf("signer %s: %w", s.address, round.ErrUserRejected)
	}
	signature := keccak256(s.key, digest)
	signature = append(signature, keccak256(signature, s.key)...)
	return append(signature[:64], 27), nil
}
