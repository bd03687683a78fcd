// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package localchain is an in-process chain for publishing rounds
// without a network.
//
// A Chain mines one block per deployment transaction. Addresses and
// transaction hashes are Keccak-256 digests rendered with EIP-55
// checksums, so output looks like the real thing. An Indexer trails the
// chain head by a configurable lag and catches up a fixed number of
// blocks per poll, which is enough to exercise code that waits for an
// indexer to reach a block.
//
// Signer stands in for a wallet. Calling Reject makes its next
// signatures fail with round.ErrUserRejected, the same way a user
// dismissing a wallet prompt would.
package localchain
