// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package subgraph waits for an indexer to catch up to a block.
//
// A Poller asks a BlockSource for the indexer's latest block on a fixed
// interval until it reaches the target, the timeout expires, or too
// many queries in a row fail. Failed queries back off exponentially
// instead of polling at the regular interval.
//
// Client is a BlockSource for a hosted subgraph. It reads the
// `_meta { block { number } }` field over GraphQL.
package subgraph
