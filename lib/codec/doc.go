// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the shared CBOR configuration for on-disk records.
//
// Round input and CLI output are JSON. Anything the tools write for
// themselves, such as content store envelopes, is CBOR encoded with
// Core Deterministic Encoding (RFC 8949 §4.2) so that equal values
// always produce equal bytes, which is what makes content addressing
// over encoded documents stable.
//
// Types tagged `json` serialize the same way in both formats:
// fxamacker/cbor falls back to json tags when no cbor tag is present.
// Types that only ever live on disk use `cbor` tags. A field never
// carries both.
package codec
