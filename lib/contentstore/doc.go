// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentstore is a filesystem content-addressed store for
// round documents.
//
// A document's content is encoded with lib/codec, hashed with BLAKE3
// in a keyed domain, and written once under its pointer. Saving equal
// content twice yields the same pointer and writes nothing the second
// time. Pointers are multibase base32 strings ("b" prefix), so they
// read like the IPFS CIDs a hosted pinning service would return.
//
// On disk each document is a CBOR envelope holding the document name,
// the compression tag, the uncompressed size, and the (possibly
// compressed) encoded content, sharded two levels deep by pointer.
package contentstore
