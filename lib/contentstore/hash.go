// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of encoded document content.
type Hash [32]byte

// documentDomainKey keys the document hash. Changing it changes every
// pointer.
var documentDomainKey = [32]byte{
	'g', 'r', 'a', 'n', 't', 's', '.', 'c', 'o', 'n', 't', 'e', 'n', 't', '.',
	'd', 'o', 'c', 'u', 'm', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// pointerEncoding is RFC 4648 base32, lower case, unpadded: the
// encoding multibase assigns to prefix "b".
var pointerEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

const pointerPrefix = "b"

// HashContent returns the document-domain hash of encoded content.
func HashContent(data []byte) Hash {
	hasher, err := blake3.NewKeyed(documentDomainKey[:])
	if err != nil {
		panic("contentstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// FormatPointer returns the pointer string for hash.
func FormatPointer(hash Hash) string {
	return pointerPrefix + pointerEncoding.EncodeToString(hash[:])
}

// ParsePointer is the inverse of FormatPointer.
func ParsePointer(pointer string) (Hash, error) {
	var hash Hash
	encoded, ok := strings.CutPrefix(pointer, pointerPrefix)
	if !ok {
		return hash, fmt.Errorf("pointer %q: missing %q multibase prefix", pointer, pointerPrefix)
	}
	decoded, err := pointerEncoding.DecodeString(encoded)
	if err != nil {
		return hash, fmt.Errorf("pointer %q: %w", pointer, err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("pointer %q: digest is %d bytes, want %d", pointer, len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}
