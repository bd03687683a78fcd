// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package localchain

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// keccak256 hashes the concatenation of parts.
func keccak256(parts ...[]byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	for _, part := range parts {
		hasher.Write(part)
	}
	return hasher.Sum(nil)
}

// checksumAddress renders the last 20 bytes of digest as an EIP-55
// mixed-case address.
func checksumAddress(digest []byte) string {
	lower := hex.EncodeToString(digest[len(digest)-20:])
	nibbles := keccak256([]byte(lower))

	var builder strings.Builder
	builder.WriteString("0x")
	for index, character := range lower {
		nibble := nibbles[index/2]
		if index%2 == 0 {
			nibble >>= 4
		}
		if character >= 'a' && nibble&0x0f >= 8 {
			character -= 'a' - 'A'
		}
		builder.WriteRune(character)
	}
	return builder.String()
}

// contractAddress derives the address of the contract created by
// sender's transaction number nonce.
func contractAddress(sender string, nonce uint64) string {
	var encodedNonce [8]byte
	binary.BigEndian.PutUint64(encodedNonce[:], nonce)
	return checksumAddress(keccak256([]byte(strings.ToLower(sender)), encodedNonce[:]))
}

func hexHash(digest []byte) string {
	return "0x" + hex.EncodeToString(digest)
}
