// Package crypto provides the hashing and signature primitives shared by
// the VeilVault client packages.
package crypto

import (
	"github.com/veilvault/veilvault/pkg/types"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of the given byte slices with the
// legacy Keccak-256 function. This is the hash the vault contract uses for
// commitment hashes, nullifiers and attestation data hashes, so the client
// must match it byte for byte.
func Keccak256(data ...[]byte) types.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out types.Hash
	h.Sum(out[:0])
	return out
}

// RecordID derives a local ledger record identifier with BLAKE3. Record ids
// never leave the client, so they do not need to match any on-chain hash.
func RecordID(data ...[]byte) types.Hash {
	h := blake3.New()
	for _, d := range data {
		h.Write(d)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
