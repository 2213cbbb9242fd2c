package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/veilvault/veilvault/pkg/types"
)

// PrivateKey wraps a secp256k1 private key for compact ECDSA signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// SignCompact produces a recoverable compact signature over a 32-byte hash.
func (pk *PrivateKey) SignCompact(hash []byte) ([]byte, error) {
	if len(hash) != types.HashSize {
		return nil, fmt.Errorf("hash must be %d bytes, got %d", types.HashSize, len(hash))
	}
	return ecdsa.SignCompact(pk.key, hash, false), nil
}

// Address returns the vault chain address of the key:
// keccak256(uncompressed_pubkey[1:])[12:].
func (pk *PrivateKey) Address() types.Address {
	return AddressFromPubKey(pk.key.PubKey())
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// AddressFromPubKey derives a vault chain address from a public key.
func AddressFromPubKey(pub *secp256k1.PublicKey) types.Address {
	raw := pub.SerializeUncompressed()
	h := Keccak256(raw[1:])
	var addr types.Address
	copy(addr[:], h[types.HashSize-types.AddressSize:])
	return addr
}

// RecoverAddress recovers the signer address from a compact signature over
// a 32-byte hash. Returns an error if the signature is malformed.
func RecoverAddress(hash, signature []byte) (types.Address, error) {
	if len(hash) != types.HashSize {
		return types.Address{}, fmt.Errorf("hash must be %d bytes, got %d", types.HashSize, len(hash))
	}
	pub, _, err := ecdsa.RecoverCompact(signature, hash)
	if err != nil {
		return types.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return AddressFromPubKey(pub), nil
}
