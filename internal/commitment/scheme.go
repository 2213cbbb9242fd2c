// Package commitment implements Pedersen commitments over a configurable
// elliptic curve. A commitment C = value*G + blinding*H hides the committed
// value while binding the committer to it, and commitments add
// homomorphically, which is what lets the vault contract check value
// conservation across a split without seeing any amounts.
package commitment

import (
	"errors"
	"fmt"
	"math/big"
)

// SchemeID tags the curve scheme a commitment was produced under.
type SchemeID string

const (
	// SchemeSecp256k1 is the default scheme, matching the vault contract's
	// secp256k1 verifier.
	SchemeSecp256k1 SchemeID = "secp256k1"

	// SchemeBN254 targets deployments whose verifier runs on the BN254
	// pairing curve precompiles.
	SchemeBN254 SchemeID = "bn254"
)

// Scheme errors.
var (
	ErrInvalidScalar = errors.New("scalar outside the curve scalar field")
	ErrNotOnCurve    = errors.New("point is not on the curve")
	ErrUnknownScheme = errors.New("unknown curve scheme")
)

// Point is an affine curve point with big-endian 32-byte coordinates.
// The encoding is what the vault contract hashes, so it is fixed.
type Point struct {
	X [32]byte `json:"x"`
	Y [32]byte `json:"y"`
}

// IsZero returns true for the zero value, which no valid commitment
// ever produces.
func (p Point) IsZero() bool {
	return p == Point{}
}

// Scalar is a big-endian scalar in the scheme's scalar field.
// Blinding factors are scalars and stay secret to the record owner.
type Scalar [32]byte

// Bytes returns a copy of the scalar as a byte slice.
func (s Scalar) Bytes() []byte {
	b := make([]byte, len(s))
	copy(b, s[:])
	return b
}

// Scheme abstracts the curve arithmetic behind the commitment engine.
// Exactly one scheme is selected when the engine is constructed; mixing
// schemes within one ledger is not supported.
type Scheme interface {
	// ID returns the scheme tag stored on every record.
	ID() SchemeID
	// Commit computes value*G + blinding*H. The blinding scalar must be
	// nonzero and inside the scalar field.
	Commit(value uint64, blinding Scalar) (Point, error)
	// Add returns the curve point sum of two commitments.
	Add(a, b Point) (Point, error)
	// Validate checks that a point lies on the curve.
	Validate(p Point) error
	// RandomScalar draws a fresh uniformly random nonzero scalar.
	RandomScalar() (Scalar, error)
	// ScalarFromBytes parses a 32-byte big-endian scalar, rejecting
	// values outside the field.
	ScalarFromBytes(b []byte) (Scalar, error)
	// AddScalars returns a+b mod the scalar field order.
	AddScalars(a, b Scalar) Scalar
	// Order returns the scalar field order.
	Order() *big.Int
}

// NewScheme constructs the scheme for the given tag.
func NewScheme(id SchemeID) (Scheme, error) {
	switch id {
	case SchemeSecp256k1:
		return newSecp256k1Scheme(), nil
	case SchemeBN254:
		return newBN254Scheme(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, id)
	}
}

// addScalarsMod is the shared mod-order scalar addition used by both schemes.
func addScalarsMod(a, b Scalar, order *big.Int) Scalar {
	sum := new(big.Int).Add(
		new(big.Int).SetBytes(a[:]),
		new(big.Int).SetBytes(b[:]),
	)
	sum.Mod(sum, order)

	var out Scalar
	sum.FillBytes(out[:])
	return out
}

// scalarInField checks 0 < s < order.
func scalarInField(s Scalar, order *big.Int) bool {
	v := new(big.Int).SetBytes(s[:])
	return v.Sign() > 0 && v.Cmp(order) < 0
}
