package commitment

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/veilvault/veilvault/pkg/crypto"
)

// hDomainTag seeds the derivation of the blinding generator H. The tag is a
// published constant: anyone can re-derive H and confirm that no scalar
// relating it to G is known, which the hiding property depends on.
const hDomainTag = "veilvault/pedersen/generator-H/v1"

var (
	secpHOnce sync.Once
	secpH     secp256k1.JacobianPoint
)

// secpBlindingGenerator derives H by try-and-increment hashing: keccak the
// domain tag with a counter until the digest is a valid compressed
// x-coordinate. Deterministic, so every client lands on the same point.
func secpBlindingGenerator() *secp256k1.JacobianPoint {
	secpHOnce.Do(func() {
		cand := make([]byte, 33)
		cand[0] = 0x02 // even-Y candidate encoding
		for ctr := uint32(0); ; ctr++ {
			var ctrBuf [4]byte
			binary.BigEndian.PutUint32(ctrBuf[:], ctr)
			digest := crypto.Keccak256([]byte(hDomainTag), ctrBuf[:])
			copy(cand[1:], digest[:])
			pub, err := secp256k1.ParsePubKey(cand)
			if err != nil {
				continue // Not a curve x-coordinate, try the next counter.
			}
			pub.AsJacobian(&secpH)
			return
		}
	})
	return &secpH
}

type secp256k1Scheme struct{}

func newSecp256k1Scheme() *secp256k1Scheme {
	return &secp256k1Scheme{}
}

func (s *secp256k1Scheme) ID() SchemeID {
	return SchemeSecp256k1
}

func (s *secp256k1Scheme) Order() *big.Int {
	return new(big.Int).Set(secp256k1.Params().N)
}

func (s *secp256k1Scheme) Commit(value uint64, blinding Scalar) (Point, error) {
	var b32 [32]byte = blinding
	var r secp256k1.ModNScalar
	if overflow := r.SetBytes(&b32); overflow != 0 {
		return Point{}, fmt.Errorf("blinding factor: %w", ErrInvalidScalar)
	}
	if r.IsZero() {
		return Point{}, fmt.Errorf("blinding factor is zero: %w", ErrInvalidScalar)
	}

	// rH is always a real point since r is nonzero.
	var rH secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&r, secpBlindingGenerator(), &rH)

	var sum secp256k1.JacobianPoint
	if value == 0 {
		sum = rH
	} else {
		var vBuf [8]byte
		binary.BigEndian.PutUint64(vBuf[:], value)
		var v secp256k1.ModNScalar
		v.SetByteSlice(vBuf[:])

		var vG secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(&v, &vG)
		secp256k1.AddNonConst(&vG, &rH, &sum)
	}

	if sum.Z.Normalize().IsZero() {
		return Point{}, fmt.Errorf("commitment is the point at infinity")
	}
	sum.ToAffine()
	return affineToPoint(&sum), nil
}

func (s *secp256k1Scheme) Add(a, b Point) (Point, error) {
	pa, err := s.parse(a)
	if err != nil {
		return Point{}, err
	}
	pb, err := s.parse(b)
	if err != nil {
		return Point{}, err
	}

	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(pa, pb, &sum)
	if sum.Z.Normalize().IsZero() {
		return Point{}, fmt.Errorf("commitment sum is the point at infinity")
	}
	sum.ToAffine()
	return affineToPoint(&sum), nil
}

func (s *secp256k1Scheme) Validate(p Point) error {
	_, err := s.parse(p)
	return err
}

func (s *secp256k1Scheme) RandomScalar() (Scalar, error) {
	// Rejection sampling keeps the draw uniform over [1, N).
	order := secp256k1.Params().N
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return Scalar{}, fmt.Errorf("read randomness: %w", err)
		}
		if scalarInField(Scalar(buf), order) {
			return Scalar(buf), nil
		}
	}
}

func (s *secp256k1Scheme) ScalarFromBytes(b []byte) (Scalar, error) {
	if len(b) != 32 {
		return Scalar{}, fmt.Errorf("scalar must be 32 bytes, got %d: %w", len(b), ErrInvalidScalar)
	}
	var sc Scalar
	copy(sc[:], b)
	if !scalarInField(sc, secp256k1.Params().N) {
		return Scalar{}, ErrInvalidScalar
	}
	return sc, nil
}

func (s *secp256k1Scheme) AddScalars(a, b Scalar) Scalar {
	return addScalarsMod(a, b, secp256k1.Params().N)
}

// parse rebuilds a Jacobian point from the affine encoding, rejecting
// coordinates that do not satisfy the curve equation.
func (s *secp256k1Scheme) parse(p Point) (*secp256k1.JacobianPoint, error) {
	enc := make([]byte, 65)
	enc[0] = 0x04
	copy(enc[1:33], p.X[:])
	copy(enc[33:], p.Y[:])

	pub, err := secp256k1.ParsePubKey(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotOnCurve, err)
	}
	var jac secp256k1.JacobianPoint
	pub.AsJacobian(&jac)
	return &jac, nil
}

// affineToPoint encodes a normalized affine Jacobian point.
func affineToPoint(p *secp256k1.JacobianPoint) Point {
	var out Point
	p.X.PutBytes(&out.X)
	p.Y.PutBytes(&out.Y)
	return out
}
