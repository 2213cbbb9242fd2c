package commitment

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// bn254HashDST is the hash-to-curve domain separation tag for the blinding
// generator. Like the secp256k1 tag, it is a published constant so H can be
// re-derived by anyone while log_G(H) stays unknown to everyone.
const bn254HashDST = "veilvault/pedersen/generator-H/bn254/v1"

var (
	bn254Once sync.Once
	bn254G    bn254.G1Jac
	bn254H    bn254.G1Jac
)

func bn254Generators() (*bn254.G1Jac, *bn254.G1Jac) {
	bn254Once.Do(func() {
		g1Jac, _, _, _ := bn254.Generators()
		bn254G = g1Jac

		hAff, err := bn254.HashToG1([]byte("veilvault-pedersen-H"), []byte(bn254HashDST))
		if err != nil {
			// HashToG1 only fails on internal encoding errors; a fixed
			// input that fails would mean a broken build.
			panic(fmt.Sprintf("derive bn254 blinding generator: %v", err))
		}
		bn254H.FromAffine(&hAff)
	})
	return &bn254G, &bn254H
}

type bn254Scheme struct{}

func newBN254Scheme() *bn254Scheme {
	return &bn254Scheme{}
}

func (s *bn254Scheme) ID() SchemeID {
	return SchemeBN254
}

func (s *bn254Scheme) Order() *big.Int {
	return fr.Modulus()
}

func (s *bn254Scheme) Commit(value uint64, blinding Scalar) (Point, error) {
	if !scalarInField(blinding, fr.Modulus()) {
		return Point{}, fmt.Errorf("blinding factor: %w", ErrInvalidScalar)
	}

	g, h := bn254Generators()

	var rH bn254.G1Jac
	rH.ScalarMultiplication(h, new(big.Int).SetBytes(blinding[:]))

	var sum bn254.G1Jac
	if value == 0 {
		sum.Set(&rH)
	} else {
		var vG bn254.G1Jac
		vG.ScalarMultiplication(g, new(big.Int).SetUint64(value))
		sum.Set(&vG).AddAssign(&rH)
	}

	var aff bn254.G1Affine
	aff.FromJacobian(&sum)
	if aff.IsInfinity() {
		return Point{}, fmt.Errorf("commitment is the point at infinity")
	}
	return bn254ToPoint(&aff), nil
}

func (s *bn254Scheme) Add(a, b Point) (Point, error) {
	pa, err := s.parse(a)
	if err != nil {
		return Point{}, err
	}
	pb, err := s.parse(b)
	if err != nil {
		return Point{}, err
	}

	var ja, jb bn254.G1Jac
	ja.FromAffine(pa)
	jb.FromAffine(pb)
	ja.AddAssign(&jb)

	var sum bn254.G1Affine
	sum.FromJacobian(&ja)
	if sum.IsInfinity() {
		return Point{}, fmt.Errorf("commitment sum is the point at infinity")
	}
	return bn254ToPoint(&sum), nil
}

func (s *bn254Scheme) Validate(p Point) error {
	_, err := s.parse(p)
	return err
}

func (s *bn254Scheme) RandomScalar() (Scalar, error) {
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return Scalar{}, fmt.Errorf("read randomness: %w", err)
		}
		if scalarInField(Scalar(buf), fr.Modulus()) {
			return Scalar(buf), nil
		}
	}
}

func (s *bn254Scheme) ScalarFromBytes(b []byte) (Scalar, error) {
	if len(b) != 32 {
		return Scalar{}, fmt.Errorf("scalar must be 32 bytes, got %d: %w", len(b), ErrInvalidScalar)
	}
	var sc Scalar
	copy(sc[:], b)
	if !scalarInField(sc, fr.Modulus()) {
		return Scalar{}, ErrInvalidScalar
	}
	return sc, nil
}

func (s *bn254Scheme) AddScalars(a, b Scalar) Scalar {
	return addScalarsMod(a, b, fr.Modulus())
}

func (s *bn254Scheme) parse(p Point) (*bn254.G1Affine, error) {
	var x, y fp.Element
	if err := x.SetBytesCanonical(p.X[:]); err != nil {
		return nil, fmt.Errorf("%w: x coordinate: %v", ErrNotOnCurve, err)
	}
	if err := y.SetBytesCanonical(p.Y[:]); err != nil {
		return nil, fmt.Errorf("%w: y coordinate: %v", ErrNotOnCurve, err)
	}

	aff := &bn254.G1Affine{X: x, Y: y}
	if aff.IsInfinity() || !aff.IsOnCurve() {
		return nil, ErrNotOnCurve
	}
	return aff, nil
}

func bn254ToPoint(p *bn254.G1Affine) Point {
	var out Point
	out.X = p.X.Bytes()
	out.Y = p.Y.Bytes()
	return out
}
