// Package nullifier derives the one-way spend tags that prevent double
// spends. A nullifier is published when a record is spent; the vault
// contract rejects any nullifier it has seen before, so derivation must be
// deterministic for idempotent retries yet unique across all outputs.
package nullifier

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/veilvault/veilvault/internal/commitment"
	"github.com/veilvault/veilvault/internal/log"
	"github.com/veilvault/veilvault/pkg/crypto"
	"github.com/veilvault/veilvault/pkg/types"
)

// domainTag separates nullifier hashing from every other keccak use.
const domainTag = "veilvault/nullifier/v1"

// MaxAttempts bounds collision retries per output. Exhausting it means
// something is systematically wrong, not bad luck.
const MaxAttempts = 10

// Engine errors.
var (
	ErrDerivationExhausted = errors.New("nullifier derivation attempts exhausted")
	ErrDuplicateNullifier  = errors.New("duplicate nullifier in output set")
)

// UsedChecker probes the remote verifier's used-nullifier predicate.
type UsedChecker interface {
	NullifierUsed(ctx context.Context, n types.Hash) (bool, error)
}

// Output describes one operation output that needs a nullifier.
type Output struct {
	Value          uint64
	Blinding       commitment.Scalar
	CommitmentHash types.Hash
}

// Derive computes the nullifier for (owner, commitmentHash, seed).
// Deterministic: identical inputs always produce identical output, which is
// what makes a retried operation reuse the same nullifier instead of
// leaking a second spend tag.
func Derive(owner types.Address, commitmentHash types.Hash, seed []byte) types.Hash {
	return crypto.Keccak256([]byte(domainTag), owner[:], commitmentHash[:], seed)
}

// Engine derives output nullifier sets with collision avoidance.
type Engine struct {
	checker UsedChecker
	now     func() time.Time
	log     zerolog.Logger
}

// NewEngine constructs an engine probing the given checker.
func NewEngine(checker UsedChecker) *Engine {
	return &Engine{
		checker: checker,
		now:     time.Now,
		log:     log.Nullifier,
	}
}

// DeriveOutputs derives one nullifier per output. The seed for each output
// folds in every deterministic, output-specific field (blinding factor,
// commitment hash, source commitment coordinates, output index and value)
// so two outputs can never share a seed. Each candidate is checked against
// excluded (which must contain the spending input's own nullifier), against
// the candidates already produced, and against the verifier's used set.
// Only after a detected collision does extra entropy (attempt counter plus
// wall clock) enter the seed.
func (e *Engine) DeriveOutputs(
	ctx context.Context,
	owner types.Address,
	outputs []Output,
	source commitment.Point,
	excluded map[types.Hash]struct{},
) ([]types.Hash, error) {
	derived := make([]types.Hash, 0, len(outputs))
	taken := make(map[types.Hash]struct{}, len(excluded)+len(outputs))
	for n := range excluded {
		taken[n] = struct{}{}
	}

	for i, out := range outputs {
		base := outputSeed(out, source, uint32(i))

		var n types.Hash
		found := false
		for attempt := 0; attempt < MaxAttempts; attempt++ {
			seed := base
			if attempt > 0 {
				// Entropy fallback, only after a detected collision.
				var extra [12]byte
				binary.BigEndian.PutUint32(extra[:4], uint32(attempt))
				binary.BigEndian.PutUint64(extra[4:], uint64(e.now().UnixNano()))
				seed = append(append([]byte{}, base...), extra[:]...)
			}

			n = Derive(owner, out.CommitmentHash, seed)
			if _, clash := taken[n]; clash {
				e.log.Warn().
					Int("output", i).
					Int("attempt", attempt).
					Str("nullifier", n.String()).
					Msg("local nullifier collision, retrying")
				continue
			}

			used, err := e.checker.NullifierUsed(ctx, n)
			if err != nil {
				return nil, fmt.Errorf("probe nullifier: %w", err)
			}
			if used {
				e.log.Warn().
					Int("output", i).
					Int("attempt", attempt).
					Str("nullifier", n.String()).
					Msg("nullifier already used on chain, retrying")
				continue
			}

			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("output %d: %w", i, ErrDerivationExhausted)
		}

		taken[n] = struct{}{}
		derived = append(derived, n)
	}

	return derived, nil
}

// CheckDisjoint verifies the post-condition: the set is pairwise unique and
// disjoint from excluded. A violation here is a logic defect upstream and
// must abort the whole operation before submission.
func CheckDisjoint(nullifiers []types.Hash, excluded map[types.Hash]struct{}) error {
	seen := make(map[types.Hash]struct{}, len(nullifiers))
	for _, n := range nullifiers {
		if _, ok := excluded[n]; ok {
			return fmt.Errorf("%w: %s collides with an excluded nullifier", ErrDuplicateNullifier, n)
		}
		if _, ok := seen[n]; ok {
			return fmt.Errorf("%w: %s appears twice", ErrDuplicateNullifier, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// outputSeed builds the deterministic per-output seed:
// blinding(32) | commitmentHash(32) | source.X(32) | source.Y(32) | index(4) | value(8)
func outputSeed(out Output, source commitment.Point, index uint32) []byte {
	seed := make([]byte, 0, 32*4+4+8)
	seed = append(seed, out.Blinding[:]...)
	seed = append(seed, out.CommitmentHash[:]...)
	seed = append(seed, source.X[:]...)
	seed = append(seed, source.Y[:]...)
	seed = binary.BigEndian.AppendUint32(seed, index)
	seed = binary.BigEndian.AppendUint64(seed, out.Value)
	return seed
}
