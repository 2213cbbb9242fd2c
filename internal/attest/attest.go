// Package attest obtains signed attestations from the backend signer. The
// vault contract only accepts operations whose public parameters carry a
// fresh signature from its authorized backend.
package attest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/veilvault/veilvault/pkg/crypto"
	"github.com/veilvault/veilvault/pkg/types"
)

var (
	ErrEmptyDataHash   = errors.New("attest: empty data hash")
	ErrHashMismatch    = errors.New("attest: signer returned attestation for a different data hash")
	ErrBadSignature    = errors.New("attest: malformed signature")
	ErrSignerMismatch  = errors.New("attest: recovered signer is not the authorized backend")
	ErrSignerRejection = errors.New("attest: signer rejected the request")
)

// Attestation is the backend's signed statement over one operation's data
// hash. Nonce and Timestamp are checked by the verifier at submission time,
// so the client forwards them untouched.
type Attestation struct {
	Operation string     `json:"operation"`
	DataHash  types.Hash `json:"data_hash"`
	Nonce     uint64     `json:"nonce"`
	Timestamp int64      `json:"timestamp"`
	Signature []byte     `json:"signature"`
}

// Signer produces attestations. Implemented by HTTPSigner in production and
// by in-process fakes in tests.
type Signer interface {
	Attest(ctx context.Context, operation string, dataHash types.Hash) (*Attestation, error)
}

// SigningHash is the preimage the backend signs: keccak over the operation
// tag bytes, the raw data hash, and nonce and timestamp each left-padded to
// 32 bytes. The verifier re-derives this exact hash on chain.
func SigningHash(operation string, dataHash types.Hash, nonce uint64, timestamp int64) types.Hash {
	var nonceWord, tsWord [32]byte
	binary.BigEndian.PutUint64(nonceWord[24:], nonce)
	binary.BigEndian.PutUint64(tsWord[24:], uint64(timestamp))
	return crypto.Keccak256([]byte(operation), dataHash[:], nonceWord[:], tsWord[:])
}

// VerifySigner recovers the signing address from the attestation and checks
// it against the verifier's authorized backend. Callers treat a failure
// here as best-effort advice: the chain performs the authoritative check.
func VerifySigner(att *Attestation, backend types.Address) error {
	if len(att.Signature) != 65 {
		return fmt.Errorf("%w: %d bytes", ErrBadSignature, len(att.Signature))
	}
	hash := SigningHash(att.Operation, att.DataHash, att.Nonce, att.Timestamp)
	signer, err := crypto.RecoverAddress(hash[:], att.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != backend {
		return fmt.Errorf("%w: got %s, want %s", ErrSignerMismatch, signer, backend)
	}
	return nil
}
