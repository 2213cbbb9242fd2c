package vault

import (
	"encoding/binary"

	"github.com/veilvault/veilvault/pkg/crypto"
	"github.com/veilvault/veilvault/pkg/types"
)

// The data hash is the exact preimage the backend signs and the contract
// re-derives, so the packed encoding is pinned: operation tag as raw ASCII
// bytes, addresses and integers left-padded to 32 bytes, bytes32 fields raw,
// fields in declaration order. Any deviation rejects every attestation.

// word left-pads an integer to a 32-byte big-endian word.
func word(v uint64) []byte {
	var w [32]byte
	binary.BigEndian.PutUint64(w[24:], v)
	return w[:]
}

// addrWord left-pads a 20-byte address to a 32-byte word.
func addrWord(a types.Address) []byte {
	var w [32]byte
	copy(w[12:], a[:])
	return w[:]
}

// DepositDataHash packs (tag, token, owner, amount, commitmentHash,
// nullifier).
func DepositDataHash(p *DepositParams) types.Hash {
	return crypto.Keccak256(
		[]byte(OpDeposit),
		addrWord(p.Token),
		addrWord(p.Owner),
		word(p.Amount),
		p.CommitmentHash[:],
		p.Nullifier[:],
	)
}

// SplitDataHash packs (tag, token, owner, sourceHash, sourceNullifier,
// outputCount, then per output: commitmentHash, nullifier).
func SplitDataHash(p *SplitParams) types.Hash {
	parts := [][]byte{
		[]byte(OpSplit),
		addrWord(p.Token),
		addrWord(p.Owner),
		p.SourceHash[:],
		p.SourceNullifier[:],
		word(uint64(len(p.Outputs))),
	}
	for i := range p.Outputs {
		parts = append(parts, p.Outputs[i].CommitmentHash[:], p.Outputs[i].Nullifier[:])
	}
	return crypto.Keccak256(parts...)
}

// TransferDataHash packs (tag, token, sender, recipient, sourceHash,
// sourceNullifier, outputCount, then per output: commitmentHash, nullifier).
func TransferDataHash(p *TransferParams) types.Hash {
	parts := [][]byte{
		[]byte(OpTransfer),
		addrWord(p.Token),
		addrWord(p.Sender),
		addrWord(p.Recipient),
		p.SourceHash[:],
		p.SourceNullifier[:],
		word(uint64(len(p.Outputs))),
	}
	for i := range p.Outputs {
		parts = append(parts, p.Outputs[i].CommitmentHash[:], p.Outputs[i].Nullifier[:])
	}
	return crypto.Keccak256(parts...)
}

// WithdrawDataHash packs (tag, token, owner, amount, commitmentHash,
// nullifier).
func WithdrawDataHash(p *WithdrawParams) types.Hash {
	return crypto.Keccak256(
		[]byte(OpWithdraw),
		addrWord(p.Token),
		addrWord(p.Owner),
		word(p.Amount),
		p.CommitmentHash[:],
		p.Nullifier[:],
	)
}
