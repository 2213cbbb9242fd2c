// Package ledger tracks the client's private UTXO records between chain
// confirmations: ownership, spent state and lineage.
package ledger

import (
	"github.com/veilvault/veilvault/internal/commitment"
	"github.com/veilvault/veilvault/pkg/types"
)

// OpType tags the operation that created a record.
type OpType string

const (
	OpDeposit  OpType = "DEPOSIT"
	OpSplit    OpType = "SPLIT"
	OpCombine  OpType = "COMBINE"
	OpTransfer OpType = "TRANSFER"
)

// PrivateUTXO is one confidential value record. The blinding factor stays
// local and never reaches the chain; the commitment and nullifier hash are
// the record's public fingerprints. Once Spent is set, only the
// bookkeeping fields (Confirmed, BlockNumber) may still change.
type PrivateUTXO struct {
	ID             types.Hash          `json:"id"`
	Owner          types.Address       `json:"owner"`
	Token          types.Address       `json:"token"`
	Value          uint64              `json:"value"`
	Commitment     commitment.Point    `json:"commitment"`
	BlindingFactor commitment.Scalar   `json:"blinding_factor"`
	NullifierHash  types.Hash          `json:"nullifier"`
	Spent          bool                `json:"spent"`
	Confirmed      bool                `json:"confirmed"`
	CreatedTx      types.Hash          `json:"created_tx,omitempty"`
	BlockNumber    uint64              `json:"block_number,omitempty"`
	Parent         types.Hash          `json:"parent,omitempty"`
	Op             OpType              `json:"op"`
	Scheme         commitment.SchemeID `json:"scheme"`
}

// Complete reports whether the record carries the full private field set.
// Records missing any of these must never enter the persisted store.
func (u *PrivateUTXO) Complete() bool {
	if u.BlindingFactor == (commitment.Scalar{}) {
		return false
	}
	if u.Commitment.IsZero() {
		return false
	}
	if u.NullifierHash.IsZero() {
		return false
	}
	return u.Scheme != ""
}

// clone returns a copy so callers can never mutate ledger state directly.
func (u *PrivateUTXO) clone() *PrivateUTXO {
	c := *u
	return &c
}
