package vault

import (
	"context"

	"github.com/veilvault/veilvault/internal/attest"
	"github.com/veilvault/veilvault/internal/commitment"
	"github.com/veilvault/veilvault/pkg/types"
)

// Verifier is the narrow capability surface of the on-chain vault contract.
// Implemented by the chainrpc adapter in production and by fakes in tests;
// the orchestrators never see the transport behind it.
type Verifier interface {
	NullifierUsed(ctx context.Context, n types.Hash) (bool, error)
	LastNonce(ctx context.Context) (uint64, error)
	AuthorizedBackend(ctx context.Context) (types.Address, error)
	RegisteredTokens(ctx context.Context) ([]types.Address, error)

	PreValidateDeposit(ctx context.Context, p *DepositParams) (bool, string, error)
	PreValidateSplit(ctx context.Context, p *SplitParams) (bool, string, error)
	PreValidateTransfer(ctx context.Context, p *TransferParams) (bool, string, error)
	PreValidateWithdraw(ctx context.Context, p *WithdrawParams) (bool, string, error)

	SubmitDeposit(ctx context.Context, p *DepositParams) (types.Hash, error)
	SubmitSplit(ctx context.Context, p *SplitParams) (types.Hash, error)
	SubmitTransfer(ctx context.Context, p *TransferParams) (types.Hash, error)
	SubmitWithdraw(ctx context.Context, p *WithdrawParams) (types.Hash, error)

	TransactionReceipt(ctx context.Context, tx types.Hash) (*types.Receipt, error)
}

// TokenApprover grants the vault contract an allowance on the token side.
// Awaited to completion before a deposit is submitted.
type TokenApprover interface {
	EnsureAllowance(ctx context.Context, token, owner types.Address, amount uint64) error
}

// OutputParams is one output of a split or transfer as the verifier sees
// it: commitment and nullifier only, the value stays private.
type OutputParams struct {
	Commitment     commitment.Point `json:"commitment"`
	CommitmentHash types.Hash       `json:"commitment_hash"`
	Nullifier      types.Hash       `json:"nullifier"`
}

// DepositParams is the full attested parameter set for depositAsPrivateUTXO.
type DepositParams struct {
	Token          types.Address       `json:"token"`
	Owner          types.Address       `json:"owner"`
	Amount         uint64              `json:"amount"`
	Commitment     commitment.Point    `json:"commitment"`
	CommitmentHash types.Hash          `json:"commitment_hash"`
	Nullifier      types.Hash          `json:"nullifier"`
	Attestation    *attest.Attestation `json:"attestation,omitempty"`
}

// SplitParams is the full attested parameter set for splitPrivateUTXO.
type SplitParams struct {
	Token           types.Address       `json:"token"`
	Owner           types.Address       `json:"owner"`
	SourceHash      types.Hash          `json:"source_hash"`
	SourceNullifier types.Hash          `json:"source_nullifier"`
	Outputs         []OutputParams      `json:"outputs"`
	Attestation     *attest.Attestation `json:"attestation,omitempty"`
}

// TransferParams is the full attested parameter set for transferPrivateUTXO.
// Outputs[0] belongs to the recipient; a second output, when present, is
// change back to the sender.
type TransferParams struct {
	Token           types.Address       `json:"token"`
	Sender          types.Address       `json:"sender"`
	Recipient       types.Address       `json:"recipient"`
	SourceHash      types.Hash          `json:"source_hash"`
	SourceNullifier types.Hash          `json:"source_nullifier"`
	Outputs         []OutputParams      `json:"outputs"`
	Attestation     *attest.Attestation `json:"attestation,omitempty"`
}

// WithdrawParams is the full attested parameter set for
// withdrawFromPrivateUTXO. The amount is revealed: withdrawing converts the
// private record back to a public token balance.
type WithdrawParams struct {
	Token          types.Address       `json:"token"`
	Owner          types.Address       `json:"owner"`
	Amount         uint64              `json:"amount"`
	CommitmentHash types.Hash          `json:"commitment_hash"`
	Nullifier      types.Hash          `json:"nullifier"`
	Attestation    *attest.Attestation `json:"attestation,omitempty"`
}
