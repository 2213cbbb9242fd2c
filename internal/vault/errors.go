package vault

import (
	"errors"
	"fmt"

	"github.com/veilvault/veilvault/internal/nullifier"
	"github.com/veilvault/veilvault/internal/validate"
	"github.com/veilvault/veilvault/pkg/types"
)

// Operation tags, shared by the data hash, the attestation request and the
// ledger records.
const (
	OpDeposit  = "DEPOSIT"
	OpSplit    = "SPLIT"
	OpTransfer = "TRANSFER"
	OpWithdraw = "WITHDRAW"
)

// Result error codes not sourced from the validator or the verifier.
const (
	CodeUnknownInput       = "UNKNOWN_INPUT"
	CodeCorruptRecord      = "CORRUPT_RECORD"
	CodeNullifierExhausted = "NULLIFIER_EXHAUSTED"
	CodeAttestation        = "ATTESTATION_FAILED"
	CodePreValidation      = "PREVALIDATION_REJECTED"
	CodeSubmissionReverted = "SUBMISSION_REVERTED"
	CodeChain              = "CHAIN_ERROR"
	CodeInternal           = "INTERNAL"
)

var (
	// ErrUnknownInput means the requested input record is absent from the
	// ledger or already spent.
	ErrUnknownInput = errors.New("input record not found or already spent")

	// ErrCorruptRecord means the stored commitment does not recompute from
	// the stored value and blinding factor. Caught before any gas is spent.
	ErrCorruptRecord = errors.New("stored commitment does not match value and blinding factor")

	// ErrAttestation wraps any signer failure: unreachable endpoint or
	// malformed response. Fatal for the attempt, safe to retry later.
	ErrAttestation = errors.New("attestation failed")

	// ErrReceiptTimeout means the transaction was submitted but no receipt
	// arrived within the polling budget. The caller should reconcile.
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")
)

// PreValidationError carries the verifier's rejection verbatim. The
// operation aborts before submission, so no gas is spent.
type PreValidationError struct {
	Reason string
}

func (e *PreValidationError) Error() string {
	return fmt.Sprintf("verifier rejected pre-validation: %s", e.Reason)
}

// SubmissionError means the transaction was mined but reverted. The hash is
// surfaced for diagnosis; the local ledger is left untouched.
type SubmissionError struct {
	TxHash types.Hash
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("transaction %s reverted", e.TxHash)
}

// errorCode maps a failure to the machine-readable code reported on the
// operation result.
func errorCode(err error) string {
	var vErr *validate.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Code
	}
	var pErr *PreValidationError
	if errors.As(err, &pErr) {
		return CodePreValidation
	}
	var sErr *SubmissionError
	if errors.As(err, &sErr) {
		return CodeSubmissionReverted
	}
	switch {
	case errors.Is(err, ErrUnknownInput):
		return CodeUnknownInput
	case errors.Is(err, ErrCorruptRecord):
		return CodeCorruptRecord
	case errors.Is(err, nullifier.ErrDerivationExhausted),
		errors.Is(err, nullifier.ErrDuplicateNullifier):
		return CodeNullifierExhausted
	case errors.Is(err, ErrAttestation):
		return CodeAttestation
	case errors.Is(err, ErrReceiptTimeout):
		return CodeChain
	default:
		return CodeInternal
	}
}
