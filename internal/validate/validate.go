// Package validate holds the pure pre-flight checks every operation runs
// before any cryptography or network call. A request that fails here never
// causes a side effect.
package validate

import (
	"fmt"
	"math"

	"github.com/veilvault/veilvault/pkg/types"
)

// MaxOutputs bounds the outputs of a single split or transfer. The cap
// keeps the verifier's on-chain work bounded.
const MaxOutputs = 10

// Machine-readable validation codes.
const (
	CodeOutputCount    = "OUTPUT_COUNT"
	CodeConservation   = "VALUE_CONSERVATION"
	CodeZeroOutput     = "ZERO_OUTPUT"
	CodeZeroAmount     = "ZERO_AMOUNT"
	CodeAmountMismatch = "AMOUNT_MISMATCH"
	CodeBadAddress     = "BAD_ADDRESS"
	CodeBadHashField   = "BAD_HASH_FIELD"
	CodeOverflow       = "VALUE_OVERFLOW"
)

// ValidationError carries a machine-readable code and a human message.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errf(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CheckDeposit validates a deposit request: positive amount, well-formed
// token and owner addresses.
func CheckDeposit(token, owner types.Address, amount uint64) error {
	if amount == 0 {
		return errf(CodeZeroAmount, "deposit amount must be positive")
	}
	if err := checkAddresses(token, owner); err != nil {
		return err
	}
	return nil
}

// CheckSplit validates a split request: 1..MaxOutputs outputs, each
// strictly positive, summing exactly to the input value.
func CheckSplit(token, owner types.Address, inputValue uint64, outputs []uint64) error {
	if err := checkAddresses(token, owner); err != nil {
		return err
	}
	return checkConservation(inputValue, outputs)
}

// CheckTransfer validates a transfer request. The output set is the
// recipient amount plus optional change back to the sender; conservation
// against the input record holds exactly as for a split.
func CheckTransfer(token, sender, recipient types.Address, inputValue uint64, outputs []uint64) error {
	if err := checkAddresses(token, sender, recipient); err != nil {
		return err
	}
	if sender == recipient {
		return errf(CodeBadAddress, "transfer recipient equals sender")
	}
	return checkConservation(inputValue, outputs)
}

// CheckWithdraw validates a withdraw request: the revealed amount must
// equal the committed value exactly.
func CheckWithdraw(token, owner types.Address, committedValue, revealedAmount uint64) error {
	if err := checkAddresses(token, owner); err != nil {
		return err
	}
	if revealedAmount == 0 {
		return errf(CodeZeroAmount, "withdraw amount must be positive")
	}
	if revealedAmount != committedValue {
		return errf(CodeAmountMismatch,
			"revealed amount %d does not match committed value %d",
			revealedAmount, committedValue)
	}
	return nil
}

// CheckHashField validates that a hex string field carries exactly 32
// bytes, matching the verifier's fixed nullifier/commitment-hash length.
func CheckHashField(name, value string) error {
	if _, err := types.ParseHash(value); err != nil {
		return errf(CodeBadHashField, "%s: %v", name, err)
	}
	return nil
}

// checkConservation enforces output count, positivity and the exact
// integer conservation sum(outputs) == input.
func checkConservation(inputValue uint64, outputs []uint64) error {
	if len(outputs) < 1 || len(outputs) > MaxOutputs {
		return errf(CodeOutputCount,
			"output count %d outside [1, %d]", len(outputs), MaxOutputs)
	}

	var sum uint64
	for i, v := range outputs {
		if v == 0 {
			return errf(CodeZeroOutput, "output %d has zero value", i)
		}
		if sum > math.MaxUint64-v {
			return errf(CodeOverflow, "output values overflow")
		}
		sum += v
	}

	if sum != inputValue {
		return errf(CodeConservation,
			"outputs sum to %d but input value is %d", sum, inputValue)
	}
	return nil
}

// checkAddresses rejects zero addresses; typed addresses are otherwise
// well-formed by construction.
func checkAddresses(addrs ...types.Address) error {
	for _, a := range addrs {
		if a.IsZero() {
			return errf(CodeBadAddress, "zero address")
		}
	}
	return nil
}
