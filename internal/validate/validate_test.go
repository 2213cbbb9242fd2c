package validate

import (
	"errors"
	"testing"

	"github.com/veilvault/veilvault/pkg/types"
)

var (
	tokenAddr = types.Address{0x01}
	ownerAddr = types.Address{0x02}
	otherAddr = types.Address{0x03}
)

func code(t *testing.T, err error) string {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error %v is not a ValidationError", err)
	}
	return ve.Code
}

func TestCheckDeposit(t *testing.T) {
	if err := CheckDeposit(tokenAddr, ownerAddr, 1000); err != nil {
		t.Errorf("valid deposit rejected: %v", err)
	}
	if got := code(t, CheckDeposit(tokenAddr, ownerAddr, 0)); got != CodeZeroAmount {
		t.Errorf("zero deposit code = %s, want %s", got, CodeZeroAmount)
	}
	if got := code(t, CheckDeposit(types.Address{}, ownerAddr, 5)); got != CodeBadAddress {
		t.Errorf("zero token code = %s, want %s", got, CodeBadAddress)
	}
}

func TestCheckSplit_Conservation(t *testing.T) {
	// input=100, outputs=[40,60] conserves.
	if err := CheckSplit(tokenAddr, ownerAddr, 100, []uint64{40, 60}); err != nil {
		t.Errorf("conserving split rejected: %v", err)
	}
	// input=100, outputs=[40,59] does not.
	err := CheckSplit(tokenAddr, ownerAddr, 100, []uint64{40, 59})
	if got := code(t, err); got != CodeConservation {
		t.Errorf("non-conserving split code = %s, want %s", got, CodeConservation)
	}
}

func TestCheckSplit_OutputCount(t *testing.T) {
	if got := code(t, CheckSplit(tokenAddr, ownerAddr, 1, nil)); got != CodeOutputCount {
		t.Errorf("empty outputs code = %s, want %s", got, CodeOutputCount)
	}

	eleven := make([]uint64, 11)
	for i := range eleven {
		eleven[i] = 1
	}
	if got := code(t, CheckSplit(tokenAddr, ownerAddr, 11, eleven)); got != CodeOutputCount {
		t.Errorf("11 outputs code = %s, want %s", got, CodeOutputCount)
	}

	ten := make([]uint64, 10)
	for i := range ten {
		ten[i] = 1
	}
	if err := CheckSplit(tokenAddr, ownerAddr, 10, ten); err != nil {
		t.Errorf("10 outputs should be allowed: %v", err)
	}
}

func TestCheckSplit_ZeroOutput(t *testing.T) {
	err := CheckSplit(tokenAddr, ownerAddr, 40, []uint64{40, 0})
	if got := code(t, err); got != CodeZeroOutput {
		t.Errorf("zero output code = %s, want %s", got, CodeZeroOutput)
	}
}

func TestCheckSplit_Overflow(t *testing.T) {
	err := CheckSplit(tokenAddr, ownerAddr, 10, []uint64{^uint64(0), 2})
	if got := code(t, err); got != CodeOverflow {
		t.Errorf("overflow code = %s, want %s", got, CodeOverflow)
	}
}

func TestCheckTransfer(t *testing.T) {
	if err := CheckTransfer(tokenAddr, ownerAddr, otherAddr, 100, []uint64{70, 30}); err != nil {
		t.Errorf("valid transfer rejected: %v", err)
	}

	err := CheckTransfer(tokenAddr, ownerAddr, ownerAddr, 100, []uint64{100})
	if got := code(t, err); got != CodeBadAddress {
		t.Errorf("self transfer code = %s, want %s", got, CodeBadAddress)
	}

	err = CheckTransfer(tokenAddr, ownerAddr, otherAddr, 100, []uint64{70, 29})
	if got := code(t, err); got != CodeConservation {
		t.Errorf("non-conserving transfer code = %s, want %s", got, CodeConservation)
	}
}

func TestCheckWithdraw(t *testing.T) {
	if err := CheckWithdraw(tokenAddr, ownerAddr, 500, 500); err != nil {
		t.Errorf("valid withdraw rejected: %v", err)
	}

	err := CheckWithdraw(tokenAddr, ownerAddr, 500, 499)
	if got := code(t, err); got != CodeAmountMismatch {
		t.Errorf("mismatched withdraw code = %s, want %s", got, CodeAmountMismatch)
	}

	if got := code(t, CheckWithdraw(tokenAddr, ownerAddr, 0, 0)); got != CodeZeroAmount {
		t.Errorf("zero withdraw code = %s, want %s", got, CodeZeroAmount)
	}
}

func TestCheckHashField(t *testing.T) {
	h := types.Hash{0x01}
	if err := CheckHashField("nullifier", h.String()); err != nil {
		t.Errorf("valid hash field rejected: %v", err)
	}
	err := CheckHashField("nullifier", "0x1234")
	if got := code(t, err); got != CodeBadHashField {
		t.Errorf("short hash field code = %s, want %s", got, CodeBadHashField)
	}
}
