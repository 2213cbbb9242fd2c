package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veilvault/veilvault/internal/attest"
	"github.com/veilvault/veilvault/internal/commitment"
	"github.com/veilvault/veilvault/internal/ledger"
	"github.com/veilvault/veilvault/internal/nullifier"
	"github.com/veilvault/veilvault/internal/storage"
	"github.com/veilvault/veilvault/internal/validate"
	"github.com/veilvault/veilvault/pkg/types"
)

var (
	testOwner     = types.Address{0xaa, 0xaa, 0xaa}
	testRecipient = types.Address{0xbb, 0xbb}
	testToken     = types.Address{0x01, 0x02}
	testBackend   = types.Address{0xba, 0xcc}
)

type fakeVerifier struct {
	used         map[types.Hash]bool
	nonce        uint64
	rejectReason string // non-empty: pre-validation returns false
	revert       bool   // mined receipts carry failed status

	submissions []string
	approvals   int
	receipts    map[types.Hash]*types.Receipt
	nextTx      byte
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		used:     make(map[types.Hash]bool),
		receipts: make(map[types.Hash]*types.Receipt),
	}
}

func (f *fakeVerifier) NullifierUsed(_ context.Context, n types.Hash) (bool, error) {
	return f.used[n], nil
}

func (f *fakeVerifier) LastNonce(context.Context) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeVerifier) AuthorizedBackend(context.Context) (types.Address, error) {
	return testBackend, nil
}

func (f *fakeVerifier) RegisteredTokens(context.Context) ([]types.Address, error) {
	return []types.Address{testToken}, nil
}

func (f *fakeVerifier) preValidate() (bool, string, error) {
	if f.rejectReason != "" {
		return false, f.rejectReason, nil
	}
	return true, "", nil
}

func (f *fakeVerifier) PreValidateDeposit(context.Context, *DepositParams) (bool, string, error) {
	return f.preValidate()
}

func (f *fakeVerifier) PreValidateSplit(context.Context, *SplitParams) (bool, string, error) {
	return f.preValidate()
}

func (f *fakeVerifier) PreValidateTransfer(context.Context, *TransferParams) (bool, string, error) {
	return f.preValidate()
}

func (f *fakeVerifier) PreValidateWithdraw(context.Context, *WithdrawParams) (bool, string, error) {
	return f.preValidate()
}

func (f *fakeVerifier) submit(op string, nullifiers ...types.Hash) (types.Hash, error) {
	f.submissions = append(f.submissions, op)
	f.nextTx++
	tx := types.Hash{0xfe, f.nextTx}

	status := types.ReceiptSuccess
	if f.revert {
		status = types.ReceiptFailed
	}
	f.receipts[tx] = &types.Receipt{TxHash: tx, Status: status, BlockNumber: 1000 + uint64(f.nextTx)}
	for _, n := range nullifiers {
		f.used[n] = true
	}
	return tx, nil
}

func (f *fakeVerifier) SubmitDeposit(_ context.Context, p *DepositParams) (types.Hash, error) {
	return f.submit(OpDeposit, p.Nullifier)
}

func (f *fakeVerifier) SubmitSplit(_ context.Context, p *SplitParams) (types.Hash, error) {
	return f.submit(OpSplit, p.SourceNullifier)
}

func (f *fakeVerifier) SubmitTransfer(_ context.Context, p *TransferParams) (types.Hash, error) {
	return f.submit(OpTransfer, p.SourceNullifier)
}

func (f *fakeVerifier) SubmitWithdraw(_ context.Context, p *WithdrawParams) (types.Hash, error) {
	return f.submit(OpWithdraw, p.Nullifier)
}

func (f *fakeVerifier) TransactionReceipt(_ context.Context, tx types.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[tx]
	if !ok {
		return nil, errors.New("unknown transaction")
	}
	return r, nil
}

type fakeApprover struct {
	calls int
	err   error
}

func (f *fakeApprover) EnsureAllowance(context.Context, types.Address, types.Address, uint64) error {
	f.calls++
	return f.err
}

type fakeSigner struct {
	nonce uint64
	err   error
}

func (f *fakeSigner) Attest(_ context.Context, op string, dataHash types.Hash) (*attest.Attestation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &attest.Attestation{
		Operation: op,
		DataHash:  dataHash,
		Nonce:     f.nonce + 1,
		Timestamp: time.Now().Unix(),
		Signature: make([]byte, 65),
	}, nil
}

func newTestEngine(t *testing.T, verifier *fakeVerifier, approver *fakeApprover) *Engine {
	t.Helper()
	eng, err := NewEngine(Options{
		Scheme:              commitment.SchemeSecp256k1,
		Verifier:            verifier,
		Approver:            approver,
		Signer:              &fakeSigner{nonce: verifier.nonce},
		Ledger:              ledger.New(storage.NewMemory()),
		ReceiptPollInterval: time.Millisecond,
		ReceiptPollAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

// seedInput inserts a confirmed, spendable record built with real curve
// arithmetic so the engine's corruption check passes.
func seedInput(t *testing.T, eng *Engine, value uint64) *ledger.PrivateUTXO {
	t.Helper()
	blinding, err := eng.commit.NewBlinding()
	if err != nil {
		t.Fatalf("NewBlinding: %v", err)
	}
	point, err := eng.commit.Create(value, blinding)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	cHash := commitment.HashPoint(point)

	rec := &ledger.PrivateUTXO{
		ID:             cHash,
		Owner:          testOwner,
		Token:          testToken,
		Value:          value,
		Commitment:     point,
		BlindingFactor: blinding,
		NullifierHash:  nullifier.Derive(testOwner, cHash, []byte("input seed")),
		Confirmed:      true,
		Op:             ledger.OpDeposit,
		Scheme:         commitment.SchemeSecp256k1,
	}
	if err := eng.Ledger().Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec
}

func TestDeposit_EndToEnd(t *testing.T) {
	verifier := newFakeVerifier()
	approver := &fakeApprover{}
	eng := newTestEngine(t, verifier, approver)

	res, err := eng.Deposit(context.Background(), DepositRequest{
		Token:  testToken,
		Owner:  testOwner,
		Amount: 1000,
	})
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if !res.Success {
		t.Fatalf("result not successful: %s", res.ErrorMessage)
	}
	if res.TxHash.IsZero() || res.BlockNumber == 0 {
		t.Error("result missing transaction reference")
	}
	if approver.calls != 1 {
		t.Errorf("allowance calls = %d, want 1", approver.calls)
	}

	unspent := eng.Ledger().Unspent(testOwner)
	if len(unspent) != 1 {
		t.Fatalf("ledger has %d unspent records, want 1", len(unspent))
	}
	rec := unspent[0]
	if rec.Value != 1000 || rec.Token != testToken || rec.Spent || !rec.Confirmed {
		t.Errorf("unexpected record: value=%d token=%s spent=%v confirmed=%v",
			rec.Value, rec.Token, rec.Spent, rec.Confirmed)
	}
	if rec.Op != ledger.OpDeposit {
		t.Errorf("op = %s, want %s", rec.Op, ledger.OpDeposit)
	}
}

func TestDeposit_ValidationFailureHasNoSideEffects(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, &fakeApprover{})

	res, err := eng.Deposit(context.Background(), DepositRequest{
		Token:  testToken,
		Owner:  testOwner,
		Amount: 0,
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var vErr *validate.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %T, want ValidationError", err)
	}
	if res.ErrorCode != validate.CodeZeroAmount {
		t.Errorf("error code = %s, want %s", res.ErrorCode, validate.CodeZeroAmount)
	}
	if len(verifier.submissions) != 0 {
		t.Error("validation failure must not reach the network")
	}
}

func TestDeposit_AllowanceFailureAborts(t *testing.T) {
	verifier := newFakeVerifier()
	approver := &fakeApprover{err: errors.New("approve reverted")}
	eng := newTestEngine(t, verifier, approver)

	_, err := eng.Deposit(context.Background(), DepositRequest{Token: testToken, Owner: testOwner, Amount: 5})
	if err == nil {
		t.Fatal("expected allowance error")
	}
	if len(verifier.submissions) != 0 {
		t.Error("deposit must not submit when the allowance step fails")
	}
}

func TestSplit_EndToEnd(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	res, err := eng.Split(context.Background(), SplitRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Outputs: []uint64{30, 70},
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !res.Success {
		t.Fatalf("result not successful: %s", res.ErrorMessage)
	}

	spent, ok := eng.Ledger().Get(input.ID)
	if !ok || !spent.Spent {
		t.Error("input record should be marked spent")
	}

	unspent := eng.Ledger().Unspent(testOwner)
	if len(unspent) != 2 {
		t.Fatalf("ledger has %d unspent records, want 2", len(unspent))
	}
	values := map[uint64]bool{}
	for _, rec := range unspent {
		values[rec.Value] = true
		if rec.Parent != input.ID {
			t.Errorf("record %s parent = %s, want %s", rec.ID, rec.Parent, input.ID)
		}
		if rec.Op != ledger.OpSplit {
			t.Errorf("op = %s, want %s", rec.Op, ledger.OpSplit)
		}
		if !rec.Confirmed {
			t.Error("outputs of a confirmed split must be confirmed")
		}
	}
	if !values[30] || !values[70] {
		t.Errorf("output values = %v, want {30, 70}", values)
	}

	// Output nullifiers are disjoint from the spent input's.
	for _, n := range res.Nullifiers {
		if n == input.NullifierHash {
			t.Error("output nullifier equals the spent input nullifier")
		}
	}
}

func TestSplit_RejectsNonConservingOutputs(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	res, err := eng.Split(context.Background(), SplitRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Outputs: []uint64{40, 59},
	})
	if err == nil {
		t.Fatal("expected conservation error")
	}
	if res.ErrorCode != validate.CodeConservation {
		t.Errorf("error code = %s, want %s", res.ErrorCode, validate.CodeConservation)
	}
	if len(verifier.submissions) != 0 {
		t.Error("non-conserving split must not reach the network")
	}
	if got, _ := eng.Ledger().Get(input.ID); got.Spent {
		t.Error("input must stay unspent after a rejected split")
	}
}

func TestSplit_UnknownInput(t *testing.T) {
	eng := newTestEngine(t, newFakeVerifier(), nil)

	res, err := eng.Split(context.Background(), SplitRequest{
		Owner:   testOwner,
		InputID: types.Hash{0x99},
		Outputs: []uint64{1},
	})
	if !errors.Is(err, ErrUnknownInput) {
		t.Fatalf("err = %v, want ErrUnknownInput", err)
	}
	if res.ErrorCode != CodeUnknownInput {
		t.Errorf("error code = %s, want %s", res.ErrorCode, CodeUnknownInput)
	}
}

func TestSplit_CorruptRecordCaughtBeforeSubmission(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	// Re-insert the record with a value its commitment does not open to.
	tampered, _ := eng.Ledger().Get(input.ID)
	tampered.Value = 101
	if err := eng.Ledger().Insert(tampered); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := eng.Split(context.Background(), SplitRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Outputs: []uint64{101},
	})
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("err = %v, want ErrCorruptRecord", err)
	}
	if len(verifier.submissions) != 0 {
		t.Error("corrupt record must be caught before any submission")
	}
}

func TestPreValidationShortCircuit(t *testing.T) {
	verifier := newFakeVerifier()
	verifier.rejectReason = "NONCE_STALE"
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	res, err := eng.Split(context.Background(), SplitRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Outputs: []uint64{50, 50},
	})
	var pErr *PreValidationError
	if !errors.As(err, &pErr) {
		t.Fatalf("err = %v, want PreValidationError", err)
	}
	if pErr.Reason != "NONCE_STALE" {
		t.Errorf("reason = %q, want verifier message verbatim", pErr.Reason)
	}
	if res.ErrorCode != CodePreValidation {
		t.Errorf("error code = %s, want %s", res.ErrorCode, CodePreValidation)
	}
	if len(verifier.submissions) != 0 {
		t.Error("rejected pre-validation must not submit")
	}
	if got, _ := eng.Ledger().Get(input.ID); got.Spent {
		t.Error("ledger must be unchanged after pre-validation rejection")
	}
	if len(eng.Ledger().Unspent(testOwner)) != 1 {
		t.Error("no output records may exist after pre-validation rejection")
	}
}

func TestSubmissionReverted(t *testing.T) {
	verifier := newFakeVerifier()
	verifier.revert = true
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	res, err := eng.Split(context.Background(), SplitRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Outputs: []uint64{100},
	})
	var sErr *SubmissionError
	if !errors.As(err, &sErr) {
		t.Fatalf("err = %v, want SubmissionError", err)
	}
	if sErr.TxHash != res.TxHash {
		t.Error("submission error should carry the transaction hash")
	}
	if res.ErrorCode != CodeSubmissionReverted {
		t.Errorf("error code = %s, want %s", res.ErrorCode, CodeSubmissionReverted)
	}
	if got, _ := eng.Ledger().Get(input.ID); got.Spent {
		t.Error("reverted transaction must leave the ledger untouched")
	}
}

func TestTransfer_EndToEnd(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	res, err := eng.Transfer(context.Background(), TransferRequest{
		Owner:     testOwner,
		Recipient: testRecipient,
		InputID:   input.ID,
		Amount:    40,
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !res.Success {
		t.Fatalf("result not successful: %s", res.ErrorMessage)
	}

	received := eng.Ledger().Unspent(testRecipient)
	if len(received) != 1 || received[0].Value != 40 {
		t.Fatalf("recipient records = %v, want one of value 40", received)
	}
	change := eng.Ledger().Unspent(testOwner)
	if len(change) != 1 || change[0].Value != 60 {
		t.Fatalf("sender change = %v, want one of value 60", change)
	}
	if received[0].Parent != input.ID || change[0].Parent != input.ID {
		t.Error("both outputs must trace back to the input record")
	}
	if got, _ := eng.Ledger().Get(input.ID); !got.Spent {
		t.Error("transferred input must be spent")
	}
}

func TestTransfer_FullAmountHasNoChange(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	res, err := eng.Transfer(context.Background(), TransferRequest{
		Owner:     testOwner,
		Recipient: testRecipient,
		InputID:   input.ID,
		Amount:    100,
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(res.CreatedIDs) != 1 {
		t.Errorf("created %d records, want 1", len(res.CreatedIDs))
	}
	if left := eng.Ledger().Unspent(testOwner); len(left) != 0 {
		t.Errorf("sender should hold no unspent records, has %d", len(left))
	}
}

func TestTransfer_ToSelfRejected(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	_, err := eng.Transfer(context.Background(), TransferRequest{
		Owner:     testOwner,
		Recipient: testOwner,
		InputID:   input.ID,
		Amount:    40,
	})
	if err == nil {
		t.Fatal("expected rejection of self-transfer")
	}
	if len(verifier.submissions) != 0 {
		t.Error("self-transfer must not reach the network")
	}
}

func TestWithdraw_EndToEnd(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 500)

	res, err := eng.Withdraw(context.Background(), WithdrawRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Amount:  500,
	})
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !res.Success {
		t.Fatalf("result not successful: %s", res.ErrorMessage)
	}
	if got, _ := eng.Ledger().Get(input.ID); !got.Spent {
		t.Error("withdrawn record must be spent")
	}
	if len(res.CreatedIDs) != 0 {
		t.Error("withdraw must not create records")
	}
}

func TestWithdraw_AmountMismatch(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 500)

	res, err := eng.Withdraw(context.Background(), WithdrawRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Amount:  499,
	})
	if err == nil {
		t.Fatal("expected amount mismatch error")
	}
	if res.ErrorCode != validate.CodeAmountMismatch {
		t.Errorf("error code = %s, want %s", res.ErrorCode, validate.CodeAmountMismatch)
	}
	if len(verifier.submissions) != 0 {
		t.Error("mismatched withdraw must not reach the network")
	}
}

func TestAttestationFailureIsClassified(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	eng.signer = &fakeSigner{err: errors.New("connection refused")}

	res, err := eng.Deposit(context.Background(), DepositRequest{Token: testToken, Owner: testOwner, Amount: 10})
	if !errors.Is(err, ErrAttestation) {
		t.Fatalf("err = %v, want ErrAttestation", err)
	}
	if res.ErrorCode != CodeAttestation {
		t.Errorf("error code = %s, want %s", res.ErrorCode, CodeAttestation)
	}
	if len(verifier.submissions) != 0 {
		t.Error("attestation failure must stop before submission")
	}
}

func TestCreatedIDs_LogExtractionAndFallback(t *testing.T) {
	nulls := []types.Hash{{0x01}, {0x02}}
	id1, id2 := types.Hash{0xd1}, types.Hash{0xd2}
	ownerTopic := types.Hash{0xaa}

	receipt := &types.Receipt{
		Status: types.ReceiptSuccess,
		Logs: []types.Log{
			{Topics: []types.Hash{topicUTXOCreated, ownerTopic, id1}},
			{Topics: []types.Hash{topicUTXOCreated, ownerTopic, id2}},
		},
	}
	got := createdIDs(receipt, nulls)
	if got[0] != id1 || got[1] != id2 {
		t.Errorf("ids = %v, want emitted ids", got)
	}

	// Wrong count: fall back to the derived nullifiers.
	receipt.Logs = receipt.Logs[:1]
	got = createdIDs(receipt, nulls)
	if got[0] != nulls[0] || got[1] != nulls[1] {
		t.Errorf("ids = %v, want nullifier fallback", got)
	}

	// Unparseable logs: same fallback.
	receipt.Logs = []types.Log{{Topics: []types.Hash{{0x12}}}}
	got = createdIDs(receipt, nulls)
	if got[0] != nulls[0] {
		t.Errorf("ids = %v, want nullifier fallback", got)
	}
}

func TestDataHash_PinnedEncoding(t *testing.T) {
	p := &DepositParams{
		Token:          testToken,
		Owner:          testOwner,
		Amount:         1000,
		CommitmentHash: types.Hash{0xc0},
		Nullifier:      types.Hash{0x4e},
	}
	first := DepositDataHash(p)
	if first != DepositDataHash(p) {
		t.Error("data hash must be deterministic")
	}

	q := *p
	q.Amount = 1001
	if DepositDataHash(&q) == first {
		t.Error("data hash must change with the amount")
	}

	r := *p
	r.Owner = testRecipient
	if DepositDataHash(&r) == first {
		t.Error("data hash must change with the owner")
	}
}

func TestOperationResultNeverNil(t *testing.T) {
	eng := newTestEngine(t, newFakeVerifier(), nil)

	for name, run := range map[string]func() (*OperationResult, error){
		"deposit":  func() (*OperationResult, error) { return eng.Deposit(context.Background(), DepositRequest{}) },
		"split":    func() (*OperationResult, error) { return eng.Split(context.Background(), SplitRequest{}) },
		"transfer": func() (*OperationResult, error) { return eng.Transfer(context.Background(), TransferRequest{}) },
		"withdraw": func() (*OperationResult, error) { return eng.Withdraw(context.Background(), WithdrawRequest{}) },
	} {
		res, err := run()
		if res == nil {
			t.Errorf("%s: result is nil", name)
			continue
		}
		if err == nil {
			t.Errorf("%s: empty request should fail", name)
		}
		if res.ErrorCode == "" || res.ErrorMessage == "" {
			t.Errorf("%s: failure must carry code and message, got %q %q", name, res.ErrorCode, res.ErrorMessage)
		}
	}
}

// Conservation holds homomorphically across a split: the sum of the output
// commitments opens to the input value under the summed blinding factors.
func TestSplitOutputsPreserveCommitmentSum(t *testing.T) {
	verifier := newFakeVerifier()
	eng := newTestEngine(t, verifier, nil)
	input := seedInput(t, eng, 100)

	if _, err := eng.Split(context.Background(), SplitRequest{
		Owner:   testOwner,
		InputID: input.ID,
		Outputs: []uint64{30, 70},
	}); err != nil {
		t.Fatalf("Split: %v", err)
	}

	outs := eng.Ledger().Unspent(testOwner)
	if len(outs) != 2 {
		t.Fatalf("want 2 outputs, got %d", len(outs))
	}

	sum, err := eng.commit.Add(outs[0].Commitment, outs[1].Commitment)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	blindingSum := eng.commit.Scheme().AddScalars(outs[0].BlindingFactor, outs[1].BlindingFactor)
	if !eng.commit.Verify(sum, 100, blindingSum) {
		t.Error("summed output commitments do not open to the input value")
	}
}
