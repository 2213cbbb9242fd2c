// Package vault orchestrates the confidential operations against the
// on-chain vault contract: deposit, split, transfer and withdraw. Each
// operation walks the same state machine, and the local ledger is only
// mutated after the chain has confirmed the transaction.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/veilvault/veilvault/internal/attest"
	"github.com/veilvault/veilvault/internal/commitment"
	"github.com/veilvault/veilvault/internal/ledger"
	"github.com/veilvault/veilvault/internal/log"
	"github.com/veilvault/veilvault/internal/nullifier"
	"github.com/veilvault/veilvault/internal/validate"
	"github.com/veilvault/veilvault/pkg/crypto"
	"github.com/veilvault/veilvault/pkg/types"
)

// Operation states, logged as each orchestration advances.
type opState string

const (
	stateValidating         opState = "validating"
	stateCommitting         opState = "committing"
	stateDerivingNullifiers opState = "deriving-nullifiers"
	stateAttesting          opState = "attesting"
	statePreValidating      opState = "pre-validating"
	stateSubmitting         opState = "submitting"
	stateConfirming         opState = "confirming"
	stateFinalized          opState = "finalized"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 30
)

// topicUTXOCreated is the event signature the contract emits per created
// record: PrivateUTXOCreated(address indexed owner, bytes32 indexed id).
var topicUTXOCreated = crypto.Keccak256([]byte("PrivateUTXOCreated(address,bytes32)"))

// Options wires an Engine. Verifier, Signer and Ledger are required;
// Approver is only consulted for deposits.
type Options struct {
	Scheme   commitment.SchemeID
	Verifier Verifier
	Approver TokenApprover
	Signer   attest.Signer
	Ledger   *ledger.Ledger

	ReceiptPollInterval time.Duration
	ReceiptPollAttempts int
}

// Engine is the operation orchestrator. One engine serves one owner
// session; callers serialize operations per owner, the engine does not
// lock across its own entry points.
type Engine struct {
	commit    *commitment.Engine
	nulls     *nullifier.Engine
	ledger    *ledger.Ledger
	verifier  Verifier
	approver  TokenApprover
	signer    attest.Signer
	pollEvery time.Duration
	pollMax   int
	log       zerolog.Logger
}

// NewEngine constructs an engine from the given options.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Verifier == nil {
		return nil, errors.New("vault: verifier is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("vault: attestation signer is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("vault: ledger is required")
	}

	schemeID := opts.Scheme
	if schemeID == "" {
		schemeID = commitment.SchemeSecp256k1
	}
	scheme, err := commitment.NewScheme(schemeID)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	pollEvery := opts.ReceiptPollInterval
	if pollEvery <= 0 {
		pollEvery = defaultPollInterval
	}
	pollMax := opts.ReceiptPollAttempts
	if pollMax <= 0 {
		pollMax = defaultPollAttempts
	}

	return &Engine{
		commit:    commitment.NewEngine(scheme),
		nulls:     nullifier.NewEngine(opts.Verifier),
		ledger:    opts.Ledger,
		verifier:  opts.Verifier,
		approver:  opts.Approver,
		signer:    opts.Signer,
		pollEvery: pollEvery,
		pollMax:   pollMax,
		log:       log.Vault,
	}, nil
}

// Ledger exposes the engine's ledger for queries and reconciliation.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Verifier exposes the chain adapter, e.g. as a receipt source.
func (e *Engine) Verifier() Verifier {
	return e.verifier
}

// DepositRequest converts a public token amount into one private record.
type DepositRequest struct {
	Token  types.Address
	Owner  types.Address
	Amount uint64
}

// SplitRequest spends one record into several smaller ones for the same
// owner. Outputs must sum exactly to the input value.
type SplitRequest struct {
	Owner   types.Address
	InputID types.Hash
	Outputs []uint64
}

// TransferRequest spends one record, paying Amount to the recipient with
// any remainder returned to the sender as change.
type TransferRequest struct {
	Owner     types.Address
	Recipient types.Address
	InputID   types.Hash
	Amount    uint64
}

// WithdrawRequest reveals and redeems one record back to a public token
// balance. Amount must equal the record's committed value.
type WithdrawRequest struct {
	Owner   types.Address
	InputID types.Hash
	Amount  uint64
}

// outputDraft carries one planned output through the pipeline.
type outputDraft struct {
	value    uint64
	blinding commitment.Scalar
	point    commitment.Point
	hash     types.Hash
}

// Deposit runs the full deposit orchestration.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (res *OperationResult, err error) {
	res = &OperationResult{Operation: OpDeposit}
	defer e.guard(res, &err)

	e.step(OpDeposit, stateValidating)
	if err := validate.CheckDeposit(req.Token, req.Owner, req.Amount); err != nil {
		return res.fail(err)
	}

	e.step(OpDeposit, stateCommitting)
	blinding, err := e.commit.NewBlinding()
	if err != nil {
		return res.fail(err)
	}
	point, err := e.commit.Create(req.Amount, blinding)
	if err != nil {
		return res.fail(err)
	}
	cHash := commitment.HashPoint(point)

	e.step(OpDeposit, stateDerivingNullifiers)
	nulls, err := e.nulls.DeriveOutputs(ctx, req.Owner, []nullifier.Output{{
		Value:          req.Amount,
		Blinding:       blinding,
		CommitmentHash: cHash,
	}}, point, nil)
	if err != nil {
		return res.fail(err)
	}

	params := &DepositParams{
		Token:          req.Token,
		Owner:          req.Owner,
		Amount:         req.Amount,
		Commitment:     point,
		CommitmentHash: cHash,
		Nullifier:      nulls[0],
	}

	e.step(OpDeposit, stateAttesting)
	params.Attestation, err = e.requestAttestation(ctx, OpDeposit, DepositDataHash(params))
	if err != nil {
		return res.fail(err)
	}

	e.step(OpDeposit, statePreValidating)
	ok, reason, err := e.verifier.PreValidateDeposit(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("pre-validate deposit: %w", err))
	}
	if !ok {
		return res.fail(&PreValidationError{Reason: reason})
	}

	e.step(OpDeposit, stateSubmitting)
	if e.approver != nil {
		if err := e.approver.EnsureAllowance(ctx, req.Token, req.Owner, req.Amount); err != nil {
			return res.fail(fmt.Errorf("token allowance: %w", err))
		}
	}
	tx, err := e.verifier.SubmitDeposit(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("submit deposit: %w", err))
	}
	res.TxHash = tx

	e.step(OpDeposit, stateConfirming)
	receipt, err := e.waitReceipt(ctx, tx)
	if err != nil {
		return res.fail(err)
	}
	if !receipt.Succeeded() {
		return res.fail(&SubmissionError{TxHash: tx})
	}
	res.BlockNumber = receipt.BlockNumber

	e.step(OpDeposit, stateFinalized)
	ids := createdIDs(receipt, nulls)
	e.insertRecord(&ledger.PrivateUTXO{
		ID:             ids[0],
		Owner:          req.Owner,
		Token:          req.Token,
		Value:          req.Amount,
		Commitment:     point,
		BlindingFactor: blinding,
		NullifierHash:  nulls[0],
		Confirmed:      true,
		CreatedTx:      tx,
		BlockNumber:    receipt.BlockNumber,
		Op:             ledger.OpDeposit,
		Scheme:         e.commit.Scheme().ID(),
	})

	res.Success = true
	res.CreatedIDs = ids
	res.Nullifiers = nulls
	res.Commitments = []types.Hash{cHash}
	return res, nil
}

// Split runs the full split orchestration.
func (e *Engine) Split(ctx context.Context, req SplitRequest) (res *OperationResult, err error) {
	res = &OperationResult{Operation: OpSplit}
	defer e.guard(res, &err)

	e.step(OpSplit, stateValidating)
	input, err := e.loadInput(req.Owner, req.InputID)
	if err != nil {
		return res.fail(err)
	}
	if err := validate.CheckSplit(input.Token, req.Owner, input.Value, req.Outputs); err != nil {
		return res.fail(err)
	}

	e.step(OpSplit, stateCommitting)
	drafts, err := e.buildOutputs(req.Outputs)
	if err != nil {
		return res.fail(err)
	}

	e.step(OpSplit, stateDerivingNullifiers)
	excluded := map[types.Hash]struct{}{input.NullifierHash: {}}
	nulls, err := e.nulls.DeriveOutputs(ctx, req.Owner, nullifierOutputs(drafts), input.Commitment, excluded)
	if err != nil {
		return res.fail(err)
	}
	if err := nullifier.CheckDisjoint(nulls, excluded); err != nil {
		return res.fail(err)
	}

	params := &SplitParams{
		Token:           input.Token,
		Owner:           req.Owner,
		SourceHash:      commitment.HashPoint(input.Commitment),
		SourceNullifier: input.NullifierHash,
		Outputs:         outputParams(drafts, nulls),
	}

	e.step(OpSplit, stateAttesting)
	params.Attestation, err = e.requestAttestation(ctx, OpSplit, SplitDataHash(params))
	if err != nil {
		return res.fail(err)
	}

	e.step(OpSplit, statePreValidating)
	ok, reason, err := e.verifier.PreValidateSplit(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("pre-validate split: %w", err))
	}
	if !ok {
		return res.fail(&PreValidationError{Reason: reason})
	}

	e.step(OpSplit, stateSubmitting)
	tx, err := e.verifier.SubmitSplit(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("submit split: %w", err))
	}
	res.TxHash = tx

	e.step(OpSplit, stateConfirming)
	receipt, err := e.waitReceipt(ctx, tx)
	if err != nil {
		return res.fail(err)
	}
	if !receipt.Succeeded() {
		return res.fail(&SubmissionError{TxHash: tx})
	}
	res.BlockNumber = receipt.BlockNumber

	e.step(OpSplit, stateFinalized)
	e.markSpent(input.ID)
	ids := createdIDs(receipt, nulls)
	for i, d := range drafts {
		e.insertRecord(&ledger.PrivateUTXO{
			ID:             ids[i],
			Owner:          req.Owner,
			Token:          input.Token,
			Value:          d.value,
			Commitment:     d.point,
			BlindingFactor: d.blinding,
			NullifierHash:  nulls[i],
			Confirmed:      true,
			CreatedTx:      tx,
			BlockNumber:    receipt.BlockNumber,
			Parent:         input.ID,
			Op:             ledger.OpSplit,
			Scheme:         e.commit.Scheme().ID(),
		})
	}

	res.Success = true
	res.CreatedIDs = ids
	res.SpentIDs = []types.Hash{input.ID}
	res.Nullifiers = nulls
	res.Commitments = draftHashes(drafts)
	return res, nil
}

// Transfer runs the full transfer orchestration. The recipient's new record
// is written to the shared store so the recipient's client can pick it up
// on reconcile.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (res *OperationResult, err error) {
	res = &OperationResult{Operation: OpTransfer}
	defer e.guard(res, &err)

	e.step(OpTransfer, stateValidating)
	input, err := e.loadInput(req.Owner, req.InputID)
	if err != nil {
		return res.fail(err)
	}
	values := []uint64{req.Amount}
	if input.Value > req.Amount {
		values = append(values, input.Value-req.Amount)
	}
	if err := validate.CheckTransfer(input.Token, req.Owner, req.Recipient, input.Value, values); err != nil {
		return res.fail(err)
	}

	e.step(OpTransfer, stateCommitting)
	drafts, err := e.buildOutputs(values)
	if err != nil {
		return res.fail(err)
	}

	// The recipient's nullifier is bound to the recipient address, the
	// change nullifier to the sender's. Both share one exclusion set so
	// the whole output set stays disjoint.
	e.step(OpTransfer, stateDerivingNullifiers)
	excluded := map[types.Hash]struct{}{input.NullifierHash: {}}
	recipientNulls, err := e.nulls.DeriveOutputs(ctx, req.Recipient, nullifierOutputs(drafts[:1]), input.Commitment, excluded)
	if err != nil {
		return res.fail(err)
	}
	nulls := recipientNulls
	if len(drafts) > 1 {
		excluded[recipientNulls[0]] = struct{}{}
		changeNulls, err := e.nulls.DeriveOutputs(ctx, req.Owner, nullifierOutputs(drafts[1:]), input.Commitment, excluded)
		if err != nil {
			return res.fail(err)
		}
		nulls = append(recipientNulls, changeNulls...)
		delete(excluded, recipientNulls[0])
	}
	if err := nullifier.CheckDisjoint(nulls, excluded); err != nil {
		return res.fail(err)
	}

	params := &TransferParams{
		Token:           input.Token,
		Sender:          req.Owner,
		Recipient:       req.Recipient,
		SourceHash:      commitment.HashPoint(input.Commitment),
		SourceNullifier: input.NullifierHash,
		Outputs:         outputParams(drafts, nulls),
	}

	e.step(OpTransfer, stateAttesting)
	params.Attestation, err = e.requestAttestation(ctx, OpTransfer, TransferDataHash(params))
	if err != nil {
		return res.fail(err)
	}

	e.step(OpTransfer, statePreValidating)
	ok, reason, err := e.verifier.PreValidateTransfer(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("pre-validate transfer: %w", err))
	}
	if !ok {
		return res.fail(&PreValidationError{Reason: reason})
	}

	e.step(OpTransfer, stateSubmitting)
	tx, err := e.verifier.SubmitTransfer(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("submit transfer: %w", err))
	}
	res.TxHash = tx

	e.step(OpTransfer, stateConfirming)
	receipt, err := e.waitReceipt(ctx, tx)
	if err != nil {
		return res.fail(err)
	}
	if !receipt.Succeeded() {
		return res.fail(&SubmissionError{TxHash: tx})
	}
	res.BlockNumber = receipt.BlockNumber

	e.step(OpTransfer, stateFinalized)
	e.markSpent(input.ID)
	ids := createdIDs(receipt, nulls)
	owners := []types.Address{req.Recipient, req.Owner}
	for i, d := range drafts {
		e.insertRecord(&ledger.PrivateUTXO{
			ID:             ids[i],
			Owner:          owners[i],
			Token:          input.Token,
			Value:          d.value,
			Commitment:     d.point,
			BlindingFactor: d.blinding,
			NullifierHash:  nulls[i],
			Confirmed:      true,
			CreatedTx:      tx,
			BlockNumber:    receipt.BlockNumber,
			Parent:         input.ID,
			Op:             ledger.OpTransfer,
			Scheme:         e.commit.Scheme().ID(),
		})
	}

	res.Success = true
	res.CreatedIDs = ids
	res.SpentIDs = []types.Hash{input.ID}
	res.Nullifiers = nulls
	res.Commitments = draftHashes(drafts)
	return res, nil
}

// Withdraw runs the full withdraw orchestration. No new records are
// created; the input is revealed and spent.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (res *OperationResult, err error) {
	res = &OperationResult{Operation: OpWithdraw}
	defer e.guard(res, &err)

	e.step(OpWithdraw, stateValidating)
	input, err := e.loadInput(req.Owner, req.InputID)
	if err != nil {
		return res.fail(err)
	}
	if err := validate.CheckWithdraw(input.Token, req.Owner, input.Value, req.Amount); err != nil {
		return res.fail(err)
	}

	params := &WithdrawParams{
		Token:          input.Token,
		Owner:          req.Owner,
		Amount:         req.Amount,
		CommitmentHash: commitment.HashPoint(input.Commitment),
		Nullifier:      input.NullifierHash,
	}

	e.step(OpWithdraw, stateAttesting)
	params.Attestation, err = e.requestAttestation(ctx, OpWithdraw, WithdrawDataHash(params))
	if err != nil {
		return res.fail(err)
	}

	e.step(OpWithdraw, statePreValidating)
	ok, reason, err := e.verifier.PreValidateWithdraw(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("pre-validate withdraw: %w", err))
	}
	if !ok {
		return res.fail(&PreValidationError{Reason: reason})
	}

	e.step(OpWithdraw, stateSubmitting)
	tx, err := e.verifier.SubmitWithdraw(ctx, params)
	if err != nil {
		return res.fail(fmt.Errorf("submit withdraw: %w", err))
	}
	res.TxHash = tx

	e.step(OpWithdraw, stateConfirming)
	receipt, err := e.waitReceipt(ctx, tx)
	if err != nil {
		return res.fail(err)
	}
	if !receipt.Succeeded() {
		return res.fail(&SubmissionError{TxHash: tx})
	}
	res.BlockNumber = receipt.BlockNumber

	e.step(OpWithdraw, stateFinalized)
	e.markSpent(input.ID)

	res.Success = true
	res.SpentIDs = []types.Hash{input.ID}
	res.Nullifiers = []types.Hash{input.NullifierHash}
	return res, nil
}

// loadInput fetches and sanity-checks a spendable input record. The
// commitment is recomputed from the stored value and blinding factor to
// catch local corruption before any gas is spent.
func (e *Engine) loadInput(owner types.Address, id types.Hash) (*ledger.PrivateUTXO, error) {
	rec, ok := e.ledger.Get(id)
	if !ok || rec.Owner != owner || rec.Spent {
		return nil, ErrUnknownInput
	}
	if !e.commit.Verify(rec.Commitment, rec.Value, rec.BlindingFactor) {
		return nil, fmt.Errorf("record %s: %w", id, ErrCorruptRecord)
	}
	return rec, nil
}

// buildOutputs draws a fresh blinding factor and builds the commitment for
// each planned output value.
func (e *Engine) buildOutputs(values []uint64) ([]outputDraft, error) {
	drafts := make([]outputDraft, 0, len(values))
	for _, v := range values {
		blinding, err := e.commit.NewBlinding()
		if err != nil {
			return nil, err
		}
		point, err := e.commit.Create(v, blinding)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, outputDraft{
			value:    v,
			blinding: blinding,
			point:    point,
			hash:     commitment.HashPoint(point),
		})
	}
	return drafts, nil
}

// requestAttestation fetches the attestation and runs the best-effort
// signer and nonce checks. Neither check is fatal: the verifier performs
// the authoritative versions on chain.
func (e *Engine) requestAttestation(ctx context.Context, op string, dataHash types.Hash) (*attest.Attestation, error) {
	att, err := e.signer.Attest(ctx, op, dataHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestation, err)
	}

	if backend, berr := e.verifier.AuthorizedBackend(ctx); berr != nil {
		e.log.Debug().Err(berr).Msg("authorized backend lookup failed, skipping signer check")
	} else if verr := attest.VerifySigner(att, backend); verr != nil {
		e.log.Warn().Err(verr).Str("op", op).Msg("attestation signer check failed")
	}

	if last, nerr := e.verifier.LastNonce(ctx); nerr == nil && att.Nonce != last+1 {
		e.log.Warn().
			Uint64("attestation_nonce", att.Nonce).
			Uint64("verifier_nonce", last).
			Msg("attestation nonce out of sequence, verifier may reject")
	}
	return att, nil
}

// waitReceipt polls for the mined receipt up to the configured budget.
func (e *Engine) waitReceipt(ctx context.Context, tx types.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()

	for attempt := 0; attempt < e.pollMax; attempt++ {
		receipt, err := e.verifier.TransactionReceipt(ctx, tx)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil {
			e.log.Debug().Err(err).Str("tx", tx.String()).Msg("receipt not available yet")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, tx)
}

// insertRecord writes a record to the ledger. A failure here is a local
// integrity problem, not an operation failure: the chain leg already
// succeeded, so it is logged and the caller reconciles later.
func (e *Engine) insertRecord(rec *ledger.PrivateUTXO) {
	if err := e.ledger.Insert(rec); err != nil {
		e.log.Warn().Err(err).Str("id", rec.ID.String()).Msg("ledger insert failed after confirmed operation")
	}
}

// markSpent flags the input spent, logging instead of failing for the same
// reason as insertRecord.
func (e *Engine) markSpent(id types.Hash) {
	if err := e.ledger.MarkSpent(id); err != nil {
		e.log.Warn().Err(err).Str("id", id.String()).Msg("ledger mark-spent failed after confirmed operation")
	}
}

// step logs a state transition.
func (e *Engine) step(op string, s opState) {
	e.log.Debug().Str("op", op).Str("state", string(s)).Msg("operation state")
}

// guard converts a panic in an entry point into a failed result. No
// orchestrator entry point lets a panic escape.
func (e *Engine) guard(res *OperationResult, errp *error) {
	if r := recover(); r != nil {
		e.log.Error().Interface("panic", r).Str("op", res.Operation).Msg("operation panicked")
		*errp = fmt.Errorf("internal failure: %v", r)
		res.Success = false
		res.ErrorCode = CodeInternal
		res.ErrorMessage = (*errp).Error()
	}
}

// createdIDs extracts the per-output record ids the contract emitted. If
// the logs cannot be parsed into exactly one id per output, the locally
// derived nullifiers serve as identifiers instead; a log format change
// must never fail an otherwise-successful operation.
func createdIDs(receipt *types.Receipt, nulls []types.Hash) []types.Hash {
	var ids []types.Hash
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 3 && lg.Topics[0] == topicUTXOCreated {
			ids = append(ids, lg.Topics[2])
		}
	}
	if len(ids) != len(nulls) {
		return nulls
	}
	return ids
}

// nullifierOutputs converts drafts into the nullifier engine's input shape.
func nullifierOutputs(drafts []outputDraft) []nullifier.Output {
	outs := make([]nullifier.Output, len(drafts))
	for i, d := range drafts {
		outs[i] = nullifier.Output{Value: d.value, Blinding: d.blinding, CommitmentHash: d.hash}
	}
	return outs
}

// outputParams pairs drafts with their derived nullifiers.
func outputParams(drafts []outputDraft, nulls []types.Hash) []OutputParams {
	outs := make([]OutputParams, len(drafts))
	for i, d := range drafts {
		outs[i] = OutputParams{Commitment: d.point, CommitmentHash: d.hash, Nullifier: nulls[i]}
	}
	return outs
}

// draftHashes collects the commitment hashes of a draft set.
func draftHashes(drafts []outputDraft) []types.Hash {
	hashes := make([]types.Hash, len(drafts))
	for i, d := range drafts {
		hashes[i] = d.hash
	}
	return hashes
}
