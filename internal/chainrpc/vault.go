package chainrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/veilvault/veilvault/internal/log"
	"github.com/veilvault/veilvault/internal/vault"
	"github.com/veilvault/veilvault/pkg/types"
)

// VaultClient implements vault.Verifier and vault.TokenApprover against a
// gateway node's vault_* and token_* methods.
type VaultClient struct {
	rpc *Client
	log zerolog.Logger
}

// NewVault creates a vault adapter on top of an RPC client.
func NewVault(rpc *Client) *VaultClient {
	return &VaultClient{rpc: rpc, log: log.Chain}
}

type nullifierParam struct {
	Nullifier string `json:"nullifier"`
}

type txHashParam struct {
	TxHash string `json:"tx_hash"`
}

type allowanceParam struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

type preValidateResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type submitResult struct {
	TxHash string `json:"tx_hash"`
}

// NullifierUsed queries the contract's used-nullifier predicate.
func (v *VaultClient) NullifierUsed(ctx context.Context, n types.Hash) (bool, error) {
	var used bool
	if err := v.rpc.Call(ctx, "vault_isNullifierUsed", nullifierParam{Nullifier: n.String()}, &used); err != nil {
		return false, fmt.Errorf("vault_isNullifierUsed: %w", err)
	}
	return used, nil
}

// LastNonce returns the verifier's current attestation nonce.
func (v *VaultClient) LastNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := v.rpc.Call(ctx, "vault_lastNonce", nil, &nonce); err != nil {
		return 0, fmt.Errorf("vault_lastNonce: %w", err)
	}
	return nonce, nil
}

// AuthorizedBackend returns the contract's configured attestation signer.
func (v *VaultClient) AuthorizedBackend(ctx context.Context) (types.Address, error) {
	var raw string
	if err := v.rpc.Call(ctx, "vault_authorizedBackend", nil, &raw); err != nil {
		return types.Address{}, fmt.Errorf("vault_authorizedBackend: %w", err)
	}
	addr, err := types.ParseAddress(raw)
	if err != nil {
		return types.Address{}, fmt.Errorf("vault_authorizedBackend: %w", err)
	}
	return addr, nil
}

// RegisteredTokens lists the tokens the vault accepts.
func (v *VaultClient) RegisteredTokens(ctx context.Context) ([]types.Address, error) {
	var raw []string
	if err := v.rpc.Call(ctx, "vault_getRegisteredTokens", nil, &raw); err != nil {
		return nil, fmt.Errorf("vault_getRegisteredTokens: %w", err)
	}
	tokens := make([]types.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("vault_getRegisteredTokens: %w", err)
		}
		tokens = append(tokens, addr)
	}
	return tokens, nil
}

func (v *VaultClient) preValidate(ctx context.Context, method string, params interface{}) (bool, string, error) {
	var res preValidateResult
	if err := v.rpc.Call(ctx, method, params, &res); err != nil {
		return false, "", fmt.Errorf("%s: %w", method, err)
	}
	return res.Valid, res.Reason, nil
}

// PreValidateDeposit asks the verifier to dry-run the deposit parameters.
func (v *VaultClient) PreValidateDeposit(ctx context.Context, p *vault.DepositParams) (bool, string, error) {
	return v.preValidate(ctx, "vault_validateDepositParams", p)
}

// PreValidateSplit asks the verifier to dry-run the split parameters.
func (v *VaultClient) PreValidateSplit(ctx context.Context, p *vault.SplitParams) (bool, string, error) {
	return v.preValidate(ctx, "vault_preValidateSplit", p)
}

// PreValidateTransfer asks the verifier to dry-run the transfer parameters.
func (v *VaultClient) PreValidateTransfer(ctx context.Context, p *vault.TransferParams) (bool, string, error) {
	return v.preValidate(ctx, "vault_preValidateTransfer", p)
}

// PreValidateWithdraw asks the verifier to dry-run the withdraw parameters.
func (v *VaultClient) PreValidateWithdraw(ctx context.Context, p *vault.WithdrawParams) (bool, string, error) {
	return v.preValidate(ctx, "vault_preValidateWithdraw", p)
}

func (v *VaultClient) submit(ctx context.Context, method string, params interface{}) (types.Hash, error) {
	var res submitResult
	if err := v.rpc.Call(ctx, method, params, &res); err != nil {
		return types.Hash{}, fmt.Errorf("%s: %w", method, err)
	}
	tx, err := types.ParseHash(res.TxHash)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%s: bad tx hash: %w", method, err)
	}
	v.log.Info().Str("method", method).Str("tx", tx.String()).Msg("transaction submitted")
	return tx, nil
}

// SubmitDeposit invokes the state-changing deposit entry point.
func (v *VaultClient) SubmitDeposit(ctx context.Context, p *vault.DepositParams) (types.Hash, error) {
	return v.submit(ctx, "vault_depositAsPrivateUTXO", p)
}

// SubmitSplit invokes the state-changing split entry point.
func (v *VaultClient) SubmitSplit(ctx context.Context, p *vault.SplitParams) (types.Hash, error) {
	return v.submit(ctx, "vault_splitPrivateUTXO", p)
}

// SubmitTransfer invokes the state-changing transfer entry point.
func (v *VaultClient) SubmitTransfer(ctx context.Context, p *vault.TransferParams) (types.Hash, error) {
	return v.submit(ctx, "vault_transferPrivateUTXO", p)
}

// SubmitWithdraw invokes the state-changing withdraw entry point.
func (v *VaultClient) SubmitWithdraw(ctx context.Context, p *vault.WithdrawParams) (types.Hash, error) {
	return v.submit(ctx, "vault_withdrawFromPrivateUTXO", p)
}

// TransactionReceipt fetches the mined receipt, or (nil, nil) while the
// transaction is still pending.
func (v *VaultClient) TransactionReceipt(ctx context.Context, tx types.Hash) (*types.Receipt, error) {
	var raw json.RawMessage
	if err := v.rpc.Call(ctx, "chain_getTransactionReceipt", txHashParam{TxHash: tx.String()}, &raw); err != nil {
		return nil, fmt.Errorf("chain_getTransactionReceipt: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var receipt types.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("chain_getTransactionReceipt: decode: %w", err)
	}
	return &receipt, nil
}

// EnsureAllowance asks the gateway to set the vault's token allowance for
// the owner, waiting until the approval is effective.
func (v *VaultClient) EnsureAllowance(ctx context.Context, token, owner types.Address, amount uint64) error {
	var ok bool
	err := v.rpc.Call(ctx, "token_ensureAllowance", allowanceParam{
		Token:  token.String(),
		Owner:  owner.String(),
		Amount: amount,
	}, &ok)
	if err != nil {
		return fmt.Errorf("token_ensureAllowance: %w", err)
	}
	if !ok {
		return fmt.Errorf("token_ensureAllowance: approval not granted")
	}
	return nil
}
