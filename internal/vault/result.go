package vault

import "github.com/veilvault/veilvault/pkg/types"

// OperationResult is the normalized outcome of one orchestrated operation.
// Entry points always return a populated result; on failure ErrorCode and
// ErrorMessage describe the cause alongside the returned error.
type OperationResult struct {
	Success     bool         `json:"success"`
	Operation   string       `json:"operation"`
	TxHash      types.Hash   `json:"tx_hash,omitempty"`
	BlockNumber uint64       `json:"block_number,omitempty"`
	CreatedIDs  []types.Hash `json:"created_ids,omitempty"`
	SpentIDs    []types.Hash `json:"spent_ids,omitempty"`
	Nullifiers  []types.Hash `json:"nullifiers,omitempty"`
	Commitments []types.Hash `json:"commitments,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// fail fills the error fields and returns the result with the error.
func (r *OperationResult) fail(err error) (*OperationResult, error) {
	r.Success = false
	r.ErrorCode = errorCode(err)
	r.ErrorMessage = err.Error()
	return r, err
}
