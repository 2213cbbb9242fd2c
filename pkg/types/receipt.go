package types

// Receipt status values, matching the vault chain's convention.
const (
	ReceiptFailed  uint64 = 0
	ReceiptSuccess uint64 = 1
)

// Log is one event log emitted by a mined transaction.
type Log struct {
	Topics []Hash `json:"topics"`
	Data   []byte `json:"data,omitempty"`
}

// Receipt is the mined outcome of a submitted transaction.
type Receipt struct {
	TxHash      Hash   `json:"tx_hash"`
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"block_number"`
	Logs        []Log  `json:"logs,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptSuccess
}
