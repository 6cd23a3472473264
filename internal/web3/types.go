package web3

import "context"

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name        string
	ChainID     string
	BlockNumber string
	Notes       string
}

// ReceiptState is the settlement outcome of a transaction as seen on chain.
type ReceiptState string

const (
	ReceiptPending   ReceiptState = "pending"
	ReceiptConfirmed ReceiptState = "confirmed"
	ReceiptFailed    ReceiptState = "failed"
)

// Receipt summarizes a transaction receipt. BlockNumber is zero while the
// transaction is still pending.
type Receipt struct {
	TxHash      string
	State       ReceiptState
	BlockNumber uint64
}

// Client defines the subset of chain access the swap flow relies on, so that
// settlement and deposit checks can work against any EVM network uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	TransactionReceipt(ctx context.Context, txHash string) (Receipt, error)
	Close()
}
