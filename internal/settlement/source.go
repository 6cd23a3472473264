package settlement

import (
	"context"

	"VoiceSwap/internal/swap"
	"VoiceSwap/internal/web3"
)

// StatusSource 查询一笔交易当前的结算状态。
type StatusSource interface {
	Status(ctx context.Context, txHash string) (swap.StatusResult, error)
}

// BackendSource 通过兑换后端的状态接口查询。
type BackendSource struct {
	client swap.Client
}

// NewBackendSource 包装兑换后端客户端。
func NewBackendSource(client swap.Client) *BackendSource {
	return &BackendSource{client: client}
}

// Status 实现 StatusSource。
func (s *BackendSource) Status(ctx context.Context, txHash string) (swap.StatusResult, error) {
	result, err := s.client.GetStatus(ctx, txHash)
	if err != nil {
		return swap.StatusResult{}, err
	}
	if result == nil {
		return swap.StatusResult{TxHash: txHash, Status: swap.TxPending}, nil
	}
	if result.TxHash == "" {
		result.TxHash = txHash
	}
	return *result, nil
}

// ChainSource 直接读取链上交易回执。
type ChainSource struct {
	client web3.Client
}

// NewChainSource 使用链客户端构造状态来源。
func NewChainSource(client web3.Client) *ChainSource {
	return &ChainSource{client: client}
}

// Status 实现 StatusSource。
func (s *ChainSource) Status(ctx context.Context, txHash string) (swap.StatusResult, error) {
	receipt, err := s.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return swap.StatusResult{}, err
	}
	result := swap.StatusResult{TxHash: txHash, Status: swap.TxPending, BlockNumber: receipt.BlockNumber}
	switch receipt.State {
	case web3.ReceiptConfirmed:
		result.Status = swap.TxConfirmed
	case web3.ReceiptFailed:
		result.Status = swap.TxFailed
	}
	return result, nil
}
