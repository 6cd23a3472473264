package swap

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Amount 表示带符号的代币数量。
type Amount struct {
	Amount decimal.Decimal `json:"amount"`
	Symbol string          `json:"symbol"`
}

// Quote 是后端返回的报价，创建后不再修改。
type Quote struct {
	QuoteID     string          `json:"quoteId,omitempty"`
	TokenIn     Amount          `json:"tokenIn"`
	TokenOut    Amount          `json:"tokenOut"`
	PriceImpact decimal.Decimal `json:"priceImpact"`
	GasFeeUSD   decimal.Decimal `json:"gasFeeUsd"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// QuoteRequest 描述报价请求。
type QuoteRequest struct {
	TokenIn  string          `json:"tokenIn"`
	TokenOut string          `json:"tokenOut"`
	AmountIn decimal.Decimal `json:"amountIn"`
}

// RouteRequest 描述执行路径请求。
type RouteRequest struct {
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	AmountIn          decimal.Decimal `json:"amountIn"`
	Recipient         string          `json:"recipient"`
	SlippageTolerance float64         `json:"slippageTolerance"`
}

// Route 是后端给出的可签名调用数据。
type Route struct {
	Calldata string `json:"calldata"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
}

// ExecuteRequest 描述一次执行。SessionSignature 非空表示会话委托执行，
// 为空表示由钱包手动签名。
type ExecuteRequest struct {
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	AmountIn          decimal.Decimal `json:"amountIn"`
	Recipient         string          `json:"recipient"`
	SlippageTolerance float64         `json:"slippageTolerance"`
	SessionSignature  string          `json:"sessionSignature,omitempty"`
}

// Delegated 判断请求是否携带会话签名。
func (r ExecuteRequest) Delegated() bool {
	return r.SessionSignature != ""
}

// ExecutionStatus 表示一次执行尝试的结果。
type ExecutionStatus string

const (
	ExecutionSubmitted ExecutionStatus = "submitted"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionResult 每次执行尝试产生一个。
type ExecutionResult struct {
	Status ExecutionStatus `json:"status"`
	TxHash string          `json:"txHash,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TxStatus 表示链上交易的结算状态。
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Terminal 判断状态是否为终态。
func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// StatusResult 是状态查询的结果。
type StatusResult struct {
	Status      TxStatus `json:"status"`
	TxHash      string   `json:"txHash,omitempty"`
	BlockNumber uint64   `json:"blockNumber,omitempty"`
}

// Client 是远程报价/执行服务的能力集合。本层不做任何隐式重试。
type Client interface {
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)
	GetRoute(ctx context.Context, req RouteRequest) (*Route, error)
	ExecuteSwap(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error)
	// GetStatus 在 txHash 为空时查询后端已知的最近一笔交易。
	GetStatus(ctx context.Context, txHash string) (*StatusResult, error)
}
