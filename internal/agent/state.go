package agent

import (
	"time"

	"github.com/shopspring/decimal"

	"VoiceSwap/internal/intent"
	"VoiceSwap/internal/swap"
)

// State 是对话状态机的状态。
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateConfirming State = "confirming"
	StateExecuting  State = "executing"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// PendingSwap 是等待用户口头确认的兑换，同一时间至多一个。
type PendingSwap struct {
	Intent       intent.SwapIntent `json:"intent"`
	Quote        *swap.Quote       `json:"quote"`
	EstimatedUSD decimal.Decimal   `json:"estimatedUsd"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Snapshot 是对外暴露的只读状态。
type Snapshot struct {
	State      State              `json:"state"`
	Wallet     string             `json:"wallet,omitempty"`
	Pending    *PendingSwap       `json:"pending,omitempty"`
	LastIntent *intent.SwapIntent `json:"lastIntent,omitempty"`
	LastQuote  *swap.Quote        `json:"lastQuote,omitempty"`
	Tracking   []string           `json:"tracking,omitempty"`
}

// TurnResult 汇总一次转写的处理结果。
type TurnResult struct {
	Intent  intent.SwapIntent `json:"intent"`
	State   State             `json:"state"`
	Replies []string          `json:"replies"`
}
