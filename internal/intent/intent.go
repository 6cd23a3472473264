package intent

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action 是一次语音指令的类别。
type Action string

const (
	ActionSwap           Action = "swap"
	ActionQuote          Action = "quote"
	ActionConfirm        Action = "confirm"
	ActionCancel         Action = "cancel"
	ActionStatus         Action = "status"
	ActionBalance        Action = "balance"
	ActionHelp           Action = "help"
	ActionEnableSession  Action = "enable_session"
	ActionDisableSession Action = "disable_session"
	ActionSessionStatus  Action = "session_status"
	ActionGasTankStatus  Action = "gas_tank_status"
	ActionGasTankRefill  Action = "gas_tank_refill"
	ActionUnknown        Action = "unknown"
)

// Known 判断 action 是否为已定义的类别。
func (a Action) Known() bool {
	switch a {
	case ActionSwap, ActionQuote, ActionConfirm, ActionCancel, ActionStatus, ActionBalance, ActionHelp,
		ActionEnableSession, ActionDisableSession, ActionSessionStatus, ActionGasTankStatus, ActionGasTankRefill,
		ActionUnknown:
		return true
	}
	return false
}

// ParsedBy 记录由哪个解析器给出的结果。
type ParsedBy string

const (
	ParsedByHeuristic ParsedBy = "heuristic"
	ParsedBySemantic  ParsedBy = "semantic"
	ParsedByNone      ParsedBy = "none"
)

// SessionOptions 是用户口述的会话额度。零值字段表示使用默认值。
type SessionOptions struct {
	PerTxUSD decimal.Decimal `json:"perTxUsd"`
	TotalUSD decimal.Decimal `json:"totalUsd"`
	Duration time.Duration   `json:"duration"`
}

// SwapIntent 是一次解析结果，创建后不再修改。
type SwapIntent struct {
	Action   Action          `json:"action"`
	TokenIn  string          `json:"tokenIn,omitempty"`
	TokenOut string          `json:"tokenOut,omitempty"`
	AmountIn string          `json:"amountIn,omitempty"`
	ParsedBy ParsedBy        `json:"parsedBy"`
	Session  *SessionOptions `json:"session,omitempty"`
	Raw      string          `json:"raw,omitempty"`
}

// Amount 返回 AmountIn 的十进制值。
func (i SwapIntent) Amount() (decimal.Decimal, bool) {
	raw := strings.TrimSpace(i.AmountIn)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// 字段名，用于 Validation.Missing。
const (
	FieldTokenIn  = "tokenIn"
	FieldTokenOut = "tokenOut"
	FieldAmountIn = "amountIn"
)

// Validation 描述兑换类指令缺少哪些字段。
type Validation struct {
	Valid   bool
	Missing []string
}

// Validate 检查 tokenIn、tokenOut、amountIn 是否齐全。
// 无法解析或不为正的数量视为缺失。
func Validate(i SwapIntent) Validation {
	var missing []string
	if strings.TrimSpace(i.TokenIn) == "" {
		missing = append(missing, FieldTokenIn)
	}
	if strings.TrimSpace(i.TokenOut) == "" {
		missing = append(missing, FieldTokenOut)
	}
	if amount, ok := i.Amount(); !ok || !amount.IsPositive() {
		missing = append(missing, FieldAmountIn)
	}
	return Validation{Valid: len(missing) == 0, Missing: missing}
}
