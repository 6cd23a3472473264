package gastank

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/pkg/logger"
)

// State 是预付余额的快照。
type State struct {
	Balance        decimal.Decimal `json:"balance"`
	SwapsRemaining int             `json:"swaps_remaining"`
	IsLow          bool            `json:"is_low"`
}

// DepositInfo 描述充值目标。
type DepositInfo struct {
	Address    string          `json:"address"`
	ChainID    int64           `json:"chain_id"`
	Network    string          `json:"network"`
	Asset      string          `json:"asset"`
	MinimumUSD decimal.Decimal `json:"minimum_usd"`
}

// Config 描述计费方式。
type Config struct {
	CostPerSwap       decimal.Decimal
	LowThresholdSwaps int
	Deposit           DepositInfo
}

// Tracker 负责余额查询、消费与充值，并生成播报文本。
type Tracker struct {
	store     Store
	cost      decimal.Decimal
	threshold int
	deposit   DepositInfo
	audit     *slog.Logger
}

// NewTracker 创建余额跟踪器。
func NewTracker(store Store, cfg Config) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("gas tank store is required")
	}
	if !cfg.CostPerSwap.IsPositive() {
		return nil, fmt.Errorf("cost per swap must be positive, got %s", cfg.CostPerSwap)
	}
	if cfg.LowThresholdSwaps <= 0 {
		cfg.LowThresholdSwaps = 5
	}
	if addr := strings.TrimSpace(cfg.Deposit.Address); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid deposit address %q", addr)
		}
		cfg.Deposit.Address = common.HexToAddress(addr).Hex()
	}
	return &Tracker{
		store:     store,
		cost:      cfg.CostPerSwap,
		threshold: cfg.LowThresholdSwaps,
		deposit:   cfg.Deposit,
		audit:     logger.Audit(),
	}, nil
}

// State 返回当前余额快照。
func (t *Tracker) State(ctx context.Context) (State, error) {
	balance, err := t.store.Balance(ctx)
	if err != nil {
		return State{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read gas tank balance")
	}
	return t.stateFor(balance), nil
}

func (t *Tracker) stateFor(balance decimal.Decimal) State {
	swaps := int(balance.Div(t.cost).Floor().IntPart())
	return State{
		Balance:        balance,
		SwapsRemaining: swaps,
		IsLow:          swaps < t.threshold,
	}
}

// SwapsRemaining 返回余额还能支付的兑换次数。
func (t *Tracker) SwapsRemaining(ctx context.Context) (int, error) {
	state, err := t.State(ctx)
	if err != nil {
		return 0, err
	}
	return state.SwapsRemaining, nil
}

// IsBalanceLow 判断余额是否低于提醒阈值。
func (t *Tracker) IsBalanceLow(ctx context.Context) (bool, error) {
	state, err := t.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsLow, nil
}

// RecordSwap 记录一次成功提交的兑换所消耗的执行费用。
func (t *Tracker) RecordSwap(ctx context.Context, txHash string) (State, error) {
	balance, err := t.store.Debit(ctx, t.cost)
	if err != nil {
		return State{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "debit gas tank")
	}
	state := t.stateFor(balance)
	t.audit.Info("gas tank debited",
		slog.String("tx_hash", txHash),
		slog.String("amount_usd", t.cost.String()),
		slog.String("balance_usd", balance.String()),
	)
	return state, nil
}

// Credit 记录一笔充值。
func (t *Tracker) Credit(ctx context.Context, amount decimal.Decimal, reference string) (State, error) {
	if !amount.IsPositive() {
		return State{}, xerrors.Newf(xerrors.CodeInvalidArgument, "deposit amount must be positive, got %s", amount)
	}
	if t.deposit.MinimumUSD.IsPositive() && amount.LessThan(t.deposit.MinimumUSD) {
		return State{}, xerrors.Newf(xerrors.CodeInvalidArgument, "minimum deposit is %s dollars", t.deposit.MinimumUSD)
	}
	balance, err := t.store.Credit(ctx, amount)
	if err != nil {
		return State{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "credit gas tank")
	}
	t.audit.Info("gas tank credited",
		slog.String("reference", reference),
		slog.String("amount_usd", amount.String()),
		slog.String("balance_usd", balance.String()),
	)
	return t.stateFor(balance), nil
}

// DepositInfo 返回充值目标。
func (t *Tracker) DepositInfo() DepositInfo {
	return t.deposit
}

// FormatBalanceForSpeech 生成余额播报文本。
func (t *Tracker) FormatBalanceForSpeech(ctx context.Context) (string, error) {
	state, err := t.State(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case state.SwapsRemaining == 0:
		return fmt.Sprintf("Your gas tank has %s dollars, which is not enough for another swap.", state.Balance.StringFixed(2)), nil
	case state.SwapsRemaining == 1:
		return fmt.Sprintf("Your gas tank has %s dollars, enough for one more swap.", state.Balance.StringFixed(2)), nil
	case state.IsLow:
		return fmt.Sprintf("Your gas tank is running low: %s dollars, about %d swaps left.", state.Balance.StringFixed(2), state.SwapsRemaining), nil
	default:
		return fmt.Sprintf("Your gas tank has %s dollars, enough for about %d swaps.", state.Balance.StringFixed(2), state.SwapsRemaining), nil
	}
}

// FormatDepositInstructionsForSpeech 生成充值说明。
func (t *Tracker) FormatDepositInstructionsForSpeech() string {
	if t.deposit.Address == "" {
		return "Gas tank deposits are not configured yet. Check the companion app to refill."
	}
	asset := t.deposit.Asset
	if asset == "" {
		asset = "USDC"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "To refill your gas tank, send %s", asset)
	if t.deposit.Network != "" {
		fmt.Fprintf(&b, " on %s", t.deposit.Network)
	}
	fmt.Fprintf(&b, " to the deposit address ending in %s", addressSuffix(t.deposit.Address))
	if t.deposit.MinimumUSD.IsPositive() {
		fmt.Fprintf(&b, ". The minimum deposit is %s dollars", t.deposit.MinimumUSD.StringFixed(2))
	}
	b.WriteString(". The full address is shown in the app.")
	return b.String()
}

func addressSuffix(addr string) string {
	addr = strings.TrimPrefix(strings.ToLower(addr), "0x")
	if len(addr) <= 4 {
		return addr
	}
	return strings.Join(strings.Split(addr[len(addr)-4:], ""), " ")
}
