package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/intent"
	"VoiceSwap/internal/swap"
)

const (
	// CodeNotFound 表示指定交易哈希没有对应的历史记录。
	CodeNotFound xerrors.Code = "HISTORY_NOT_FOUND"
	// CodeAlreadyFinal 表示记录已处于终态，不能再次更新。
	CodeAlreadyFinal xerrors.Code = "HISTORY_ALREADY_FINAL"
)

func init() {
	xerrors.Register(CodeNotFound, xerrors.Attributes{Message: "history entry not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAlreadyFinal, xerrors.Attributes{Message: "history entry already settled", Severity: xerrors.SeverityInfo})
}

// Status 是一笔兑换在历史中的结算状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Final 判断状态是否为终态。
func (s Status) Final() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid 判断状态是否为已定义的取值。
func (s Status) Valid() bool {
	return s == StatusPending || s.Final()
}

// StatusFromTx 将后端返回的交易状态映射为历史状态。
func StatusFromTx(status swap.TxStatus) Status {
	switch status {
	case swap.TxConfirmed:
		return StatusConfirmed
	case swap.TxFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Entry 是一次已提交兑换的记录。
type Entry struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Intent       intent.SwapIntent `json:"intent"`
	Quote        *swap.Quote       `json:"quote,omitempty"`
	TxHash       string            `json:"txHash"`
	Status       Status            `json:"status"`
	Delegated    bool              `json:"delegated"`
	EstimatedUSD decimal.Decimal   `json:"estimatedUsd"`
}

// Store 持久化兑换历史。实现需保证并发安全。
type Store interface {
	// Add 追加一条记录，缺省的 ID、时间与状态由存储补齐。
	Add(ctx context.Context, entry Entry) (Entry, error)
	// UpdateStatus 按交易哈希更新状态。终态记录不可再改。
	UpdateStatus(ctx context.Context, txHash string, status Status) error
	// Latest 返回最近一条记录，没有记录时 ok 为 false。
	Latest(ctx context.Context) (Entry, bool, error)
	// List 按时间倒序返回至多 limit 条记录，limit<=0 表示全部。
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Prepare 为新记录补齐默认字段。
func Prepare(entry Entry, now time.Time) (Entry, error) {
	entry.TxHash = strings.TrimSpace(entry.TxHash)
	if entry.TxHash == "" {
		return Entry{}, xerrors.New(xerrors.CodeInvalidArgument, "history entry requires a transaction hash")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now.UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	if !entry.Status.Valid() {
		return Entry{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown history status %q", entry.Status)
	}
	return entry, nil
}

// CheckTransition 校验状态更新是否合法。
func CheckTransition(txHash string, current, next Status) error {
	if !next.Valid() {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "unknown history status %q", next)
	}
	if current.Final() {
		return xerrors.Newf(CodeAlreadyFinal, "transaction %s already %s", txHash, current)
	}
	return nil
}

// NotFound 构造记录不存在的错误。
func NotFound(txHash string) error {
	return xerrors.Newf(CodeNotFound, "no history entry for transaction %s", txHash)
}
