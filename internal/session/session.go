package session

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// KindSwap 是兑换操作在额度检查中的类别。
const KindSwap = "swap"

// Options 描述一次会话委托的额度和时长。零值字段使用默认值。
type Options struct {
	PerTxLimitUSD decimal.Decimal
	TotalLimitUSD decimal.Decimal
	Duration      time.Duration
}

// Session 是当前生效的会话委托。
type Session struct {
	ID            string
	Wallet        string
	SessionKey    string
	PerTxLimitUSD decimal.Decimal
	TotalLimitUSD decimal.Decimal
	SpentUSD      decimal.Decimal
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Remaining 描述会话剩余额度。
type Remaining struct {
	PerTx decimal.Decimal `json:"per_tx"`
	Total decimal.Decimal `json:"total"`
}

// Info 是会话状态的只读投影。
type Info struct {
	Active    bool          `json:"active"`
	ExpiresIn time.Duration `json:"expires_in,omitempty"`
	Remaining *Remaining    `json:"remaining,omitempty"`
}

// Decision 是额度检查的结果。Reason 仅在会话存在但拒绝时非空。
type Decision struct {
	Allowed bool
	Reason  string
}

// UserOperation 是交给后端的委托执行载荷。
type UserOperation struct {
	Sender       string          `json:"sender"`
	SessionKey   string          `json:"sessionKey"`
	CallData     string          `json:"callData"`
	CallDataHash string          `json:"callDataHash"`
	Nonce        uint64          `json:"nonce"`
	EstimatedUSD decimal.Decimal `json:"estimatedUsd"`
}

// SignedOperation 是签名结果。
type SignedOperation struct {
	Signature string
	UserOp    UserOperation
}

// Authorizer 持有可选的会话委托并判断金额能否免确认执行。
type Authorizer interface {
	Initialize(ctx context.Context, walletAddress string) error
	HasValidSession() bool
	Info() Info
	CreateSession(ctx context.Context, opts *Options) (*Session, error)
	// RevokeSession 返回是否真的撤销了一个会话。
	RevokeSession(ctx context.Context) (bool, error)
	CanExecute(estimatedUSD decimal.Decimal, kind string) Decision
	// SignUserOperation 签名并预占 estimatedUSD 的会话额度。
	SignUserOperation(ctx context.Context, calldata string, estimatedUSD decimal.Decimal) (*SignedOperation, error)
	// ReleaseSpend 归还执行未成功的签名所预占的额度。
	ReleaseSpend(op UserOperation)
}

// PresenceVerifier 在信任新会话前确认用户本人在场。
type PresenceVerifier interface {
	VerifyPresence(ctx context.Context) error
}
