package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/pkg/logger"
)

const (
	CodeWalletMissing  xerrors.Code = "SESSION_WALLET_MISSING"
	CodePresenceFailed xerrors.Code = "SESSION_PRESENCE_FAILED"
	CodeExpired        xerrors.Code = "SESSION_EXPIRED"
	CodeLimitExceeded  xerrors.Code = "SESSION_LIMIT_EXCEEDED"
)

func init() {
	xerrors.Register(CodeWalletMissing, xerrors.Attributes{Message: "no wallet connected", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodePresenceFailed, xerrors.Attributes{Message: "presence check failed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeExpired, xerrors.Attributes{Message: "session expired", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeLimitExceeded, xerrors.Attributes{Message: "session spend limit exceeded", Severity: xerrors.SeverityWarning})
}

// KeyAuthorizer 为每个会话生成一次性 secp256k1 会话密钥，并用它对委托执行签名。
// 钱包私钥从不经过这里。
type KeyAuthorizer struct {
	mu        sync.Mutex
	wallet    common.Address
	connected bool
	defaults  Options
	presence  PresenceVerifier
	now       func() time.Time
	audit     *slog.Logger

	current *Session
	key     *ecdsa.PrivateKey
	nonce   uint64
}

// Option 定义 KeyAuthorizer 的可选配置。
type Option func(*KeyAuthorizer)

// WithPresenceVerifier 设置创建会话前的在场校验。
func WithPresenceVerifier(v PresenceVerifier) Option {
	return func(a *KeyAuthorizer) {
		a.presence = v
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *KeyAuthorizer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewKeyAuthorizer 创建授权器，defaults 为未显式指定时的会话额度。
func NewKeyAuthorizer(defaults Options, opts ...Option) *KeyAuthorizer {
	if defaults.Duration <= 0 {
		defaults.Duration = 24 * time.Hour
	}
	if !defaults.PerTxLimitUSD.IsPositive() {
		defaults.PerTxLimitUSD = decimal.NewFromInt(100)
	}
	if !defaults.TotalLimitUSD.IsPositive() {
		defaults.TotalLimitUSD = decimal.NewFromInt(500)
	}
	a := &KeyAuthorizer{
		defaults: defaults,
		now:      time.Now,
		audit:    logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Defaults 返回默认会话额度。
func (a *KeyAuthorizer) Defaults() Options {
	return a.defaults
}

// Initialize 绑定当前钱包地址。地址变化时已有会话失效。
func (a *KeyAuthorizer) Initialize(_ context.Context, walletAddress string) error {
	walletAddress = strings.TrimSpace(walletAddress)
	if !common.IsHexAddress(walletAddress) {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "invalid wallet address %q", walletAddress)
	}
	addr := common.HexToAddress(walletAddress)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected && a.wallet != addr {
		a.clearLocked()
	}
	a.wallet = addr
	a.connected = true
	return nil
}

// HasValidSession 判断是否存在未过期的会话。
func (a *KeyAuthorizer) HasValidSession() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validLocked()
}

func (a *KeyAuthorizer) validLocked() bool {
	return a.current != nil && a.now().Before(a.current.ExpiresAt)
}

// Info 返回会话投影。
func (a *KeyAuthorizer) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.validLocked() {
		return Info{Active: false}
	}
	return Info{
		Active:    true,
		ExpiresIn: a.current.ExpiresAt.Sub(a.now()),
		Remaining: &Remaining{
			PerTx: a.current.PerTxLimitUSD,
			Total: a.remainingLocked(),
		},
	}
}

func (a *KeyAuthorizer) remainingLocked() decimal.Decimal {
	remaining := a.current.TotalLimitUSD.Sub(a.current.SpentUSD)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// CreateSession 生成新的会话密钥。需要已连接钱包，并等待在场校验通过。
func (a *KeyAuthorizer) CreateSession(ctx context.Context, opts *Options) (*Session, error) {
	a.mu.Lock()
	connected := a.connected
	wallet := a.wallet
	a.mu.Unlock()
	if !connected {
		return nil, xerrors.New(CodeWalletMissing, "connect a wallet before enabling a session")
	}

	resolved := a.defaults
	if opts != nil {
		if opts.PerTxLimitUSD.IsPositive() {
			resolved.PerTxLimitUSD = opts.PerTxLimitUSD
		}
		if opts.TotalLimitUSD.IsPositive() {
			resolved.TotalLimitUSD = opts.TotalLimitUSD
		}
		if opts.Duration > 0 {
			resolved.Duration = opts.Duration
		}
	}
	if resolved.PerTxLimitUSD.GreaterThan(resolved.TotalLimitUSD) {
		resolved.PerTxLimitUSD = resolved.TotalLimitUSD
	}

	if a.presence != nil {
		if err := a.presence.VerifyPresence(ctx); err != nil {
			return nil, xerrors.Wrap(CodePresenceFailed, err, "")
		}
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	now := a.now()
	created := &Session{
		ID:            uuid.NewString(),
		Wallet:        wallet.Hex(),
		SessionKey:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PerTxLimitUSD: resolved.PerTxLimitUSD,
		TotalLimitUSD: resolved.TotalLimitUSD,
		SpentUSD:      decimal.Zero,
		CreatedAt:     now,
		ExpiresAt:     now.Add(resolved.Duration),
	}

	a.mu.Lock()
	a.current = created
	a.key = key
	a.nonce = 0
	a.mu.Unlock()

	a.audit.Info("session created",
		slog.String("session_id", created.ID),
		slog.String("wallet", created.Wallet),
		slog.String("session_key", created.SessionKey),
		slog.String("per_tx_usd", created.PerTxLimitUSD.String()),
		slog.String("total_usd", created.TotalLimitUSD.String()),
		slog.Time("expires_at", created.ExpiresAt),
	)
	copied := *created
	return &copied, nil
}

// RevokeSession 撤销当前会话。没有会话时返回 false。
func (a *KeyAuthorizer) RevokeSession(_ context.Context) (bool, error) {
	a.mu.Lock()
	existing := a.current
	a.clearLocked()
	a.mu.Unlock()

	if existing == nil {
		return false, nil
	}
	a.audit.Info("session revoked",
		slog.String("session_id", existing.ID),
		slog.String("spent_usd", existing.SpentUSD.String()),
	)
	return true, nil
}

func (a *KeyAuthorizer) clearLocked() {
	a.current = nil
	a.key = nil
	a.nonce = 0
}

// CanExecute 检查金额是否在会话额度内。
func (a *KeyAuthorizer) CanExecute(estimatedUSD decimal.Decimal, kind string) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.decideLocked(estimatedUSD, kind)
}

func (a *KeyAuthorizer) decideLocked(estimatedUSD decimal.Decimal, kind string) Decision {
	if a.current == nil {
		return Decision{Allowed: false}
	}
	if !a.validLocked() {
		return Decision{Allowed: false, Reason: "your session has expired"}
	}
	if kind != KindSwap {
		return Decision{Allowed: false, Reason: fmt.Sprintf("the session does not cover %s operations", kind)}
	}
	if estimatedUSD.GreaterThan(a.current.PerTxLimitUSD) {
		return Decision{Allowed: false, Reason: fmt.Sprintf(
			"about %s dollars is over your per-swap session limit of %s dollars",
			estimatedUSD.StringFixed(2), a.current.PerTxLimitUSD.StringFixed(2))}
	}
	if remaining := a.remainingLocked(); estimatedUSD.GreaterThan(remaining) {
		return Decision{Allowed: false, Reason: fmt.Sprintf(
			"about %s dollars is more than the %s dollars left in your session",
			estimatedUSD.StringFixed(2), remaining.StringFixed(2))}
	}
	return Decision{Allowed: true}
}

// SignUserOperation 用会话密钥对调用数据签名并预占额度。执行失败时调用方需 ReleaseSpend。
func (a *KeyAuthorizer) SignUserOperation(_ context.Context, calldata string, estimatedUSD decimal.Decimal) (*SignedOperation, error) {
	data, err := hexutil.Decode(strings.TrimSpace(calldata))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "calldata is not valid hex")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil, xerrors.New(CodeExpired, "no active session")
	}
	decision := a.decideLocked(estimatedUSD, KindSwap)
	if !decision.Allowed {
		if !a.validLocked() {
			return nil, xerrors.New(CodeExpired, "")
		}
		return nil, xerrors.New(CodeLimitExceeded, decision.Reason)
	}

	callHash := crypto.Keccak256Hash(data)
	digest := userOpDigest(a.wallet, callHash, a.nonce)
	signature, err := crypto.Sign(digest.Bytes(), a.key)
	if err != nil {
		return nil, fmt.Errorf("sign user operation: %w", err)
	}

	op := UserOperation{
		Sender:       a.wallet.Hex(),
		SessionKey:   a.current.SessionKey,
		CallData:     hexutil.Encode(data),
		CallDataHash: callHash.Hex(),
		Nonce:        a.nonce,
		EstimatedUSD: estimatedUSD,
	}
	a.nonce++
	a.current.SpentUSD = a.current.SpentUSD.Add(estimatedUSD)

	return &SignedOperation{Signature: hexutil.Encode(signature), UserOp: op}, nil
}

// ReleaseSpend 归还 op 预占的额度。会话已撤销或已被替换时忽略。
func (a *KeyAuthorizer) ReleaseSpend(op UserOperation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.SessionKey != op.SessionKey {
		return
	}
	spent := a.current.SpentUSD.Sub(op.EstimatedUSD)
	if spent.IsNegative() {
		spent = decimal.Zero
	}
	a.current.SpentUSD = spent
}

func userOpDigest(sender common.Address, callHash common.Hash, nonce uint64) common.Hash {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return crypto.Keccak256Hash(sender.Bytes(), callHash.Bytes(), nonceBytes[:])
}

// recoverSigner 从签名中恢复会话密钥地址。
func recoverSigner(op UserOperation, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	digest := userOpDigest(common.HexToAddress(op.Sender), common.HexToHash(op.CallDataHash), op.Nonce)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

var _ Authorizer = (*KeyAuthorizer)(nil)
