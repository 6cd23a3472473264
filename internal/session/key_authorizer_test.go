package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "VoiceSwap/internal/errors"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type presenceFunc func(ctx context.Context) error

func (f presenceFunc) VerifyPresence(ctx context.Context) error { return f(ctx) }

func usd(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newAuthorizer(t *testing.T, opts ...Option) (*KeyAuthorizer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	a := NewKeyAuthorizer(Options{PerTxLimitUSD: usd("100"), TotalLimitUSD: usd("500"), Duration: time.Hour}, opts...)
	require.NoError(t, a.Initialize(context.Background(), testWallet))
	return a, clock
}

func TestCreateSessionRequiresWallet(t *testing.T) {
	a := NewKeyAuthorizer(Options{})
	_, err := a.CreateSession(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, CodeWalletMissing, xerrors.CodeOf(err))
	assert.False(t, a.HasValidSession())
}

func TestInitializeRejectsBadAddress(t *testing.T) {
	a := NewKeyAuthorizer(Options{})
	err := a.Initialize(context.Background(), "not-an-address")
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestCreateSessionWithDefaults(t *testing.T) {
	a, _ := newAuthorizer(t)

	created, err := a.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, created.PerTxLimitUSD.Equal(usd("100")))
	assert.True(t, created.TotalLimitUSD.Equal(usd("500")))
	assert.True(t, common.IsHexAddress(created.SessionKey))

	info := a.Info()
	require.True(t, info.Active)
	assert.Equal(t, time.Hour, info.ExpiresIn)
	require.NotNil(t, info.Remaining)
	assert.True(t, info.Remaining.Total.Equal(usd("500")))
}

func TestCreateSessionAwaitsPresence(t *testing.T) {
	denied := errors.New("wrong passphrase")
	a, _ := newAuthorizer(t, WithPresenceVerifier(presenceFunc(func(context.Context) error { return denied })))

	_, err := a.CreateSession(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, CodePresenceFailed, xerrors.CodeOf(err))
	assert.ErrorIs(t, err, denied)
	assert.False(t, a.HasValidSession())
}

func TestCanExecuteLimits(t *testing.T) {
	a, clock := newAuthorizer(t)

	decision := a.CanExecute(usd("10"), KindSwap)
	assert.False(t, decision.Allowed)
	assert.Empty(t, decision.Reason, "no session means no refusal reason")

	_, err := a.CreateSession(context.Background(), &Options{PerTxLimitUSD: usd("50"), TotalLimitUSD: usd("80")})
	require.NoError(t, err)

	assert.True(t, a.CanExecute(usd("50"), KindSwap).Allowed)

	decision = a.CanExecute(usd("50.01"), KindSwap)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "per-swap")

	_, err = a.SignUserOperation(context.Background(), "0xdeadbeef", usd("50"))
	require.NoError(t, err)

	decision = a.CanExecute(usd("40"), KindSwap)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "30.00 dollars left")

	clock.Advance(25 * time.Hour)
	decision = a.CanExecute(usd("1"), KindSwap)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "expired")
	assert.False(t, a.Info().Active)
}

func TestSignUserOperationRecoversSessionKey(t *testing.T) {
	a, _ := newAuthorizer(t)
	created, err := a.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	signed, err := a.SignUserOperation(context.Background(), "0x1234", usd("20"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testWallet).Hex(), signed.UserOp.Sender)
	assert.EqualValues(t, 0, signed.UserOp.Nonce)

	signer, err := recoverSigner(signed.UserOp, signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, created.SessionKey, signer.Hex())

	second, err := a.SignUserOperation(context.Background(), "0x1234", usd("20"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, second.UserOp.Nonce)
	assert.NotEqual(t, signed.Signature, second.Signature)

	assert.True(t, a.Info().Remaining.Total.Equal(usd("460")))
}

func TestReleaseSpendRestoresRemaining(t *testing.T) {
	a, _ := newAuthorizer(t)
	_, err := a.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	signed, err := a.SignUserOperation(context.Background(), "0x1234", usd("80"))
	require.NoError(t, err)
	assert.True(t, a.Info().Remaining.Total.Equal(usd("420")))

	a.ReleaseSpend(signed.UserOp)
	assert.True(t, a.Info().Remaining.Total.Equal(usd("500")))

	// 重复归还不会让额度超过上限。
	a.ReleaseSpend(signed.UserOp)
	assert.True(t, a.Info().Remaining.Total.Equal(usd("500")))

	// 新会话不受旧签名影响。
	stale, err := a.SignUserOperation(context.Background(), "0x1234", usd("30"))
	require.NoError(t, err)
	_, err = a.RevokeSession(context.Background())
	require.NoError(t, err)
	_, err = a.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	_, err = a.SignUserOperation(context.Background(), "0x1234", usd("10"))
	require.NoError(t, err)
	a.ReleaseSpend(stale.UserOp)
	assert.True(t, a.Info().Remaining.Total.Equal(usd("490")))
}

func TestSignUserOperationRejectsOverLimit(t *testing.T) {
	a, _ := newAuthorizer(t)
	_, err := a.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	_, err = a.SignUserOperation(context.Background(), "0x00", usd("101"))
	assert.Equal(t, CodeLimitExceeded, xerrors.CodeOf(err))

	_, err = a.SignUserOperation(context.Background(), "zz", usd("1"))
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestRevokeSession(t *testing.T) {
	a, _ := newAuthorizer(t)

	revoked, err := a.RevokeSession(context.Background())
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = a.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	revoked, err = a.RevokeSession(context.Background())
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.False(t, a.HasValidSession())
}

func TestWalletChangeDropsSession(t *testing.T) {
	a, _ := newAuthorizer(t)
	_, err := a.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, a.Initialize(context.Background(), "0x00000000000000000000000000000000000000bb"))
	assert.False(t, a.HasValidSession())
}

func TestCacheRefresh(t *testing.T) {
	a, _ := newAuthorizer(t)
	cache := NewCache(a)
	assert.False(t, cache.Get().Active)

	_, err := a.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, cache.Get().Active, "cache only changes on refresh")

	cache.Refresh()
	assert.True(t, cache.Get().Active)
	assert.False(t, cache.RefreshedAt().IsZero())
}

func TestCacheRunStopsWithContext(t *testing.T) {
	a, _ := newAuthorizer(t)
	cache := NewCache(a)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	_, err := a.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cache.Get().Active }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cache refresher did not stop")
	}
}
