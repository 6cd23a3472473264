package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoiceSwap/internal/history"
	"VoiceSwap/internal/swap"
	"VoiceSwap/internal/web3"
)

// scriptedSource 按顺序返回预设状态，用尽后一直返回 pending。
type scriptedSource struct {
	mu     sync.Mutex
	script []swap.TxStatus
	errs   map[int]error
	calls  map[string]int
}

func newScriptedSource(script ...swap.TxStatus) *scriptedSource {
	return &scriptedSource{script: script, errs: map[int]error{}, calls: map[string]int{}}
}

func (s *scriptedSource) Status(_ context.Context, txHash string) (swap.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[txHash]++
	n := s.calls[txHash]
	if err, ok := s.errs[n]; ok {
		return swap.StatusResult{}, err
	}
	status := swap.TxPending
	if n <= len(s.script) {
		status = s.script[n-1]
	}
	return swap.StatusResult{TxHash: txHash, Status: status, BlockNumber: uint64(n)}, nil
}

func (s *scriptedSource) count(txHash string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[txHash]
}

func addPending(t *testing.T, store history.Store, hash string) {
	t.Helper()
	_, err := store.Add(context.Background(), history.Entry{TxHash: hash})
	require.NoError(t, err)
}

func entryStatus(t *testing.T, store history.Store, hash string) history.Status {
	t.Helper()
	list, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	for _, entry := range list {
		if entry.TxHash == hash {
			return entry.Status
		}
	}
	t.Fatalf("entry %s not found", hash)
	return ""
}

func TestPollerStopsOnFirstTerminalStatus(t *testing.T) {
	store := history.NewMemoryStore()
	addPending(t, store, "0xabc")
	source := newScriptedSource(swap.TxPending, swap.TxPending, swap.TxConfirmed)

	settled := make(chan Outcome, 1)
	poller := NewPoller(source, store,
		WithInterval(5*time.Millisecond),
		WithOnSettled(func(_ context.Context, o Outcome) { settled <- o }),
	)
	defer poller.Close()

	require.True(t, poller.Track("0xabc"))

	select {
	case outcome := <-settled:
		assert.Equal(t, swap.TxConfirmed, outcome.Status)
		assert.Equal(t, 3, outcome.Attempts)
		assert.Equal(t, uint64(3), outcome.BlockNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not settle")
	}

	require.Eventually(t, func() bool { return !poller.tracking("0xabc") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, history.StatusConfirmed, entryStatus(t, store, "0xabc"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, source.count("0xabc"), "no polls after a terminal status")
}

func TestPollerFailedStatusIsPersisted(t *testing.T) {
	store := history.NewMemoryStore()
	addPending(t, store, "0xdead")
	poller := NewPoller(newScriptedSource(swap.TxFailed), store, WithInterval(5*time.Millisecond))
	defer poller.Close()

	require.True(t, poller.Track("0xdead"))
	require.Eventually(t, func() bool {
		return entryStatus(t, store, "0xdead") == history.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPollerGivesUpAfterMaxAttempts(t *testing.T) {
	store := history.NewMemoryStore()
	addPending(t, store, "0xslow")
	source := newScriptedSource()

	var called atomic.Bool
	poller := NewPoller(source, store,
		WithInterval(2*time.Millisecond),
		WithMaxAttempts(MaxAttempts),
		WithOnSettled(func(context.Context, Outcome) { called.Store(true) }),
	)
	defer poller.Close()

	require.True(t, poller.Track("0xslow"))
	require.Eventually(t, func() bool { return !poller.tracking("0xslow") }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, MaxAttempts, source.count("0xslow"))
	assert.False(t, called.Load())
	assert.Equal(t, history.StatusPending, entryStatus(t, store, "0xslow"))
}

func TestPollerCountsErrorsAsAttempts(t *testing.T) {
	source := newScriptedSource(swap.TxPending, swap.TxPending, swap.TxConfirmed)
	source.errs[1] = errors.New("backend unavailable")

	settled := make(chan Outcome, 1)
	poller := NewPoller(source, nil,
		WithInterval(2*time.Millisecond),
		WithOnSettled(func(_ context.Context, o Outcome) { settled <- o }),
	)
	defer poller.Close()

	require.True(t, poller.Track("0xerr"))
	select {
	case outcome := <-settled:
		assert.Equal(t, 3, outcome.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not settle")
	}
}

func TestPollerSingleLoopPerHash(t *testing.T) {
	poller := NewPoller(newScriptedSource(), nil, WithInterval(time.Hour))
	defer poller.Close()

	assert.True(t, poller.Track("0x1"))
	assert.False(t, poller.Track("0x1"))
	assert.True(t, poller.Track("0x2"))
	assert.False(t, poller.Track(" "))
	assert.Equal(t, []string{"0x1", "0x2"}, poller.Active())
}

func TestPollerCancelAndClose(t *testing.T) {
	source := newScriptedSource()
	poller := NewPoller(source, nil, WithInterval(time.Hour))

	require.True(t, poller.Track("0x1"))
	require.True(t, poller.Track("0x2"))

	assert.True(t, poller.Cancel("0x1"))
	assert.False(t, poller.Cancel("0x1"))
	assert.False(t, poller.tracking("0x1"))

	poller.Close()
	assert.Empty(t, poller.Active())
	assert.False(t, poller.Track("0x3"), "closed poller accepts no new hashes")
	assert.Zero(t, source.count("0x2"))
}

func TestPollerReleasesOnEveryExit(t *testing.T) {
	var mu sync.Mutex
	var released []string
	record := WithOnReleased(func(txHash string) {
		mu.Lock()
		released = append(released, txHash)
		mu.Unlock()
	})
	releasedHashes := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), released...)
	}

	poller := NewPoller(newScriptedSource(swap.TxConfirmed), nil, WithInterval(2*time.Millisecond), WithMaxAttempts(3), record)
	require.True(t, poller.Track("0xdone"))
	require.Eventually(t, func() bool { return len(releasedHashes()) == 1 }, 2*time.Second, 2*time.Millisecond)
	poller.Close()

	exhausted := NewPoller(newScriptedSource(), nil, WithInterval(2*time.Millisecond), WithMaxAttempts(3), record)
	require.True(t, exhausted.Track("0xslow"))
	require.Eventually(t, func() bool { return len(releasedHashes()) == 2 }, 2*time.Second, 2*time.Millisecond)
	exhausted.Close()

	cancelled := NewPoller(newScriptedSource(), nil, WithInterval(time.Hour), record)
	require.True(t, cancelled.Track("0xcancel"))
	require.True(t, cancelled.Cancel("0xcancel"))
	require.Eventually(t, func() bool { return len(releasedHashes()) == 3 }, 2*time.Second, 2*time.Millisecond)

	require.True(t, cancelled.Track("0xclosed"))
	cancelled.Close()

	assert.Equal(t, []string{"0xdone", "0xslow", "0xcancel", "0xclosed"}, releasedHashes())
}

type fakeChain struct {
	receipt web3.Receipt
	err     error
}

func (f *fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{}, nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, txHash string) (web3.Receipt, error) {
	if f.err != nil {
		return web3.Receipt{}, f.err
	}
	r := f.receipt
	r.TxHash = txHash
	return r, nil
}

func (f *fakeChain) Close() {}

func TestChainSourceMapsReceipts(t *testing.T) {
	cases := map[web3.ReceiptState]swap.TxStatus{
		web3.ReceiptPending:   swap.TxPending,
		web3.ReceiptConfirmed: swap.TxConfirmed,
		web3.ReceiptFailed:    swap.TxFailed,
	}
	for state, want := range cases {
		source := NewChainSource(&fakeChain{receipt: web3.Receipt{State: state, BlockNumber: 9}})
		got, err := source.Status(context.Background(), "0xabc")
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
		assert.Equal(t, uint64(9), got.BlockNumber)
	}

	_, err := NewChainSource(&fakeChain{err: errors.New("rpc down")}).Status(context.Background(), "0xabc")
	assert.Error(t, err)
}

type stubSwapClient struct {
	swap.Client
	result *swap.StatusResult
}

func (s stubSwapClient) GetStatus(context.Context, string) (*swap.StatusResult, error) {
	return s.result, nil
}

func TestBackendSourceFillsHash(t *testing.T) {
	source := NewBackendSource(stubSwapClient{result: &swap.StatusResult{Status: swap.TxConfirmed}})
	got, err := source.Status(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.Equal(t, swap.TxConfirmed, got.Status)

	got, err = NewBackendSource(stubSwapClient{}).Status(context.Background(), "0xdef")
	require.NoError(t, err)
	assert.Equal(t, swap.TxPending, got.Status)
}
