package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/intent"
	"VoiceSwap/internal/swap"
)

func sampleEntry(hash string) Entry {
	return Entry{
		Intent: intent.SwapIntent{Action: intent.ActionSwap, TokenIn: "USDC", TokenOut: "ETH", AmountIn: "100"},
		Quote: &swap.Quote{
			QuoteID:  "q-1",
			TokenIn:  swap.Amount{Amount: decimal.NewFromInt(100), Symbol: "USDC"},
			TokenOut: swap.Amount{Amount: decimal.RequireFromString("0.031"), Symbol: "ETH"},
		},
		TxHash:       hash,
		EstimatedUSD: decimal.NewFromInt(100),
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	file, err := NewFileStore(filepath.Join(t.TempDir(), "history.log"))
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   file,
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			first, err := store.Add(ctx, sampleEntry("0xaaa"))
			require.NoError(t, err)
			assert.NotEmpty(t, first.ID)
			assert.False(t, first.Timestamp.IsZero())
			assert.Equal(t, StatusPending, first.Status)

			_, err = store.Add(ctx, sampleEntry("0xbbb"))
			require.NoError(t, err)

			latest, ok, err := store.Latest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "0xbbb", latest.TxHash)

			require.NoError(t, store.UpdateStatus(ctx, "0xaaa", StatusConfirmed))
			list, err := store.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "0xbbb", list[0].TxHash)
			assert.Equal(t, StatusConfirmed, list[1].Status)

			err = store.UpdateStatus(ctx, "0xaaa", StatusFailed)
			assert.Equal(t, CodeAlreadyFinal, xerrors.CodeOf(err))

			err = store.UpdateStatus(ctx, "0xccc", StatusConfirmed)
			assert.Equal(t, CodeNotFound, xerrors.CodeOf(err))

			limited, err := store.List(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			require.NoError(t, store.Close())
		})
	}
}

func TestAddRequiresHash(t *testing.T) {
	_, err := NewMemoryStore().Add(context.Background(), Entry{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestFileStoreRestoresFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.log")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Add(ctx, sampleEntry("0x01"))
	require.NoError(t, err)
	_, err = store.Add(ctx, Entry{TxHash: "0x02", Delegated: true, Timestamp: time.Unix(1700000000, 0).UTC()})
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, "0x01", StatusFailed))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	list, err := reopened.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "0x02", list[0].TxHash)
	assert.True(t, list[0].Delegated)
	assert.Equal(t, StatusFailed, list[1].Status)
	require.NotNil(t, list[1].Quote)
	assert.Equal(t, "q-1", list[1].Quote.QuoteID)
	assert.True(t, list[1].EstimatedUSD.Equal(decimal.NewFromInt(100)))
}

func TestStatusFromTx(t *testing.T) {
	assert.Equal(t, StatusConfirmed, StatusFromTx(swap.TxConfirmed))
	assert.Equal(t, StatusFailed, StatusFromTx(swap.TxFailed))
	assert.Equal(t, StatusPending, StatusFromTx(swap.TxPending))
	assert.Equal(t, StatusPending, StatusFromTx("weird"))
}
