package store_test

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	accountID := uuid.New()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		w, err := tx.GetWallet(ctx, accountID, ledger.AssetUSDT)
		require.NoError(t, err)
		require.NoError(t, w.Credit(decimal.NewFromInt(100)))
		require.NoError(t, tx.PutWallet(ctx, w))
		require.NoError(t, tx.AppendOutbox(ctx, event.Envelope{EventType: "X"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	wallets, err := s.ListWallets(ctx, accountID)
	require.NoError(t, err)
	assert.Empty(t, wallets)

	pending, err := s.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryStore_WalletVersioning(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	accountID := uuid.New()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		w, err := tx.GetWallet(ctx, accountID, ledger.AssetUSDT)
		require.NoError(t, err)
		assert.Equal(t, int64(0), w.Version)
		require.NoError(t, w.Credit(decimal.NewFromInt(10)))
		require.NoError(t, tx.PutWallet(ctx, w))
		assert.Equal(t, int64(1), w.Version)

		// A second read in the same unit sees the staged row.
		again, err := tx.GetWallet(ctx, accountID, ledger.AssetUSDT)
		require.NoError(t, err)
		assert.True(t, again.Balance.Equal(decimal.NewFromInt(10)))

		stale := *again
		stale.Version = 0
		return tx.PutWallet(ctx, &stale)
	})
	require.ErrorIs(t, err, ledger.ErrConflict)
}

func TestMemoryStore_TransitionSettlementIsConditional(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	req := ledger.NewSettlementRequest(uuid.New(), ledger.SettlementDeposit, ledger.AssetUSDT, decimal.NewFromInt(5), time.Now())

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertSettlement(ctx, req)
	}))

	confirmed := req.Clone()
	require.NoError(t, confirmed.Confirm(time.Now()))
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.TransitionSettlement(ctx, confirmed, ledger.SettlementPending)
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.TransitionSettlement(ctx, confirmed, ledger.SettlementPending)
	})
	require.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	got, err := s.FindSettlement(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SettlementAwaitingReview, got.Status)

	_, err = s.FindSettlement(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemoryStore_OutboxSequencing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			return tx.AppendOutbox(ctx, event.Envelope{EventID: uuid.New(), EventType: "SettlementCreated"})
		}))
	}

	pending, err := s.FetchUnpublished(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].Sequence)
	assert.Equal(t, int64(2), pending[1].Sequence)

	require.NoError(t, s.MarkPublished(ctx, []int64{1, 2}))
	pending, err = s.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(3), pending[0].Sequence)
}

func TestMemoryStore_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkProcessed(ctx, "fill-1")
	}))
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkProcessed(ctx, "fill-1")
	})
	require.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	seen, err := s.IsProcessed(ctx, "fill-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSettlementFilter_Match(t *testing.T) {
	accountID := uuid.New()
	status := ledger.SettlementAwaitingReview
	r := &ledger.SettlementRequest{AccountID: accountID, Status: ledger.SettlementPending, Kind: ledger.SettlementDeposit}

	assert.True(t, store.SettlementFilter{}.Match(r))
	assert.True(t, store.SettlementFilter{AccountID: &accountID}.Match(r))
	assert.False(t, store.SettlementFilter{Status: &status}.Match(r))
}
