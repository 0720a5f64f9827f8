package persistence_test

import (
	"CustodyLedger/internal/core"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/persistence"
	"CustodyLedger/internal/store"
	"CustodyLedger/internal/testutil"
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgres(t *testing.T) *persistence.PostgresStore {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	_, err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(context.Background())
	require.NoError(t, err)
	return persistence.NewPostgresStore(db, zerolog.Nop())
}

// ============================================================================
// Integration: engine on Postgres
// ============================================================================

func TestPostgres_ReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)
	e := core.NewEngine(s, core.DefaultConfig())
	account := uuid.New()

	testutil.FundAccount(t, e, account, ledger.AssetUSDT, "1000")

	r, err := e.ReserveOrderFunds(ctx, account, ledger.AssetUSDT, testutil.Dec(t, "250.5"))
	require.NoError(t, err)

	wallets, err := s.ListWallets(ctx, account)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.True(t, wallets[0].LockedBalance.Equal(testutil.Dec(t, "250.5")))

	_, err = e.ReleaseOrderFunds(ctx, testutil.User(account), r.ID)
	require.NoError(t, err)
	_, err = e.ReleaseOrderFunds(ctx, testutil.User(account), r.ID)
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	wallets, err = s.ListWallets(ctx, account)
	require.NoError(t, err)
	assert.True(t, wallets[0].LockedBalance.IsZero())
	assert.True(t, wallets[0].Balance.Equal(testutil.Dec(t, "1000")))

	tracker := ledger.NewBalanceTracker()
	require.NoError(t, s.ScanJournal(ctx, func(j ledger.Journal) error {
		tracker.ApplyJournal(j)
		return nil
	}))
	v := ledger.NewInvariantValidator(tracker)
	assert.NoError(t, v.ValidateGlobalBalance())
	all, err := s.ListAllWallets(ctx)
	require.NoError(t, err)
	assert.Empty(t, v.ReconcileWallets(all))
}

func TestPostgres_ConcurrentDecideCompletesOnce(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)
	e := core.NewEngine(s, core.DefaultConfig())
	account := uuid.New()
	admin := testutil.Admin()

	_, err := e.FundPool(ctx, admin, ledger.AssetUSDC, testutil.Dec(t, "500"))
	require.NoError(t, err)
	req, err := e.CreateSettlement(ctx, account, ledger.SettlementDeposit, ledger.AssetUSDC, testutil.Dec(t, "100"))
	require.NoError(t, err)
	_, err = e.ConfirmSettlement(ctx, req.ID, account)
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.DecideSettlement(ctx, req.ID, admin, ledger.OutcomeApprove, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case ledger.Code(err) == ledger.CodeAlreadyProcessed:
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, already)

	wallets, err := s.ListWallets(ctx, account)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.True(t, wallets[0].Balance.Equal(testutil.Dec(t, "100")))
}

func TestPostgres_TransitionSettlementConditional(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)
	e := core.NewEngine(s, core.DefaultConfig())
	account := uuid.New()

	req, err := e.CreateSettlement(ctx, account, ledger.SettlementDeposit, ledger.AssetUSDC, testutil.Dec(t, "100"))
	require.NoError(t, err)
	require.Equal(t, ledger.SettlementPending, req.Status)

	transition := func(id uuid.UUID, from ledger.SettlementStatus) error {
		return s.WithTx(ctx, func(tx store.Tx) error {
			r := *req
			r.ID = id
			r.Status = ledger.SettlementAwaitingReview
			return tx.TransitionSettlement(ctx, &r, from)
		})
	}

	err = transition(req.ID, ledger.SettlementCompleted)
	assert.Equal(t, ledger.CodeAlreadyProcessed, ledger.Code(err))
	assert.Contains(t, err.Error(), "is PENDING")

	err = transition(uuid.New(), ledger.SettlementPending)
	assert.Equal(t, ledger.CodeNotFound, ledger.Code(err))

	require.NoError(t, transition(req.ID, ledger.SettlementPending))
	got, err := s.FindSettlement(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SettlementAwaitingReview, got.Status)
}

func TestPostgres_MarkProcessedOnce(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)

	mark := func() error {
		return s.WithTx(ctx, func(tx store.Tx) error { return tx.MarkProcessed(ctx, "BotProfitReported:k1") })
	}
	require.NoError(t, mark())
	assert.ErrorIs(t, mark(), ledger.ErrAlreadyProcessed)

	seen, err := s.IsProcessed(ctx, "BotProfitReported:k1")
	require.NoError(t, err)
	assert.True(t, seen)

	keys, err := s.RecentProcessedKeys(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"BotProfitReported:k1"}, keys)
}

func TestPostgres_OutboxFetchAndMark(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)
	e := core.NewEngine(s, core.DefaultConfig())

	_, err := e.FundPool(ctx, testutil.Admin(), ledger.AssetBTC, testutil.Dec(t, "2"))
	require.NoError(t, err)

	pending, err := s.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "PoolFunded", pending[0].EventType)

	require.NoError(t, s.MarkPublished(ctx, []int64{pending[0].Sequence}))
	pending, err = s.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
