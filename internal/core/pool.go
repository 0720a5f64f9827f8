package core

import (
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PoolLedger moves liquidity in and out of the per-asset pool wallets.
// Settlement legs are journalled by the BalanceStore with the pool as
// counterparty; only treasury funding is journalled here.
type PoolLedger struct {
	tx      store.Tx
	journal *ledger.Batch
	now     time.Time

	// touched records post-commit balances for metrics.
	touched map[ledger.Asset]decimal.Decimal
}

func NewPoolLedger(tx store.Tx, journal *ledger.Batch, now time.Time) *PoolLedger {
	return &PoolLedger{
		tx:      tx,
		journal: journal,
		now:     now,
		touched: make(map[ledger.Asset]decimal.Decimal),
	}
}

func (p *PoolLedger) Get(ctx context.Context, asset ledger.Asset) (*ledger.PoolWallet, error) {
	return p.tx.GetPool(ctx, asset)
}

// PayDeposit takes amount out of the pool to fund an approved deposit.
// Fails with ErrInsufficientPoolLiquidity and writes nothing if the pool
// cannot cover it.
func (p *PoolLedger) PayDeposit(ctx context.Context, asset ledger.Asset, amount decimal.Decimal) (*ledger.PoolWallet, error) {
	pool, err := p.tx.GetPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	if err := pool.PayDeposit(amount); err != nil {
		return nil, err
	}
	return pool, p.save(ctx, pool)
}

// ReceiveWithdrawal adds an approved withdrawal to the pool.
func (p *PoolLedger) ReceiveWithdrawal(ctx context.Context, asset ledger.Asset, amount decimal.Decimal) (*ledger.PoolWallet, error) {
	pool, err := p.tx.GetPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	if err := pool.ReceiveWithdrawal(amount); err != nil {
		return nil, err
	}
	return pool, p.save(ctx, pool)
}

// Fund tops the pool up from the external treasury.
func (p *PoolLedger) Fund(ctx context.Context, asset ledger.Asset, amount decimal.Decimal) (*ledger.PoolWallet, error) {
	pool, err := p.tx.GetPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	if err := pool.Replenish(amount); err != nil {
		return nil, err
	}
	if err := p.save(ctx, pool); err != nil {
		return nil, err
	}

	p.journal.Add(
		ledger.NewPoolAccountKey(asset),
		ledger.NewExternalAccountKey(ledger.SubTypeTreasury, asset),
		asset, amount, ledger.JournalTypePoolFunding,
	)
	return pool, nil
}

func (p *PoolLedger) save(ctx context.Context, pool *ledger.PoolWallet) error {
	if err := pool.CheckInvariant(); err != nil {
		return err
	}
	pool.UpdatedAt = p.now
	if err := p.tx.PutPool(ctx, pool); err != nil {
		return err
	}
	p.touched[pool.Asset] = pool.Balance
	return nil
}
