package core

import (
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceStore applies the four wallet primitives inside one unit of work
// and journals each of them. Every mutation is checked against the wallet
// invariant before it is written.
type BalanceStore struct {
	tx      store.Tx
	journal *ledger.Batch
	now     time.Time
}

func NewBalanceStore(tx store.Tx, journal *ledger.Batch, now time.Time) *BalanceStore {
	return &BalanceStore{tx: tx, journal: journal, now: now}
}

// Wallet returns the current wallet, or a zero wallet if none exists.
func (b *BalanceStore) Wallet(ctx context.Context, accountID uuid.UUID, asset ledger.Asset) (*ledger.Wallet, error) {
	return b.tx.GetWallet(ctx, accountID, asset)
}

func (b *BalanceStore) Available(ctx context.Context, accountID uuid.UUID, asset ledger.Asset) (decimal.Decimal, error) {
	w, err := b.tx.GetWallet(ctx, accountID, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Available(), nil
}

// Lock moves amount from available to locked.
func (b *BalanceStore) Lock(ctx context.Context, accountID uuid.UUID, asset ledger.Asset, amount decimal.Decimal) error {
	w, err := b.tx.GetWallet(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if err := w.Lock(amount); err != nil {
		return err
	}
	if err := b.save(ctx, w); err != nil {
		return err
	}

	b.journal.Add(
		ledger.NewUserAccountKey(accountID, ledger.SubTypeLocked, asset),
		ledger.NewUserAccountKey(accountID, ledger.SubTypeAvailable, asset),
		asset, amount, ledger.JournalTypeLock,
	)
	return nil
}

// Unlock moves amount from locked back to available.
func (b *BalanceStore) Unlock(ctx context.Context, accountID uuid.UUID, asset ledger.Asset, amount decimal.Decimal) error {
	w, err := b.tx.GetWallet(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if err := w.Unlock(amount); err != nil {
		return err
	}
	if err := b.save(ctx, w); err != nil {
		return err
	}

	b.journal.Add(
		ledger.NewUserAccountKey(accountID, ledger.SubTypeAvailable, asset),
		ledger.NewUserAccountKey(accountID, ledger.SubTypeLocked, asset),
		asset, amount, ledger.JournalTypeUnlock,
	)
	return nil
}

// Credit adds amount to the wallet, taking it from counterparty in the journal.
func (b *BalanceStore) Credit(ctx context.Context, accountID uuid.UUID, asset ledger.Asset, amount decimal.Decimal,
	counterparty ledger.AccountKey, jt ledger.JournalType) error {
	w, err := b.tx.GetWallet(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if err := w.Credit(amount); err != nil {
		return err
	}
	if err := b.save(ctx, w); err != nil {
		return err
	}

	b.journal.Add(ledger.NewUserAccountKey(accountID, ledger.SubTypeAvailable, asset), counterparty, asset, amount, jt)
	return nil
}

// Debit removes amount from the available part of the wallet and hands it
// to counterparty in the journal.
func (b *BalanceStore) Debit(ctx context.Context, accountID uuid.UUID, asset ledger.Asset, amount decimal.Decimal,
	counterparty ledger.AccountKey, jt ledger.JournalType) error {
	w, err := b.tx.GetWallet(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if err := w.Debit(amount); err != nil {
		return err
	}
	if err := b.save(ctx, w); err != nil {
		return err
	}

	b.journal.Add(counterparty, ledger.NewUserAccountKey(accountID, ledger.SubTypeAvailable, asset), asset, amount, jt)
	return nil
}

func (b *BalanceStore) save(ctx context.Context, w *ledger.Wallet) error {
	if err := w.CheckInvariant(); err != nil {
		return err
	}
	w.UpdatedAt = b.now
	return b.tx.PutWallet(ctx, w)
}
