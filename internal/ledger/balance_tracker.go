package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceTracker replays journals into per-account balances. It is the
// reference the stored wallets and pools are reconciled against.
type BalanceTracker struct {
	balances map[AccountKey]decimal.Decimal
	entries  int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]decimal.Decimal),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].Add(j.Amount)
	bt.balances[j.CreditAccount] = bt.balances[j.CreditAccount].Sub(j.Amount)
	bt.entries++
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) decimal.Decimal {
	return bt.balances[key]
}

// Entries returns how many journal entries were applied.
func (bt *BalanceTracker) Entries() int {
	return bt.entries
}

// === Wallet views ===

func (bt *BalanceTracker) GetUserAvailable(accountID uuid.UUID, asset Asset) decimal.Decimal {
	return bt.GetBalance(NewUserAccountKey(accountID, SubTypeAvailable, asset))
}

func (bt *BalanceTracker) GetUserLocked(accountID uuid.UUID, asset Asset) decimal.Decimal {
	return bt.GetBalance(NewUserAccountKey(accountID, SubTypeLocked, asset))
}

// GetUserBalance returns available + locked, the wallet's total balance.
func (bt *BalanceTracker) GetUserBalance(accountID uuid.UUID, asset Asset) decimal.Decimal {
	return bt.GetUserAvailable(accountID, asset).Add(bt.GetUserLocked(accountID, asset))
}

func (bt *BalanceTracker) GetPoolBalance(asset Asset) decimal.Decimal {
	return bt.GetBalance(NewPoolAccountKey(asset))
}

// Wallets returns the wallet keys seen in the journal.
func (bt *BalanceTracker) Wallets() []WalletKey {
	seen := make(map[WalletKey]bool)
	var out []WalletKey
	for k := range bt.balances {
		if k.Scope != AccountScopeUser {
			continue
		}
		wk := WalletKey{AccountID: k.OwnerID, Asset: k.Asset}
		if !seen[wk] {
			seen[wk] = true
			out = append(out, wk)
		}
	}
	return out
}

// ComputeGlobalBalance sums all account balances (zero for a balanced ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[Asset]decimal.Decimal {
	totals := make(map[Asset]decimal.Decimal)

	for key, balance := range bt.balances {
		totals[key.Asset] = totals[key.Asset].Add(balance)
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance.String())
	}
	return nil
}
