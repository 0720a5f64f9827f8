package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the per-(account, asset) balance pair.
// Invariant: 0 <= LockedBalance <= Balance after every committed operation.
type Wallet struct {
	AccountID     uuid.UUID
	Asset         Asset
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	Version       int64 // 0 means the row does not exist yet
	UpdatedAt     time.Time
}

func NewWallet(accountID uuid.UUID, asset Asset) *Wallet {
	return &Wallet{
		AccountID:     accountID,
		Asset:         asset,
		Balance:       decimal.Zero,
		LockedBalance: decimal.Zero,
	}
}

// Available returns Balance - LockedBalance.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}

// Lock moves amount from available into locked. No mutation on failure.
func (w *Wallet) Lock(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("lock amount must be positive, got %s", amount.String())
	}
	if w.Available().LessThan(amount) {
		return NewInsufficientFunds(w.AccountID, w.Asset, amount, w.Available())
	}
	w.LockedBalance = w.LockedBalance.Add(amount)
	return nil
}

// Unlock releases amount from locked back to available.
func (w *Wallet) Unlock(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("unlock amount must be positive, got %s", amount.String())
	}
	if w.LockedBalance.LessThan(amount) {
		return fmt.Errorf("%w: unlock %s exceeds locked %s on %s/%s",
			ErrInvariantViolation, amount.String(), w.LockedBalance.String(), w.AccountID, w.Asset)
	}
	w.LockedBalance = w.LockedBalance.Sub(amount)
	return nil
}

func (w *Wallet) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("credit amount must be positive, got %s", amount.String())
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

// Debit never drops Balance below LockedBalance.
func (w *Wallet) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("debit amount must be positive, got %s", amount.String())
	}
	if w.Available().LessThan(amount) {
		return NewInsufficientFunds(w.AccountID, w.Asset, amount, w.Available())
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}

// CheckInvariant verifies 0 <= LockedBalance <= Balance.
func (w *Wallet) CheckInvariant() error {
	if w.LockedBalance.IsNegative() {
		return fmt.Errorf("%w: wallet %s/%s has negative locked balance %s",
			ErrInvariantViolation, w.AccountID, w.Asset, w.LockedBalance.String())
	}
	if w.LockedBalance.GreaterThan(w.Balance) {
		return fmt.Errorf("%w: wallet %s/%s locked %s exceeds balance %s",
			ErrInvariantViolation, w.AccountID, w.Asset, w.LockedBalance.String(), w.Balance.String())
	}
	return nil
}

// WalletKey identifies a wallet row.
type WalletKey struct {
	AccountID uuid.UUID
	Asset     Asset
}

func (w *Wallet) Key() WalletKey {
	return WalletKey{AccountID: w.AccountID, Asset: w.Asset}
}
