package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PoolWallet is the platform's counterparty liquidity for one asset.
// TotalDeposits and TotalWithdrawals only grow, and only on completed
// settlements.
type PoolWallet struct {
	Asset            Asset
	Balance          decimal.Decimal
	TotalDeposits    decimal.Decimal
	TotalWithdrawals decimal.Decimal
	Version          int64
	UpdatedAt        time.Time
}

func NewPoolWallet(asset Asset) *PoolWallet {
	return &PoolWallet{
		Asset:            asset,
		Balance:          decimal.Zero,
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
	}
}

// PayDeposit funds an approved deposit out of the pool.
func (p *PoolWallet) PayDeposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("deposit amount must be positive, got %s", amount.String())
	}
	if p.Balance.LessThan(amount) {
		return &PoolLiquidityError{Asset: p.Asset, Required: amount, Available: p.Balance}
	}
	p.Balance = p.Balance.Sub(amount)
	p.TotalDeposits = p.TotalDeposits.Add(amount)
	return nil
}

// ReceiveWithdrawal takes an approved withdrawal into the pool.
func (p *PoolWallet) ReceiveWithdrawal(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("withdrawal amount must be positive, got %s", amount.String())
	}
	p.Balance = p.Balance.Add(amount)
	p.TotalWithdrawals = p.TotalWithdrawals.Add(amount)
	return nil
}

// Replenish adds treasury liquidity without touching the settlement counters.
func (p *PoolWallet) Replenish(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("replenish amount must be positive, got %s", amount.String())
	}
	p.Balance = p.Balance.Add(amount)
	return nil
}

func (p *PoolWallet) CheckInvariant() error {
	if p.Balance.IsNegative() {
		return fmt.Errorf("%w: pool %s has negative balance %s", ErrInvariantViolation, p.Asset, p.Balance.String())
	}
	return nil
}
