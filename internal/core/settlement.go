package core

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementWorkflow drives deposit and withdrawal requests through
// PENDING -> AWAITING_REVIEW -> COMPLETED | FAILED. Balances move only on
// approval; every status change is conditional on the status that was read.
type SettlementWorkflow struct {
	tx       store.Tx
	balances *BalanceStore
	pool     *PoolLedger
	now      time.Time
	emit     func(event.Event)
}

func NewSettlementWorkflow(tx store.Tx, balances *BalanceStore, pool *PoolLedger, now time.Time, emit func(event.Event)) *SettlementWorkflow {
	return &SettlementWorkflow{tx: tx, balances: balances, pool: pool, now: now, emit: emit}
}

// Create opens a PENDING request. Withdrawals must be covered by the
// available balance at creation.
func (s *SettlementWorkflow) Create(ctx context.Context, accountID uuid.UUID, kind ledger.SettlementKind,
	asset ledger.Asset, amount decimal.Decimal) (*ledger.SettlementRequest, error) {
	if accountID == uuid.Nil {
		return nil, ledger.Validationf("account id is required")
	}
	if kind != ledger.SettlementDeposit && kind != ledger.SettlementWithdrawal {
		return nil, ledger.Validationf("unknown settlement kind %q", kind)
	}
	if err := ledger.ValidateAmount(asset, amount); err != nil {
		return nil, err
	}

	if kind == ledger.SettlementWithdrawal {
		if err := s.checkAvailable(ctx, accountID, asset, amount); err != nil {
			return nil, err
		}
	}

	r := ledger.NewSettlementRequest(accountID, kind, asset, amount, s.now)
	if err := s.tx.InsertSettlement(ctx, r); err != nil {
		return nil, err
	}

	s.emit(event.NewSettlementEvent(event.EventTypeSettlementCreated, r))
	return r, nil
}

// Confirm records the owner's confirmation. A withdrawal that is no longer
// covered stays PENDING and fails with ErrInsufficientFunds.
func (s *SettlementWorkflow) Confirm(ctx context.Context, requestID, accountID uuid.UUID) (*ledger.SettlementRequest, error) {
	r, err := s.tx.GetSettlement(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.AccountID != accountID {
		return nil, ledger.Unauthorizedf("settlement %s belongs to another account", requestID)
	}
	if r.Status != ledger.SettlementPending {
		return nil, ledger.AlreadyProcessedf("settlement %s is %s", r.ID, r.Status)
	}

	if r.Kind == ledger.SettlementWithdrawal {
		if err := s.checkAvailable(ctx, r.AccountID, r.Asset, r.Amount); err != nil {
			return nil, err
		}
	}

	if err := r.Confirm(s.now); err != nil {
		return nil, err
	}
	if err := s.tx.TransitionSettlement(ctx, r, ledger.SettlementPending); err != nil {
		return nil, err
	}

	s.emit(event.NewSettlementEvent(event.EventTypeSettlementConfirmed, r))
	return r, nil
}

// Decide applies a reviewer's outcome. Balance legs run before the
// conditional status write so a failed leg leaves the request in review.
func (s *SettlementWorkflow) Decide(ctx context.Context, requestID uuid.UUID, reviewer auth.Principal,
	outcome ledger.Outcome, reason string) (*ledger.SettlementRequest, error) {
	if err := reviewer.RequireAdmin(); err != nil {
		return nil, err
	}

	r, err := s.tx.GetSettlement(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != ledger.SettlementAwaitingReview {
		return nil, ledger.AlreadyProcessedf("settlement %s is %s", r.ID, r.Status)
	}

	var evt event.EventType
	switch outcome {
	case ledger.OutcomeApprove:
		if err := s.settle(ctx, r); err != nil {
			return nil, err
		}
		if err := r.Complete(reviewer.AccountID, s.now); err != nil {
			return nil, err
		}
		evt = event.EventTypeSettlementCompleted
	case ledger.OutcomeReject:
		if err := r.Fail(reviewer.AccountID, reason, s.now); err != nil {
			return nil, err
		}
		evt = event.EventTypeSettlementFailed
	default:
		return nil, ledger.Validationf("unknown outcome %q", outcome)
	}

	if err := s.tx.TransitionSettlement(ctx, r, ledger.SettlementAwaitingReview); err != nil {
		return nil, err
	}

	s.emit(event.NewSettlementEvent(evt, r))
	return r, nil
}

// settle moves the funds of an approved request between user and pool.
func (s *SettlementWorkflow) settle(ctx context.Context, r *ledger.SettlementRequest) error {
	poolKey := ledger.NewPoolAccountKey(r.Asset)

	switch r.Kind {
	case ledger.SettlementDeposit:
		if _, err := s.pool.PayDeposit(ctx, r.Asset, r.Amount); err != nil {
			return err
		}
		return s.balances.Credit(ctx, r.AccountID, r.Asset, r.Amount, poolKey, ledger.JournalTypeDepositSettle)

	case ledger.SettlementWithdrawal:
		if err := s.balances.Debit(ctx, r.AccountID, r.Asset, r.Amount, poolKey, ledger.JournalTypeWithdrawalSettle); err != nil {
			return err
		}
		_, err := s.pool.ReceiveWithdrawal(ctx, r.Asset, r.Amount)
		return err
	}
	return ledger.Validationf("unknown settlement kind %q", r.Kind)
}

func (s *SettlementWorkflow) checkAvailable(ctx context.Context, accountID uuid.UUID, asset ledger.Asset, amount decimal.Decimal) error {
	available, err := s.balances.Available(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if available.LessThan(amount) {
		return ledger.NewInsufficientFunds(accountID, asset, amount, available)
	}
	return nil
}
