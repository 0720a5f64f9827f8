package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SettlementKind string

const (
	SettlementDeposit    SettlementKind = "DEPOSIT"
	SettlementWithdrawal SettlementKind = "WITHDRAWAL"
)

func ParseSettlementKind(s string) (SettlementKind, error) {
	switch k := SettlementKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case SettlementDeposit, SettlementWithdrawal:
		return k, nil
	}
	return "", Validationf("unknown settlement kind %q", s)
}

type SettlementStatus string

const (
	SettlementPending        SettlementStatus = "PENDING"
	SettlementAwaitingReview SettlementStatus = "AWAITING_REVIEW"
	SettlementCompleted      SettlementStatus = "COMPLETED"
	SettlementFailed         SettlementStatus = "FAILED"
)

func ParseSettlementStatus(s string) (SettlementStatus, error) {
	switch st := SettlementStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case SettlementPending, SettlementAwaitingReview, SettlementCompleted, SettlementFailed:
		return st, nil
	}
	return "", Validationf("unknown settlement status %q", s)
}

func (s SettlementStatus) Terminal() bool {
	return s == SettlementCompleted || s == SettlementFailed
}

// Outcome is a reviewer's decision.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToUpper(strings.TrimSpace(s))); o {
	case OutcomeApprove, OutcomeReject:
		return o, nil
	}
	return "", Validationf("unknown outcome %q", s)
}

// SettlementRequest is a deposit or withdrawal moving through
// PENDING -> AWAITING_REVIEW -> COMPLETED | FAILED.
type SettlementRequest struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	Kind            SettlementKind
	Asset           Asset
	Amount          decimal.Decimal
	Status          SettlementStatus
	UserConfirmed   bool
	ReviewerID      *uuid.UUID
	RejectionReason *string
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	ReviewedAt      *time.Time
	CompletedAt     *time.Time
}

func NewSettlementRequest(accountID uuid.UUID, kind SettlementKind, asset Asset, amount decimal.Decimal, now time.Time) *SettlementRequest {
	return &SettlementRequest{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      kind,
		Asset:     asset,
		Amount:    amount,
		Status:    SettlementPending,
		CreatedAt: now,
	}
}

// Confirm moves a PENDING request to AWAITING_REVIEW.
func (r *SettlementRequest) Confirm(now time.Time) error {
	if r.Status != SettlementPending {
		return AlreadyProcessedf("settlement %s is %s", r.ID, r.Status)
	}
	r.Status = SettlementAwaitingReview
	r.UserConfirmed = true
	r.ConfirmedAt = &now
	return nil
}

// Complete records an approval.
func (r *SettlementRequest) Complete(reviewerID uuid.UUID, now time.Time) error {
	if r.Status != SettlementAwaitingReview {
		return AlreadyProcessedf("settlement %s is %s", r.ID, r.Status)
	}
	r.Status = SettlementCompleted
	r.ReviewerID = &reviewerID
	r.ReviewedAt = &now
	r.CompletedAt = &now
	return nil
}

// Fail records a rejection. reason must be non-blank.
func (r *SettlementRequest) Fail(reviewerID uuid.UUID, reason string, now time.Time) error {
	if r.Status != SettlementAwaitingReview {
		return AlreadyProcessedf("settlement %s is %s", r.ID, r.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Validationf("rejection reason is required")
	}
	r.Status = SettlementFailed
	r.ReviewerID = &reviewerID
	r.RejectionReason = &reason
	r.ReviewedAt = &now
	return nil
}

// Clone returns a deep copy.
func (r *SettlementRequest) Clone() *SettlementRequest {
	c := *r
	if r.ReviewerID != nil {
		v := *r.ReviewerID
		c.ReviewerID = &v
	}
	if r.RejectionReason != nil {
		v := *r.RejectionReason
		c.RejectionReason = &v
	}
	if r.ConfirmedAt != nil {
		v := *r.ConfirmedAt
		c.ConfirmedAt = &v
	}
	if r.ReviewedAt != nil {
		v := *r.ReviewedAt
		c.ReviewedAt = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
