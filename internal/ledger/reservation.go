package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationConsumed ReservationStatus = "CONSUMED"
)

// ReservationPurpose records which workflow owns a reservation.
type ReservationPurpose string

const (
	PurposeOrder  ReservationPurpose = "ORDER"
	PurposeBot    ReservationPurpose = "BOT"
	PurposeManual ReservationPurpose = "MANUAL"
)

// Reservation owns exactly one increment of a wallet's locked balance.
// It is closed exactly once, by release or consume.
type Reservation struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Asset       Asset
	Amount      decimal.Decimal
	Status      ReservationStatus
	Purpose     ReservationPurpose
	ReferenceID *uuid.UUID
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

func NewReservation(accountID uuid.UUID, asset Asset, amount decimal.Decimal, purpose ReservationPurpose, ref *uuid.UUID, now time.Time) *Reservation {
	return &Reservation{
		ID:          uuid.New(),
		AccountID:   accountID,
		Asset:       asset,
		Amount:      amount,
		Status:      ReservationActive,
		Purpose:     purpose,
		ReferenceID: ref,
		CreatedAt:   now,
	}
}

// Close moves an ACTIVE reservation to a terminal status.
func (r *Reservation) Close(to ReservationStatus, now time.Time) error {
	if r.Status != ReservationActive {
		return AlreadyProcessedf("reservation %s is %s", r.ID, r.Status)
	}
	r.Status = to
	r.ClosedAt = &now
	return nil
}

func (r *Reservation) Clone() *Reservation {
	c := *r
	if r.ReferenceID != nil {
		v := *r.ReferenceID
		c.ReferenceID = &v
	}
	if r.ClosedAt != nil {
		v := *r.ClosedAt
		c.ClosedAt = &v
	}
	return &c
}
