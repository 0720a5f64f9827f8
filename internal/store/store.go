// Package store defines the repository and unit-of-work abstraction the
// ledger core runs on. Implementations: MemoryStore here, and the Postgres
// store in internal/persistence.
package store

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"context"

	"github.com/google/uuid"
)

// Store opens units of work and serves read-only queries.
type Store interface {
	// WithTx runs fn in one atomic unit of work. If fn returns an error
	// nothing it wrote is visible to anyone. Lost updates surface as
	// ledger.ErrConflict.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Reader
	Outbox

	Ping(ctx context.Context) error
}

// Tx is one unit of work. Every Get* locks the row it returns until the
// unit of work ends. Put/Update calls carry the version that was read and
// fail with ledger.ErrConflict if the row moved.
type Tx interface {
	// GetWallet returns the wallet or a zero wallet with Version 0.
	GetWallet(ctx context.Context, accountID uuid.UUID, asset ledger.Asset) (*ledger.Wallet, error)
	PutWallet(ctx context.Context, w *ledger.Wallet) error

	// GetPool returns the pool or a zero pool with Version 0.
	GetPool(ctx context.Context, asset ledger.Asset) (*ledger.PoolWallet, error)
	PutPool(ctx context.Context, p *ledger.PoolWallet) error

	InsertSettlement(ctx context.Context, r *ledger.SettlementRequest) error
	GetSettlement(ctx context.Context, id uuid.UUID) (*ledger.SettlementRequest, error)
	// TransitionSettlement writes r iff the stored status is still from.
	// Otherwise it fails with ledger.ErrAlreadyProcessed and writes nothing.
	TransitionSettlement(ctx context.Context, r *ledger.SettlementRequest, from ledger.SettlementStatus) error

	InsertReservation(ctx context.Context, r *ledger.Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (*ledger.Reservation, error)
	// TransitionReservation writes r iff the stored status is still from.
	TransitionReservation(ctx context.Context, r *ledger.Reservation, from ledger.ReservationStatus) error

	InsertBotPosition(ctx context.Context, p *ledger.BotPosition) error
	GetBotPosition(ctx context.Context, id uuid.UUID) (*ledger.BotPosition, error)
	UpdateBotPosition(ctx context.Context, p *ledger.BotPosition) error

	InsertOrder(ctx context.Context, o *ledger.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*ledger.Order, error)
	UpdateOrder(ctx context.Context, o *ledger.Order) error

	AppendJournal(ctx context.Context, batch *ledger.Batch) error
	AppendOutbox(ctx context.Context, env event.Envelope) error

	// MarkProcessed records an inbound idempotency key. A key that was
	// already recorded fails with ledger.ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, key string) error
}

// Reader serves queries outside a unit of work.
type Reader interface {
	ListWallets(ctx context.Context, accountID uuid.UUID) ([]ledger.Wallet, error)
	ListAllWallets(ctx context.Context) ([]ledger.Wallet, error)
	ListPools(ctx context.Context) ([]ledger.PoolWallet, error)

	FindSettlement(ctx context.Context, id uuid.UUID) (*ledger.SettlementRequest, error)
	ListSettlements(ctx context.Context, filter SettlementFilter) ([]ledger.SettlementRequest, error)

	ListBotPositions(ctx context.Context, accountID uuid.UUID) ([]ledger.BotPosition, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*ledger.Order, error)

	// ScanJournal calls fn for every journal entry in append order.
	ScanJournal(ctx context.Context, fn func(ledger.Journal) error) error

	IsProcessed(ctx context.Context, key string) (bool, error)
}

// Outbox is the relay side of the transactional outbox.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]event.Envelope, error)
	MarkPublished(ctx context.Context, sequences []int64) error
}

// SettlementFilter narrows ListSettlements. Zero values match everything.
type SettlementFilter struct {
	AccountID *uuid.UUID
	Status    *ledger.SettlementStatus
	Kind      *ledger.SettlementKind
	Limit     int
}

func (f SettlementFilter) Match(r *ledger.SettlementRequest) bool {
	if f.AccountID != nil && r.AccountID != *f.AccountID {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Kind != nil && r.Kind != *f.Kind {
		return false
	}
	return true
}
