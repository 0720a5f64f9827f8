package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeLock JournalType = iota
	JournalTypeUnlock
	JournalTypeDepositSettle
	JournalTypeWithdrawalSettle
	JournalTypeReservationConsume
	JournalTypeReservationSettle
	JournalTypeOrderExecution
	JournalTypePoolFunding
)

var journalTypeNames = [...]string{
	"lock",
	"unlock",
	"deposit_settle",
	"withdrawal_settle",
	"reservation_consume",
	"reservation_settle",
	"order_execution",
	"pool_funding",
}

func (t JournalType) String() string {
	if int(t) >= 0 && int(t) < len(journalTypeNames) {
		return journalTypeNames[t]
	}
	return "unknown"
}

func ParseJournalType(name string) (JournalType, error) {
	for i, n := range journalTypeNames {
		if n == name {
			return JournalType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown journal type %q", name)
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string          // operation and aggregate the batch belongs to
	DebitAccount  AccountKey      // balance increases
	CreditAccount AccountKey      // balance decreases
	Asset         Asset
	Amount        decimal.Decimal // always positive
	JournalType   JournalType
	Timestamp     time.Time
}

// Batch is the balanced set of journal entries written by one unit of work.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Timestamp time.Time
	Journals  []Journal
}

func NewBatch(eventRef string, now time.Time) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Timestamp: now,
	}
}

// Add appends one transfer of amount from credit to debit.
func (b *Batch) Add(debit, credit AccountKey, asset Asset, amount decimal.Decimal, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

func (b *Batch) Empty() bool {
	return len(b.Journals) == 0
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two distinct accounts of the same asset, so every entry is
// balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if !j.Amount.IsPositive() {
			return fmt.Errorf("journal %s has non-positive amount: %s", j.JournalID, j.Amount.String())
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
