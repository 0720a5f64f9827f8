package query

import (
	"CustodyLedger/internal/ledger"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletView is one wallet as shown to its owner.
type WalletView struct {
	AccountID     uuid.UUID       `json:"account_id"`
	Asset         ledger.Asset    `json:"asset"`
	Balance       decimal.Decimal `json:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance"`
	Available     decimal.Decimal `json:"available"`
	UpdatedAt     time.Time       `json:"updated_at"`

	// Display only, computed at query time from the pricing feed.
	Price *decimal.Decimal `json:"price,omitempty"`
	Value *decimal.Decimal `json:"value,omitempty"`
}

// WalletsResponse lists an account's wallets with an optional total.
type WalletsResponse struct {
	AccountID  uuid.UUID        `json:"account_id"`
	Wallets    []WalletView     `json:"wallets"`
	TotalValue *decimal.Decimal `json:"total_value,omitempty"`
	// PricesStale is set when the feed failed and values are omitted.
	PricesStale bool `json:"prices_stale,omitempty"`
}

// IntegrityReport is the result of replaying the journal against stored
// wallets and pools.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	JournalEntries   int64             `json:"journal_entries"`
	JournalHash      string            `json:"journal_hash"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	Mismatches       []ledger.Mismatch `json:"mismatches,omitempty"`
	CheckedAt        time.Time         `json:"checked_at"`
}

// UnbalancedAsset is an asset whose journal does not sum to zero.
type UnbalancedAsset struct {
	Asset     ledger.Asset    `json:"asset"`
	Imbalance decimal.Decimal `json:"imbalance"`
}
