package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level journal account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopePool
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeAvailable AccountSubType = iota
	SubTypeLocked

	// Pool sub-type
	SubTypePool

	// External sub-types: counterparties outside the custodial ledger
	SubTypeTreasury
	SubTypeBotPnL
	SubTypeMarket
)

var subTypeNames = map[AccountSubType]string{
	SubTypeAvailable: "available",
	SubTypeLocked:    "locked",
	SubTypePool:      "pool",
	SubTypeTreasury:  "treasury",
	SubTypeBotPnL:    "bot_pnl",
	SubTypeMarket:    "market",
}

// AccountKey identifies one journal account. User wallets are split into
// an available and a locked account so journals alone reproduce both
// balance and lockedBalance.
type AccountKey struct {
	Scope   AccountScope
	OwnerID uuid.UUID // zero for pool and external accounts
	SubType AccountSubType
	Asset   Asset
}

// NewUserAccountKey creates a key for the available or locked part of a wallet
func NewUserAccountKey(accountID uuid.UUID, subType AccountSubType, asset Asset) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		OwnerID: accountID,
		SubType: subType,
		Asset:   asset,
	}
}

// NewPoolAccountKey creates the key for an asset's pool wallet
func NewPoolAccountKey(asset Asset) AccountKey {
	return AccountKey{
		Scope:   AccountScopePool,
		SubType: SubTypePool,
		Asset:   asset,
	}
}

// NewExternalAccountKey creates a key for an external boundary account
func NewExternalAccountKey(subType AccountSubType, asset Asset) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.OwnerID.String(), subTypeNames[k.SubType], k.Asset)
	case AccountScopePool:
		return fmt.Sprintf("pool:%s", k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", subTypeNames[k.SubType], k.Asset)
	}
	return "unknown"
}

func (k AccountKey) String() string {
	return k.AccountPath()
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user":
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		sub, ok := parseSubType(parts[2])
		if !ok || (sub != SubTypeAvailable && sub != SubTypeLocked) {
			return AccountKey{}, fmt.Errorf("account path %q: unknown user sub-type", path)
		}
		return NewUserAccountKey(id, sub, Asset(parts[3])), nil

	case len(parts) == 2 && parts[0] == "pool":
		return NewPoolAccountKey(Asset(parts[1])), nil

	case len(parts) == 3 && parts[0] == "external":
		sub, ok := parseSubType(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown external sub-type", path)
		}
		return NewExternalAccountKey(sub, Asset(parts[2])), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

func parseSubType(name string) (AccountSubType, bool) {
	for k, v := range subTypeNames {
		if v == name {
			return k, true
		}
	}
	return 0, false
}
