// Package auth carries the already-authenticated caller through the core.
// Session issuance and credential checks happen upstream; this package only
// reads the identity the gateway attached to the request.
package auth

import (
	"CustodyLedger/internal/ledger"
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Header / metadata keys set by the upstream authenticating proxy.
const (
	HeaderAccountID = "x-account-id"
	HeaderRole      = "x-account-role"
)

type Principal struct {
	AccountID uuid.UUID
	Role      Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Owns reports whether p may act on a resource owned by accountID.
func (p Principal) Owns(accountID uuid.UUID) bool {
	return p.AccountID == accountID
}

// RequireAdmin fails with ErrUnauthorized unless p is a reviewer.
func (p Principal) RequireAdmin() error {
	if !p.IsAdmin() {
		return ledger.Unauthorizedf("account %s is not a reviewer", p.AccountID)
	}
	return nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Resolve builds a principal from raw credential values.
func Resolve(accountID, role string) (Principal, error) {
	id, err := uuid.Parse(strings.TrimSpace(accountID))
	if err != nil || id == uuid.Nil {
		return Principal{}, ledger.Unauthorizedf("missing or malformed %s", HeaderAccountID)
	}

	p := Principal{AccountID: id, Role: RoleUser}
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleAdmin:
		p.Role = RoleAdmin
	case RoleUser, "":
	default:
		return Principal{}, ledger.Unauthorizedf("unknown role %q", role)
	}
	return p, nil
}

// FromMetadata resolves the principal from incoming gRPC metadata.
func FromMetadata(ctx context.Context) (Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Principal{}, ledger.Unauthorizedf("no credentials")
	}
	return Resolve(first(md.Get(HeaderAccountID)), first(md.Get(HeaderRole)))
}

// FromHeader resolves the principal from HTTP headers.
func FromHeader(h http.Header) (Principal, error) {
	return Resolve(h.Get(HeaderAccountID), h.Get(HeaderRole))
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
