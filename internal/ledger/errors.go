package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Error taxonomy. Callers match with errors.Is; transports map the category
// to a status code via Code.
var (
	ErrValidation                = errors.New("validation error")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrInsufficientPoolLiquidity = errors.New("insufficient pool liquidity")
	ErrNotFound                  = errors.New("not found")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrAlreadyProcessed          = errors.New("already processed")
	ErrInvalidState              = errors.New("invalid state")
	ErrConflict                  = errors.New("conflict")
	ErrInternal                  = errors.New("internal error")

	// ErrInvariantViolation signals a caller bug (e.g. unlocking more than
	// is locked). It is reported in the internal error category.
	ErrInvariantViolation = fmt.Errorf("%w: invariant violation", ErrInternal)
)

// Error codes exposed to API clients.
const (
	CodeValidation                = "VALIDATION_ERROR"
	CodeInsufficientFunds         = "INSUFFICIENT_FUNDS"
	CodeInsufficientPoolLiquidity = "INSUFFICIENT_POOL_LIQUIDITY"
	CodeNotFound                  = "NOT_FOUND"
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeAlreadyProcessed          = "ALREADY_PROCESSED"
	CodeInvalidState              = "INVALID_STATE"
	CodeConflict                  = "CONFLICT"
	CodeInternal                  = "INTERNAL_ERROR"
)

// Code returns the taxonomy code for err. Unknown errors are internal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrInsufficientPoolLiquidity):
		return CodeInsufficientPoolLiquidity
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrAlreadyProcessed):
		return CodeAlreadyProcessed
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// Retryable reports whether the failed operation may be re-attempted as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func AlreadyProcessedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAlreadyProcessed, fmt.Sprintf(format, args...))
}

func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InsufficientFundsError reports the shortfall of a lock or debit.
// Available carries one entry per asset that was considered.
type InsufficientFundsError struct {
	AccountID uuid.UUID
	Required  decimal.Decimal
	Available map[Asset]decimal.Decimal
}

func NewInsufficientFunds(accountID uuid.UUID, asset Asset, required, available decimal.Decimal) *InsufficientFundsError {
	return &InsufficientFundsError{
		AccountID: accountID,
		Required:  required,
		Available: map[Asset]decimal.Decimal{asset: available},
	}
}

func (e *InsufficientFundsError) Error() string {
	assets := make([]string, 0, len(e.Available))
	for a := range e.Available {
		assets = append(assets, string(a))
	}
	sort.Strings(assets)

	parts := make([]string, 0, len(assets))
	for _, a := range assets {
		parts = append(parts, fmt.Sprintf("%s=%s", a, e.Available[Asset(a)].String()))
	}
	return fmt.Sprintf("insufficient funds: required %s, available %s",
		e.Required.String(), strings.Join(parts, " "))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Shortfall returns required minus the largest single-asset availability.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	best := decimal.Zero
	for _, v := range e.Available {
		if v.GreaterThan(best) {
			best = v
		}
	}
	return e.Required.Sub(best)
}

// PoolLiquidityError reports a pool that cannot cover a deposit approval.
type PoolLiquidityError struct {
	Asset     Asset
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *PoolLiquidityError) Error() string {
	return fmt.Sprintf("insufficient pool liquidity for %s: required %s, available %s",
		e.Asset, e.Required.String(), e.Available.String())
}

func (e *PoolLiquidityError) Is(target error) bool {
	return target == ErrInsufficientPoolLiquidity
}
