package server

import (
	"CustodyLedger/internal/ledger"
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain is the ErrorInfo domain attached to every ledger error.
const ErrorDomain = "custodyledger"

var grpcCodes = map[string]codes.Code{
	ledger.CodeValidation:                codes.InvalidArgument,
	ledger.CodeInsufficientFunds:         codes.FailedPrecondition,
	ledger.CodeInsufficientPoolLiquidity: codes.FailedPrecondition,
	ledger.CodeNotFound:                  codes.NotFound,
	ledger.CodeUnauthorized:              codes.PermissionDenied,
	ledger.CodeAlreadyProcessed:          codes.AlreadyExists,
	ledger.CodeInvalidState:              codes.FailedPrecondition,
	ledger.CodeConflict:                  codes.Aborted,
	ledger.CodeInternal:                  codes.Internal,
}

// toStatus maps a ledger error onto a gRPC status. The taxonomy code travels
// as the ErrorInfo reason so clients can tell the FailedPrecondition cases
// apart. Internal errors do not leak their message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	reason := ledger.Code(err)
	code := grpcCodes[reason]
	msg := err.Error()
	if code == codes.Internal {
		msg = "internal error"
	}

	info := &errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain}
	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		info.Metadata = map[string]string{"required": insufficient.Required.String()}
		for asset, avail := range insufficient.Available {
			info.Metadata["available_"+string(asset)] = avail.String()
		}
	}
	var pool *ledger.PoolLiquidityError
	if errors.As(err, &pool) {
		info.Metadata = map[string]string{
			"asset":     string(pool.Asset),
			"required":  pool.Required.String(),
			"available": pool.Available.String(),
		}
	}

	st, detailErr := status.New(code, msg).WithDetails(info)
	if detailErr != nil {
		return status.Error(code, msg)
	}
	return st.Err()
}

// Reason extracts the ledger error code from a status error, or "" when
// the error carries none.
func Reason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == ErrorDomain {
			return info.Reason
		}
	}
	return ""
}
