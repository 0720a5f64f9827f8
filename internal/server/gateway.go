package server

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// maxBodyBytes bounds request bodies on the gateway.
const maxBodyBytes = 1 << 20

// NewGatewayHandler builds the HTTP/JSON surface. Every route forwards to
// LedgerService over conn, carrying the caller headers as metadata, so the
// gateway and gRPC clients go through the same interceptors.
func NewGatewayHandler(conn grpc.ClientConnInterface, checker *observability.HealthChecker, gatherer prometheus.Gatherer) (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []error{
		route(mux, conn, http.MethodPost, "/v1/settlements", "CreateSettlement", noParams[CreateSettlementRequest]),
		route(mux, conn, http.MethodGet, "/v1/settlements", "ListSettlements", func(req *ListSettlementsRequest, r *http.Request, _ map[string]string) {
			q := r.URL.Query()
			req.AccountID = q.Get("account_id")
			req.Status = q.Get("status")
			req.Kind = q.Get("kind")
			req.Limit = queryInt(q.Get("limit"))
		}),
		route(mux, conn, http.MethodGet, "/v1/settlements/{id}", "GetSettlement", func(req *GetSettlementRequest, _ *http.Request, p map[string]string) {
			req.RequestID = p["id"]
		}),
		route(mux, conn, http.MethodPost, "/v1/settlements/{id}/confirm", "ConfirmSettlement", func(req *ConfirmSettlementRequest, _ *http.Request, p map[string]string) {
			req.RequestID = p["id"]
		}),
		route(mux, conn, http.MethodPost, "/v1/settlements/{id}/decide", "DecideSettlement", func(req *DecideSettlementRequest, _ *http.Request, p map[string]string) {
			req.RequestID = p["id"]
		}),

		route(mux, conn, http.MethodGet, "/v1/wallets", "GetWallets", func(req *GetWalletsRequest, r *http.Request, _ map[string]string) {
			req.AccountID = r.URL.Query().Get("account_id")
		}),
		route(mux, conn, http.MethodGet, "/v1/accounts/{account_id}/wallets", "GetWallets", func(req *GetWalletsRequest, _ *http.Request, p map[string]string) {
			req.AccountID = p["account_id"]
		}),
		route(mux, conn, http.MethodGet, "/v1/accounts/{account_id}/activity", "GetActivity", func(req *GetActivityRequest, r *http.Request, p map[string]string) {
			req.AccountID = p["account_id"]
			req.Limit = queryInt(r.URL.Query().Get("limit"))
		}),

		route(mux, conn, http.MethodPost, "/v1/reservations", "ReserveOrderFunds", noParams[ReserveFundsRequest]),
		route(mux, conn, http.MethodPost, "/v1/reservations/{id}/release", "ReleaseOrderFunds", func(req *ReleaseFundsRequest, _ *http.Request, p map[string]string) {
			req.ReservationID = p["id"]
		}),

		route(mux, conn, http.MethodPost, "/v1/bots/positions", "ActivateBotPosition", noParams[ActivateBotRequest]),
		route(mux, conn, http.MethodGet, "/v1/bots/positions", "ListBotPositions", func(req *ListBotPositionsRequest, r *http.Request, _ map[string]string) {
			req.AccountID = r.URL.Query().Get("account_id")
		}),
		route(mux, conn, http.MethodPost, "/v1/bots/positions/{id}/profit", "ApplyBotProfit", func(req *ApplyBotProfitRequest, _ *http.Request, p map[string]string) {
			req.PositionID = p["id"]
		}),
		route(mux, conn, http.MethodPost, "/v1/bots/positions/{id}/stop", "StopBotPosition", func(req *StopBotRequest, _ *http.Request, p map[string]string) {
			req.PositionID = p["id"]
		}),

		route(mux, conn, http.MethodPost, "/v1/orders", "PlaceOrder", noParams[PlaceOrderRequest]),
		route(mux, conn, http.MethodGet, "/v1/orders/{id}", "GetOrder", bindOrderID),
		route(mux, conn, http.MethodPost, "/v1/orders/{id}/cancel", "CancelOrder", bindOrderID),
		route(mux, conn, http.MethodPost, "/v1/orders/{id}/modify", "ModifyOrder", func(req *ModifyOrderRequest, _ *http.Request, p map[string]string) {
			req.OrderID = p["id"]
		}),
		route(mux, conn, http.MethodPost, "/v1/orders/{id}/fill", "FillOrder", func(req *FillOrderRequest, _ *http.Request, p map[string]string) {
			req.OrderID = p["id"]
		}),

		route(mux, conn, http.MethodGet, "/v1/pools", "GetPoolWallets", noParams[GetPoolWalletsRequest]),
		route(mux, conn, http.MethodPost, "/v1/pools/{asset}/fund", "FundPool", func(req *FundPoolRequest, _ *http.Request, p map[string]string) {
			req.Asset = p["asset"]
		}),

		route(mux, conn, http.MethodGet, "/v1/admin/integrity", "VerifyIntegrity", noParams[VerifyIntegrityRequest]),
	}
	if err := errors.Join(routes...); err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if checker != nil {
		httpMux.HandleFunc("/healthz", checker.LivenessHandler)
		httpMux.HandleFunc("/readyz", checker.ReadinessHandler)
	}
	if gatherer != nil {
		httpMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func noParams[Req any](*Req, *http.Request, map[string]string) {}

func bindOrderID(req *OrderIDRequest, _ *http.Request, p map[string]string) {
	req.OrderID = p["id"]
}

func queryInt(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

// route registers one HTTP binding for a LedgerService method. The body
// (if any) is decoded strictly, then bind copies path and query parameters
// over it. The reply is relayed as the JSON the service produced.
func route[Req any](mux *runtime.ServeMux, conn grpc.ClientConnInterface, method, pattern, rpc string,
	bind func(req *Req, r *http.Request, params map[string]string)) error {
	fullMethod := FullMethod(rpc)
	return mux.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if method != http.MethodGet {
			dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
			dec.DisallowUnknownFields()
			if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
				writeError(mux, w, r, status.Errorf(codes.InvalidArgument, "malformed request body: %v", err))
				return
			}
		}
		bind(req, r, params)

		var resp json.RawMessage
		if err := conn.Invoke(outgoing(r), fullMethod, req, &resp, CallOption()); err != nil {
			writeError(mux, w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	})
}

// outgoing forwards the caller headers as gRPC metadata.
func outgoing(r *http.Request) context.Context {
	var pairs []string
	for _, key := range []string{auth.HeaderAccountID, auth.HeaderRole} {
		if v := r.Header.Get(key); v != "" {
			pairs = append(pairs, key, v)
		}
	}
	return metadata.AppendToOutgoingContext(r.Context(), pairs...)
}

// writeError renders a gRPC status through the gateway's error handler, so
// HTTP codes and the error body (including ErrorInfo details) follow the
// grpc-gateway conventions.
func writeError(mux *runtime.ServeMux, w http.ResponseWriter, r *http.Request, err error) {
	_, outbound := runtime.MarshalerForRequest(mux, r)
	runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
}
