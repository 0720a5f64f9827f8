package server_test

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/core"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/observability"
	"CustodyLedger/internal/pricing"
	"CustodyLedger/internal/query"
	"CustodyLedger/internal/server"
	"CustodyLedger/internal/store"
	"CustodyLedger/internal/testutil"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type harness struct {
	engine   *core.Engine
	store    *store.MemoryStore
	conn     *grpc.ClientConn
	registry *prometheus.Registry
	checker  *observability.HealthChecker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	e := core.NewEngine(s, core.DefaultConfig(), core.WithMetrics(metrics))
	q := query.NewService(s, pricing.DefaultStaticFeed(), nil, metrics, zerolog.Nop())

	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Service: server.NewLedgerService(e, q),
		Logger:  zerolog.Nop(),
	})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(server.CallOption()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
	})

	checker := observability.NewHealthChecker()
	checker.SetReady(true)
	return &harness{engine: e, store: s, conn: conn, registry: reg, checker: checker}
}

func as(p auth.Principal) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(),
		auth.HeaderAccountID, p.AccountID.String(),
		auth.HeaderRole, string(p.Role),
	)
}

func call[Resp any](t *testing.T, h *harness, ctx context.Context, method string, req any) (*Resp, error) {
	t.Helper()
	resp := new(Resp)
	err := h.conn.Invoke(ctx, server.FullMethod(method), req, resp)
	return resp, err
}

func requireReason(t *testing.T, err error, code codes.Code, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, status.Code(err), err.Error())
	assert.Equal(t, reason, server.Reason(err))
}

// ============================================================================
// gRPC: settlement lifecycle
// ============================================================================

func TestGRPC_DepositLifecycle(t *testing.T) {
	h := newHarness(t)
	admin := testutil.Admin()
	user := testutil.User(uuid.New())

	_, err := call[server.PoolView](t, h, as(admin), "FundPool", &server.FundPoolRequest{Asset: "USDT", Amount: "1000"})
	require.NoError(t, err)

	created, err := call[server.SettlementView](t, h, as(user), "CreateSettlement", &server.CreateSettlementRequest{
		Kind: "deposit", Asset: "USDT", Amount: "250.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, user.AccountID, created.AccountID)

	_, err = call[server.SettlementView](t, h, as(user), "ConfirmSettlement", &server.ConfirmSettlementRequest{RequestID: created.ID.String()})
	require.NoError(t, err)

	// Review requires an admin.
	_, err = call[server.SettlementView](t, h, as(user), "DecideSettlement", &server.DecideSettlementRequest{
		RequestID: created.ID.String(), Outcome: "APPROVE",
	})
	requireReason(t, err, codes.PermissionDenied, ledger.CodeUnauthorized)

	queue, err := call[server.ListSettlementsResponse](t, h, as(admin), "ListSettlements", &server.ListSettlementsRequest{Status: "AWAITING_REVIEW"})
	require.NoError(t, err)
	require.Len(t, queue.Settlements, 1)

	decided, err := call[server.SettlementView](t, h, as(admin), "DecideSettlement", &server.DecideSettlementRequest{
		RequestID: created.ID.String(), Outcome: "APPROVE",
	})
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", decided.Status)
	require.NotNil(t, decided.ReviewerID)
	assert.Equal(t, admin.AccountID, *decided.ReviewerID)

	_, err = call[server.SettlementView](t, h, as(admin), "DecideSettlement", &server.DecideSettlementRequest{
		RequestID: created.ID.String(), Outcome: "REJECT",
	})
	requireReason(t, err, codes.AlreadyExists, ledger.CodeAlreadyProcessed)

	wallets, err := call[query.WalletsResponse](t, h, as(user), "GetWallets", &server.GetWalletsRequest{})
	require.NoError(t, err)
	require.Len(t, wallets.Wallets, 1)
	assert.True(t, wallets.Wallets[0].Balance.Equal(testutil.Dec(t, "250.5")))

	pools, err := call[server.PoolWalletsResponse](t, h, as(admin), "GetPoolWallets", &server.GetPoolWalletsRequest{})
	require.NoError(t, err)
	require.Len(t, pools.Pools, 1)
	assert.True(t, pools.Pools[0].Balance.Equal(testutil.Dec(t, "749.5")))
}

// ============================================================================
// gRPC: error mapping
// ============================================================================

func TestGRPC_ErrorMapping(t *testing.T) {
	h := newHarness(t)
	acct := uuid.New()
	user := testutil.User(acct)
	testutil.FundAccount(t, h.engine, acct, ledger.AssetUSDT, "100")

	_, err := call[server.SettlementView](t, h, context.Background(), "CreateSettlement", &server.CreateSettlementRequest{
		Kind: "DEPOSIT", Asset: "USDT", Amount: "1",
	})
	requireReason(t, err, codes.PermissionDenied, ledger.CodeUnauthorized)

	for _, amount := range []string{"1e3", "-5", "0", "NaN", "1.0000001"} {
		_, err = call[server.SettlementView](t, h, as(user), "CreateSettlement", &server.CreateSettlementRequest{
			Kind: "DEPOSIT", Asset: "USDT", Amount: amount,
		})
		requireReason(t, err, codes.InvalidArgument, ledger.CodeValidation)
	}

	_, err = call[server.SettlementView](t, h, as(user), "CreateSettlement", &server.CreateSettlementRequest{
		Kind: "WITHDRAWAL", Asset: "USDT", Amount: "100.01",
	})
	requireReason(t, err, codes.FailedPrecondition, ledger.CodeInsufficientFunds)

	_, err = call[server.SettlementView](t, h, as(user), "GetSettlement", &server.GetSettlementRequest{RequestID: uuid.NewString()})
	requireReason(t, err, codes.NotFound, ledger.CodeNotFound)

	_, err = call[server.ReservationView](t, h, as(user), "ReserveOrderFunds", &server.ReserveFundsRequest{
		AccountID: uuid.NewString(), Asset: "USDT", Amount: "1",
	})
	requireReason(t, err, codes.PermissionDenied, ledger.CodeUnauthorized)

	for _, p := range [][2]string{{"1.000000000001", "0.00000001"}, {"1.5", "0.00000001"}} {
		_, err = call[server.OrderView](t, h, as(user), "PlaceOrder", &server.PlaceOrderRequest{
			Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: p[0], Amount: p[1],
		})
		requireReason(t, err, codes.InvalidArgument, ledger.CodeValidation)
	}
}

// ============================================================================
// gRPC: reservations, bots, orders
// ============================================================================

func TestGRPC_ReservationsBotsOrders(t *testing.T) {
	h := newHarness(t)
	acct := uuid.New()
	user := testutil.User(acct)
	testutil.FundAccount(t, h.engine, acct, ledger.AssetUSDT, "1000")

	res, err := call[server.ReservationView](t, h, as(user), "ReserveOrderFunds", &server.ReserveFundsRequest{Asset: "USDT", Amount: "100"})
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", res.Status)

	released, err := call[server.ReservationView](t, h, as(user), "ReleaseOrderFunds", &server.ReleaseFundsRequest{ReservationID: res.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "RELEASED", released.Status)

	pos, err := call[server.BotPositionView](t, h, as(user), "ActivateBotPosition", &server.ActivateBotRequest{BotID: "grid-1", Amount: "300"})
	require.NoError(t, err)
	assert.Equal(t, "USDT", pos.Asset)

	// Profit ticks come from the executor, not the owner.
	_, err = call[server.BotPositionView](t, h, as(user), "ApplyBotProfit", &server.ApplyBotProfitRequest{PositionID: pos.ID.String(), Delta: "12"})
	requireReason(t, err, codes.PermissionDenied, ledger.CodeUnauthorized)
	_, err = call[server.BotPositionView](t, h, as(testutil.Admin()), "ApplyBotProfit", &server.ApplyBotProfitRequest{PositionID: pos.ID.String(), Delta: "12"})
	require.NoError(t, err)

	stopped, err := call[server.StopBotResponse](t, h, as(user), "StopBotPosition", &server.StopBotRequest{PositionID: pos.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", stopped.Position.Status)
	assert.True(t, stopped.SettledAmount.Equal(testutil.Dec(t, "312")))

	order, err := call[server.OrderView](t, h, as(user), "PlaceOrder", &server.PlaceOrderRequest{
		Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: "100", Amount: "2",
	})
	require.NoError(t, err)
	assert.Equal(t, "OPEN", order.Status)

	price := "150"
	order, err = call[server.OrderView](t, h, as(user), "ModifyOrder", &server.ModifyOrderRequest{OrderID: order.ID.String(), Price: &price})
	require.NoError(t, err)
	assert.True(t, order.Price.Equal(testutil.Dec(t, "150")))

	order, err = call[server.OrderView](t, h, as(user), "CancelOrder", &server.OrderIDRequest{OrderID: order.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", order.Status)

	wallets, err := call[query.WalletsResponse](t, h, as(user), "GetWallets", &server.GetWalletsRequest{})
	require.NoError(t, err)
	var usdt *query.WalletView
	for i := range wallets.Wallets {
		if wallets.Wallets[i].Asset == ledger.AssetUSDT {
			usdt = &wallets.Wallets[i]
		}
	}
	require.NotNil(t, usdt)
	assert.True(t, usdt.Balance.Equal(testutil.Dec(t, "1012")))
	assert.True(t, usdt.LockedBalance.IsZero())

	report, err := call[query.IntegrityReport](t, h, as(testutil.Admin()), "VerifyIntegrity", &server.VerifyIntegrityRequest{})
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
}

func TestGRPC_Health(t *testing.T) {
	h := newHarness(t)
	client := healthpb.NewHealthClient(h.conn)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName},
		grpc.CallContentSubtype("proto"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

// ============================================================================
// HTTP gateway
// ============================================================================

func newGateway(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	handler, err := server.NewGatewayHandler(h.conn, h.checker, h.registry)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, p *auth.Principal, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		req.Header.Set(auth.HeaderAccountID, p.AccountID.String())
		req.Header.Set(auth.HeaderRole, string(p.Role))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestGateway_SettlementFlow(t *testing.T) {
	h := newHarness(t)
	ts := newGateway(t, h)
	admin := testutil.Admin()
	user := testutil.User(uuid.New())

	resp, _ := doJSON(t, ts, &admin, http.MethodPost, "/v1/pools/USDC/fund", `{"amount":"500"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, &user, http.MethodPost, "/v1/settlements", `{"kind":"DEPOSIT","asset":"USDC","amount":"40"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	id := body["id"].(string)
	assert.Equal(t, "40", body["amount"])

	resp, _ = doJSON(t, ts, &user, http.MethodPost, "/v1/settlements/"+id+"/confirm", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, ts, &admin, http.MethodPost, "/v1/settlements/"+id+"/decide", `{"outcome":"APPROVE"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "COMPLETED", body["status"])

	resp, _ = doJSON(t, ts, &admin, http.MethodPost, "/v1/settlements/"+id+"/decide", `{"outcome":"APPROVE"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, ts, &user, http.MethodGet, "/v1/wallets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wallets := body["wallets"].([]any)
	require.Len(t, wallets, 1)
	assert.Equal(t, "40", wallets[0].(map[string]any)["balance"])
}

func TestGateway_Errors(t *testing.T) {
	h := newHarness(t)
	ts := newGateway(t, h)
	user := testutil.User(uuid.New())

	resp, _ := doJSON(t, ts, nil, http.MethodGet, "/v1/wallets", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, ts, &user, http.MethodPost, "/v1/settlements", `{"kind":"DEPOSIT","asset":"USDT","amount":"5","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, ts, &user, http.MethodPost, "/v1/settlements", `{"kind":"DEPOSIT","asset":"USDT","amount":"1E2"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "amount")

	resp, _ = doJSON(t, ts, &user, http.MethodGet, "/v1/pools", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, ts, &user, http.MethodGet, "/v1/orders/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, ts, &user, http.MethodGet, "/v1/orders/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	ts := newGateway(t, h)

	resp, body := doJSON(t, ts, nil, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])

	resp, _ = doJSON(t, ts, nil, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Drive one operation so the metric families exist.
	testutil.FundAccount(t, h.engine, uuid.New(), ledger.AssetUSDT, "1")

	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	raw := new(strings.Builder)
	_, err = io.Copy(raw, res.Body)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "custody_operations_total")
}
