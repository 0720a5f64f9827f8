package server

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/core"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/query"
	"CustodyLedger/internal/store"
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "custodyledger.v1.LedgerService"

// FullMethod returns the gRPC method path for name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// LedgerService adapts the engine and the query service to RPC messages.
// The caller is always taken from the context; the auth interceptor puts
// it there.
type LedgerService struct {
	engine  *core.Engine
	queries *query.Service
}

func NewLedgerService(engine *core.Engine, queries *query.Service) *LedgerService {
	return &LedgerService{engine: engine, queries: queries}
}

func principal(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Principal{}, ledger.Unauthorizedf("no credentials")
	}
	return p, nil
}

// targetAccount resolves an optional account_id field. Empty means the
// caller; naming another account requires admin.
func targetAccount(p auth.Principal, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return p.AccountID, nil
	}
	id, err := parseID("account_id", raw)
	if err != nil {
		return uuid.Nil, err
	}
	if id != p.AccountID && !p.IsAdmin() {
		return uuid.Nil, ledger.Unauthorizedf("account %s may not act for %s", p.AccountID, id)
	}
	return id, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ledger.Validationf("malformed %s %q", field, raw)
	}
	return id, nil
}

func parseAssetAmount(asset, amount string) (ledger.Asset, decimal.Decimal, error) {
	a, err := ledger.ParseAsset(asset)
	if err != nil {
		return "", decimal.Zero, err
	}
	d, err := ledger.ParseAssetAmount(a, amount)
	if err != nil {
		return "", decimal.Zero, err
	}
	return a, d, nil
}

// ============================================================================
// Settlements
// ============================================================================

func (s *LedgerService) CreateSettlement(ctx context.Context, req *CreateSettlementRequest) (*SettlementView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	account, err := targetAccount(p, req.AccountID)
	if err != nil {
		return nil, err
	}
	kind, err := ledger.ParseSettlementKind(req.Kind)
	if err != nil {
		return nil, err
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	r, err := s.engine.CreateSettlement(ctx, account, kind, asset, amount)
	if err != nil {
		return nil, err
	}
	v := settlementView(r)
	return &v, nil
}

// ConfirmSettlement is the owner's confirmation; there is no admin override.
func (s *LedgerService) ConfirmSettlement(ctx context.Context, req *ConfirmSettlementRequest) (*SettlementView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("request_id", req.RequestID)
	if err != nil {
		return nil, err
	}
	r, err := s.engine.ConfirmSettlement(ctx, id, p.AccountID)
	if err != nil {
		return nil, err
	}
	v := settlementView(r)
	return &v, nil
}

func (s *LedgerService) DecideSettlement(ctx context.Context, req *DecideSettlementRequest) (*SettlementView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("request_id", req.RequestID)
	if err != nil {
		return nil, err
	}
	outcome, err := ledger.ParseOutcome(req.Outcome)
	if err != nil {
		return nil, err
	}
	r, err := s.engine.DecideSettlement(ctx, id, p, outcome, req.Reason)
	if err != nil {
		return nil, err
	}
	v := settlementView(r)
	return &v, nil
}

func (s *LedgerService) GetSettlement(ctx context.Context, req *GetSettlementRequest) (*SettlementView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("request_id", req.RequestID)
	if err != nil {
		return nil, err
	}
	r, err := s.queries.GetSettlement(ctx, p, id)
	if err != nil {
		return nil, err
	}
	v := settlementView(r)
	return &v, nil
}

func (s *LedgerService) ListSettlements(ctx context.Context, req *ListSettlementsRequest) (*ListSettlementsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	filter := store.SettlementFilter{Limit: req.Limit}
	if req.AccountID != "" {
		id, err := parseID("account_id", req.AccountID)
		if err != nil {
			return nil, err
		}
		filter.AccountID = &id
	}
	if req.Status != "" {
		st, err := ledger.ParseSettlementStatus(req.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = &st
	}
	if req.Kind != "" {
		k, err := ledger.ParseSettlementKind(req.Kind)
		if err != nil {
			return nil, err
		}
		filter.Kind = &k
	}

	list, err := s.queries.ListSettlements(ctx, p, filter)
	if err != nil {
		return nil, err
	}
	resp := &ListSettlementsResponse{Settlements: make([]SettlementView, 0, len(list))}
	for i := range list {
		resp.Settlements = append(resp.Settlements, settlementView(&list[i]))
	}
	return resp, nil
}

// ============================================================================
// Wallets and pools
// ============================================================================

func (s *LedgerService) GetWallets(ctx context.Context, req *GetWalletsRequest) (*query.WalletsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	account := p.AccountID
	if req.AccountID != "" {
		if account, err = parseID("account_id", req.AccountID); err != nil {
			return nil, err
		}
	}
	return s.queries.GetWallets(ctx, p, account)
}

func (s *LedgerService) GetPoolWallets(ctx context.Context, _ *GetPoolWalletsRequest) (*PoolWalletsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := s.queries.GetPoolWallets(ctx, p)
	if err != nil {
		return nil, err
	}
	resp := &PoolWalletsResponse{Pools: make([]PoolView, 0, len(pools))}
	for i := range pools {
		resp.Pools = append(resp.Pools, poolView(&pools[i]))
	}
	return resp, nil
}

func (s *LedgerService) FundPool(ctx context.Context, req *FundPoolRequest) (*PoolView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	pool, err := s.engine.FundPool(ctx, p, asset, amount)
	if err != nil {
		return nil, err
	}
	v := poolView(pool)
	return &v, nil
}

// ============================================================================
// Reservations
// ============================================================================

func (s *LedgerService) ReserveOrderFunds(ctx context.Context, req *ReserveFundsRequest) (*ReservationView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	account, err := targetAccount(p, req.AccountID)
	if err != nil {
		return nil, err
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	r, err := s.engine.ReserveOrderFunds(ctx, account, asset, amount)
	if err != nil {
		return nil, err
	}
	v := reservationView(r)
	return &v, nil
}

func (s *LedgerService) ReleaseOrderFunds(ctx context.Context, req *ReleaseFundsRequest) (*ReservationView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("reservation_id", req.ReservationID)
	if err != nil {
		return nil, err
	}
	r, err := s.engine.ReleaseOrderFunds(ctx, p, id)
	if err != nil {
		return nil, err
	}
	v := reservationView(r)
	return &v, nil
}

// ============================================================================
// Bot positions
// ============================================================================

func (s *LedgerService) ActivateBotPosition(ctx context.Context, req *ActivateBotRequest) (*BotPositionView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	account, err := targetAccount(p, req.AccountID)
	if err != nil {
		return nil, err
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	pos, err := s.engine.ActivateBotPosition(ctx, account, req.BotID, amount)
	if err != nil {
		return nil, err
	}
	v := botView(pos)
	return &v, nil
}

// ApplyBotProfit is the executor's manual path for a profit tick; the
// usual path is the inbound report stream.
func (s *LedgerService) ApplyBotProfit(ctx context.Context, req *ApplyBotProfitRequest) (*BotPositionView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	id, err := parseID("position_id", req.PositionID)
	if err != nil {
		return nil, err
	}
	delta, err := ledger.ParseSignedAmount(req.Delta)
	if err != nil {
		return nil, err
	}
	pos, err := s.engine.ApplyBotProfit(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	v := botView(pos)
	return &v, nil
}

func (s *LedgerService) StopBotPosition(ctx context.Context, req *StopBotRequest) (*StopBotResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("position_id", req.PositionID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.StopBotPosition(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return &StopBotResponse{Position: botView(res.Position), SettledAmount: res.SettledAmount}, nil
}

func (s *LedgerService) ListBotPositions(ctx context.Context, req *ListBotPositionsRequest) (*BotPositionsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	account := p.AccountID
	if req.AccountID != "" {
		if account, err = parseID("account_id", req.AccountID); err != nil {
			return nil, err
		}
	}
	list, err := s.queries.ListBotPositions(ctx, p, account)
	if err != nil {
		return nil, err
	}
	resp := &BotPositionsResponse{Positions: make([]BotPositionView, 0, len(list))}
	for i := range list {
		resp.Positions = append(resp.Positions, botView(&list[i]))
	}
	return resp, nil
}

// ============================================================================
// Orders
// ============================================================================

func (s *LedgerService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	account, err := targetAccount(p, req.AccountID)
	if err != nil {
		return nil, err
	}
	pair, err := ledger.ParsePair(req.Symbol)
	if err != nil {
		return nil, err
	}
	side, err := ledger.ParseOrderSide(req.Side)
	if err != nil {
		return nil, err
	}
	typ, err := ledger.ParseOrderType(req.Type)
	if err != nil {
		return nil, err
	}
	price, err := ledger.ParseAmount(req.Price)
	if err != nil {
		return nil, err
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	o, err := s.engine.PlaceOrder(ctx, core.OrderRequest{
		AccountID: account,
		Pair:      pair,
		Side:      side,
		Type:      typ,
		Price:     price,
		Amount:    amount,
	})
	if err != nil {
		return nil, err
	}
	v := orderView(o)
	return &v, nil
}

func (s *LedgerService) CancelOrder(ctx context.Context, req *OrderIDRequest) (*OrderView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("order_id", req.OrderID)
	if err != nil {
		return nil, err
	}
	o, err := s.engine.CancelOrder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	v := orderView(o)
	return &v, nil
}

func (s *LedgerService) ModifyOrder(ctx context.Context, req *ModifyOrderRequest) (*OrderView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("order_id", req.OrderID)
	if err != nil {
		return nil, err
	}
	var change core.OrderChange
	if req.Price != nil {
		price, err := ledger.ParseAmount(*req.Price)
		if err != nil {
			return nil, err
		}
		change.Price = &price
	}
	if req.Amount != nil {
		amount, err := ledger.ParseAmount(*req.Amount)
		if err != nil {
			return nil, err
		}
		change.Amount = &amount
	}
	o, err := s.engine.ModifyOrder(ctx, p, id, change)
	if err != nil {
		return nil, err
	}
	v := orderView(o)
	return &v, nil
}

// FillOrder is the executor's manual fill path; admin only.
func (s *LedgerService) FillOrder(ctx context.Context, req *FillOrderRequest) (*OrderView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	id, err := parseID("order_id", req.OrderID)
	if err != nil {
		return nil, err
	}
	qty, err := ledger.ParseAmount(req.Quantity)
	if err != nil {
		return nil, err
	}
	price, err := ledger.ParseAmount(req.Price)
	if err != nil {
		return nil, err
	}
	o, err := s.engine.FillOrder(ctx, id, qty, price)
	if err != nil {
		return nil, err
	}
	v := orderView(o)
	return &v, nil
}

func (s *LedgerService) GetOrder(ctx context.Context, req *OrderIDRequest) (*OrderView, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("order_id", req.OrderID)
	if err != nil {
		return nil, err
	}
	o, err := s.queries.GetOrder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	v := orderView(o)
	return &v, nil
}

// ============================================================================
// Activity and admin
// ============================================================================

func (s *LedgerService) GetActivity(ctx context.Context, req *GetActivityRequest) (*ActivityResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	account := p.AccountID
	if req.AccountID != "" {
		if account, err = parseID("account_id", req.AccountID); err != nil {
			return nil, err
		}
	}
	list, err := s.queries.RecentActivity(ctx, p, account, req.Limit)
	if err != nil {
		return nil, err
	}
	return &ActivityResponse{Notifications: list}, nil
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	return s.queries.VerifyIntegrity(ctx, p)
}

// ============================================================================
// Service descriptor
// ============================================================================

// unary builds the method descriptor for one LedgerService RPC.
func unary[Req, Resp any](name string, call func(*LedgerService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, in any) (any, error) {
				return call(srv.(*LedgerService), ctx, in.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// ServiceDesc describes LedgerService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateSettlement", (*LedgerService).CreateSettlement),
		unary("ConfirmSettlement", (*LedgerService).ConfirmSettlement),
		unary("DecideSettlement", (*LedgerService).DecideSettlement),
		unary("GetSettlement", (*LedgerService).GetSettlement),
		unary("ListSettlements", (*LedgerService).ListSettlements),
		unary("GetWallets", (*LedgerService).GetWallets),
		unary("GetPoolWallets", (*LedgerService).GetPoolWallets),
		unary("FundPool", (*LedgerService).FundPool),
		unary("ReserveOrderFunds", (*LedgerService).ReserveOrderFunds),
		unary("ReleaseOrderFunds", (*LedgerService).ReleaseOrderFunds),
		unary("ActivateBotPosition", (*LedgerService).ActivateBotPosition),
		unary("ApplyBotProfit", (*LedgerService).ApplyBotProfit),
		unary("StopBotPosition", (*LedgerService).StopBotPosition),
		unary("ListBotPositions", (*LedgerService).ListBotPositions),
		unary("PlaceOrder", (*LedgerService).PlaceOrder),
		unary("CancelOrder", (*LedgerService).CancelOrder),
		unary("ModifyOrder", (*LedgerService).ModifyOrder),
		unary("FillOrder", (*LedgerService).FillOrder),
		unary("GetOrder", (*LedgerService).GetOrder),
		unary("GetActivity", (*LedgerService).GetActivity),
		unary("VerifyIntegrity", (*LedgerService).VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "custodyledger/v1/ledger.json",
}
