package server

import (
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/notify"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request messages carry amounts as strings; they are parsed strictly at
// the service boundary. IDs are strings so a malformed one maps to a
// validation error rather than a codec failure.

// ============================================================================
// Settlements
// ============================================================================

type CreateSettlementRequest struct {
	// AccountID defaults to the caller. Only admins may name another account.
	AccountID string `json:"account_id,omitempty"`
	Kind      string `json:"kind"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type ConfirmSettlementRequest struct {
	RequestID string `json:"request_id"`
}

type DecideSettlementRequest struct {
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}

type GetSettlementRequest struct {
	RequestID string `json:"request_id"`
}

type ListSettlementsRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type ListSettlementsResponse struct {
	Settlements []SettlementView `json:"settlements"`
}

type SettlementView struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Kind            string          `json:"kind"`
	Asset           string          `json:"asset"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	UserConfirmed   bool            `json:"user_confirmed"`
	ReviewerID      *uuid.UUID      `json:"reviewer_id,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func settlementView(r *ledger.SettlementRequest) SettlementView {
	return SettlementView{
		ID:              r.ID,
		AccountID:       r.AccountID,
		Kind:            string(r.Kind),
		Asset:           string(r.Asset),
		Amount:          r.Amount,
		Status:          string(r.Status),
		UserConfirmed:   r.UserConfirmed,
		ReviewerID:      r.ReviewerID,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
		ConfirmedAt:     r.ConfirmedAt,
		ReviewedAt:      r.ReviewedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// ============================================================================
// Wallets and pools
// ============================================================================

type GetWalletsRequest struct {
	AccountID string `json:"account_id,omitempty"`
}

type GetPoolWalletsRequest struct{}

type FundPoolRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type PoolView struct {
	Asset            string          `json:"asset"`
	Balance          decimal.Decimal `json:"balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type PoolWalletsResponse struct {
	Pools []PoolView `json:"pools"`
}

func poolView(p *ledger.PoolWallet) PoolView {
	return PoolView{
		Asset:            string(p.Asset),
		Balance:          p.Balance,
		TotalDeposits:    p.TotalDeposits,
		TotalWithdrawals: p.TotalWithdrawals,
		UpdatedAt:        p.UpdatedAt,
	}
}

// ============================================================================
// Reservations
// ============================================================================

type ReserveFundsRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type ReleaseFundsRequest struct {
	ReservationID string `json:"reservation_id"`
}

type ReservationView struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Purpose     string          `json:"purpose"`
	ReferenceID *uuid.UUID      `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

func reservationView(r *ledger.Reservation) ReservationView {
	return ReservationView{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Asset:       string(r.Asset),
		Amount:      r.Amount,
		Status:      string(r.Status),
		Purpose:     string(r.Purpose),
		ReferenceID: r.ReferenceID,
		CreatedAt:   r.CreatedAt,
		ClosedAt:    r.ClosedAt,
	}
}

// ============================================================================
// Bot positions
// ============================================================================

type ActivateBotRequest struct {
	AccountID string `json:"account_id,omitempty"`
	BotID     string `json:"bot_id"`
	Amount    string `json:"amount"`
}

type ApplyBotProfitRequest struct {
	PositionID string `json:"position_id"`
	Delta      string `json:"delta"`
}

type StopBotRequest struct {
	PositionID string `json:"position_id"`
}

type StopBotResponse struct {
	Position      BotPositionView `json:"position"`
	SettledAmount decimal.Decimal `json:"settled_amount"`
}

type ListBotPositionsRequest struct {
	AccountID string `json:"account_id,omitempty"`
}

type BotPositionsResponse struct {
	Positions []BotPositionView `json:"positions"`
}

type BotPositionView struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	BotID          string          `json:"bot_id"`
	Asset          string          `json:"asset"`
	ReservationID  uuid.UUID       `json:"reservation_id"`
	InvestedAmount decimal.Decimal `json:"invested_amount"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	StoppedAt      *time.Time      `json:"stopped_at,omitempty"`
}

func botView(p *ledger.BotPosition) BotPositionView {
	return BotPositionView{
		ID:             p.ID,
		AccountID:      p.AccountID,
		BotID:          p.BotID,
		Asset:          string(p.Asset),
		ReservationID:  p.ReservationID,
		InvestedAmount: p.InvestedAmount,
		CurrentValue:   p.CurrentValue,
		TotalProfit:    p.TotalProfit,
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
		StoppedAt:      p.StoppedAt,
	}
}

// ============================================================================
// Orders
// ============================================================================

type PlaceOrderRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
}

type OrderIDRequest struct {
	OrderID string `json:"order_id"`
}

type ModifyOrderRequest struct {
	OrderID string  `json:"order_id"`
	Price   *string `json:"price,omitempty"`
	Amount  *string `json:"amount,omitempty"`
}

type FillOrderRequest struct {
	OrderID  string `json:"order_id"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
}

type OrderView struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	FilledAmount  decimal.Decimal `json:"filled_amount"`
	Status        string          `json:"status"`
	ReservationID *uuid.UUID      `json:"reservation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func orderView(o *ledger.Order) OrderView {
	return OrderView{
		ID:            o.ID,
		AccountID:     o.AccountID,
		Symbol:        o.Pair.String(),
		Side:          string(o.Side),
		Type:          string(o.Type),
		Price:         o.Price,
		Amount:        o.Amount,
		FilledAmount:  o.FilledAmount,
		Status:        string(o.Status),
		ReservationID: o.ReservationID,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// ============================================================================
// Activity and admin
// ============================================================================

type GetActivityRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type ActivityResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

type VerifyIntegrityRequest struct{}
