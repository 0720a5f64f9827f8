package core

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRequest is a new order as submitted by the account owner.
type OrderRequest struct {
	AccountID uuid.UUID
	Pair      ledger.Pair
	Side      ledger.OrderSide
	Type      ledger.OrderType
	Price     decimal.Decimal
	Amount    decimal.Decimal
}

// OrderChange carries the fields ModifyOrder may replace. Nil means keep.
type OrderChange struct {
	Price  *decimal.Decimal
	Amount *decimal.Decimal
}

// OrderDesk keeps each resting order backed by exactly one reservation for
// its unfilled notional: quote for buys, base for sells.
type OrderDesk struct {
	tx           store.Tx
	balances     *BalanceStore
	reservations *ReservationManager
	now          time.Time
	emit         func(event.Event)
}

func NewOrderDesk(tx store.Tx, balances *BalanceStore, reservations *ReservationManager, now time.Time, emit func(event.Event)) *OrderDesk {
	return &OrderDesk{tx: tx, balances: balances, reservations: reservations, now: now, emit: emit}
}

// Place reserves funds for a LIMIT order, or settles a MARKET order at
// the supplied execution price.
func (d *OrderDesk) Place(ctx context.Context, req OrderRequest) (*ledger.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return nil, err
	}

	o := &ledger.Order{
		ID:           uuid.New(),
		AccountID:    req.AccountID,
		Pair:         req.Pair,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		Amount:       req.Amount,
		FilledAmount: decimal.Zero,
		Status:       ledger.OrderOpen,
		CreatedAt:    d.now,
		UpdatedAt:    d.now,
	}

	if o.Type == ledger.OrderMarket {
		if err := d.execute(ctx, o, o.Amount, o.Price); err != nil {
			return nil, err
		}
		o.FilledAmount = o.Amount
		o.Status = ledger.OrderFilled
		if err := d.tx.InsertOrder(ctx, o); err != nil {
			return nil, err
		}
		evt := event.NewOrderEvent(event.EventTypeOrderFilled, o)
		evt.FillQuantity, evt.FillPrice = &o.Amount, &o.Price
		d.emit(evt)
		return o, nil
	}

	if err := d.reserveRemaining(ctx, o); err != nil {
		return nil, err
	}
	if err := d.tx.InsertOrder(ctx, o); err != nil {
		return nil, err
	}

	d.emit(event.NewOrderEvent(event.EventTypeOrderPlaced, o))
	return o, nil
}

// Cancel releases the unfilled notional of an OPEN or PARTIALLY_FILLED order.
func (d *OrderDesk) Cancel(ctx context.Context, actor auth.Principal, orderID uuid.UUID) (*ledger.Order, error) {
	o, err := d.load(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ledger.InvalidStatef("order %s is %s", o.ID, o.Status)
	}

	if o.ReservationID != nil {
		if _, err := d.reservations.Release(ctx, *o.ReservationID); err != nil {
			return nil, err
		}
	}
	o.Status = ledger.OrderCancelled
	o.UpdatedAt = d.now
	if err := d.tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}

	d.emit(event.NewOrderEvent(event.EventTypeOrderCancelled, o))
	return o, nil
}

// Modify swaps the reservation of an OPEN order for one sized to the new
// price and amount. Any failure leaves order and reservation as they were.
func (d *OrderDesk) Modify(ctx context.Context, actor auth.Principal, orderID uuid.UUID, change OrderChange) (*ledger.Order, error) {
	if change.Price == nil && change.Amount == nil {
		return nil, ledger.Validationf("nothing to modify")
	}

	o, err := d.load(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != ledger.OrderOpen {
		return nil, ledger.InvalidStatef("order %s is %s", o.ID, o.Status)
	}

	price, amount := o.Price, o.Amount
	if change.Price != nil {
		price = *change.Price
	}
	if change.Amount != nil {
		amount = *change.Amount
		if err := ledger.ValidateAmount(o.Pair.Base, amount); err != nil {
			return nil, err
		}
	}
	if err := o.Pair.ValidatePrice(price, amount); err != nil {
		return nil, err
	}
	o.Price, o.Amount = price, amount

	if o.ReservationID != nil {
		if _, err := d.reservations.Release(ctx, *o.ReservationID); err != nil {
			return nil, err
		}
	}
	if err := d.reserveRemaining(ctx, o); err != nil {
		return nil, err
	}
	o.UpdatedAt = d.now
	if err := d.tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}

	d.emit(event.NewOrderEvent(event.EventTypeOrderModified, o))
	return o, nil
}

// Fill applies an execution of qty at price against a resting order. The
// current reservation is consumed with the unspent part refunded, the
// acquired asset is credited, and the remainder is reserved again.
func (d *OrderDesk) Fill(ctx context.Context, orderID uuid.UUID, qty, price decimal.Decimal) (*ledger.Order, error) {
	o, err := d.tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != ledger.OrderOpen && o.Status != ledger.OrderPartiallyFilled {
		return nil, ledger.InvalidStatef("order %s is %s", o.ID, o.Status)
	}
	if !qty.IsPositive() || qty.GreaterThan(o.Remaining()) {
		return nil, ledger.Validationf("fill quantity %s outside (0, %s]", qty.String(), o.Remaining().String())
	}
	if err := ledger.ValidateAmount(o.Pair.Base, qty); err != nil {
		return nil, err
	}
	if err := o.Pair.ValidatePrice(price, qty); err != nil {
		return nil, err
	}
	// The remainder stays reserved at the limit price.
	if err := o.Pair.ValidatePrice(o.Price, qty); err != nil {
		return nil, err
	}
	if o.Side == ledger.SideBuy && price.GreaterThan(o.Price) {
		return nil, ledger.Validationf("buy fill at %s above limit %s", price.String(), o.Price.String())
	}
	if o.Side == ledger.SideSell && price.LessThan(o.Price) {
		return nil, ledger.Validationf("sell fill at %s below limit %s", price.String(), o.Price.String())
	}
	if o.ReservationID == nil {
		return nil, fmt.Errorf("%w: resting order %s has no reservation", ledger.ErrInvariantViolation, o.ID)
	}

	r, err := d.tx.GetReservation(ctx, *o.ReservationID)
	if err != nil {
		return nil, err
	}
	spent := o.NotionalFor(qty, price)
	refund := r.Amount.Sub(spent)
	if refund.IsNegative() {
		return nil, fmt.Errorf("%w: fill of order %s spends %s, reservation holds %s",
			ledger.ErrInvariantViolation, o.ID, spent.String(), r.Amount.String())
	}
	if _, err := d.reservations.Consume(ctx, r.ID, refund); err != nil {
		return nil, err
	}

	acquired, receive := qty, o.Pair.Base
	if o.Side == ledger.SideSell {
		acquired, receive = price.Mul(qty), o.Pair.Quote
	}
	market := ledger.NewExternalAccountKey(ledger.SubTypeMarket, receive)
	if err := d.balances.Credit(ctx, o.AccountID, receive, acquired, market, ledger.JournalTypeOrderExecution); err != nil {
		return nil, err
	}

	o.FilledAmount = o.FilledAmount.Add(qty)
	o.ReservationID = nil
	o.Status = ledger.OrderFilled
	if o.Remaining().IsPositive() {
		o.Status = ledger.OrderPartiallyFilled
		if err := d.reserveRemaining(ctx, o); err != nil {
			return nil, err
		}
	}
	o.UpdatedAt = d.now
	if err := d.tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}

	evt := event.NewOrderEvent(event.EventTypeOrderFilled, o)
	evt.FillQuantity, evt.FillPrice = &qty, &price
	d.emit(evt)
	return o, nil
}

// execute settles qty at price immediately against the market.
func (d *OrderDesk) execute(ctx context.Context, o *ledger.Order, qty, price decimal.Decimal) error {
	pay, payAmount := o.Pair.Quote, price.Mul(qty)
	receive, receiveAmount := o.Pair.Base, qty
	if o.Side == ledger.SideSell {
		pay, payAmount, receive, receiveAmount = receive, receiveAmount, pay, payAmount
	}

	err := d.balances.Debit(ctx, o.AccountID, pay, payAmount,
		ledger.NewExternalAccountKey(ledger.SubTypeMarket, pay), ledger.JournalTypeOrderExecution)
	if err != nil {
		return err
	}
	return d.balances.Credit(ctx, o.AccountID, receive, receiveAmount,
		ledger.NewExternalAccountKey(ledger.SubTypeMarket, receive), ledger.JournalTypeOrderExecution)
}

func (d *OrderDesk) reserveRemaining(ctx context.Context, o *ledger.Order) error {
	r, err := d.reservations.Reserve(ctx, o.AccountID, o.ReserveAsset(), o.UnfilledNotional(), ledger.PurposeOrder, &o.ID)
	if err != nil {
		return err
	}
	o.ReservationID = &r.ID
	return nil
}

func (d *OrderDesk) load(ctx context.Context, actor auth.Principal, orderID uuid.UUID) (*ledger.Order, error) {
	o, err := d.tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(o.AccountID) && !actor.IsAdmin() {
		return nil, ledger.Unauthorizedf("order %s belongs to another account", orderID)
	}
	return o, nil
}

func validateOrderRequest(req OrderRequest) error {
	if req.AccountID == uuid.Nil {
		return ledger.Validationf("account id is required")
	}
	if !req.Pair.Base.Supported() || !req.Pair.Quote.Supported() || req.Pair.Base == req.Pair.Quote {
		return ledger.Validationf("unsupported symbol %q", req.Pair.String())
	}
	if req.Side != ledger.SideBuy && req.Side != ledger.SideSell {
		return ledger.Validationf("unknown order side %q", req.Side)
	}
	if req.Type != ledger.OrderLimit && req.Type != ledger.OrderMarket {
		return ledger.Validationf("unknown order type %q", req.Type)
	}
	if err := ledger.ValidateAmount(req.Pair.Base, req.Amount); err != nil {
		return err
	}
	return req.Pair.ValidatePrice(req.Price, req.Amount)
}
