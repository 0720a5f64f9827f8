package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

func ParseOrderSide(s string) (OrderSide, error) {
	switch v := strings.ToUpper(strings.TrimSpace(s)); v {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	}
	return "", Validationf("unknown order side %q", s)
}

type OrderType string

const (
	OrderLimit  OrderType = "LIMIT"
	OrderMarket OrderType = "MARKET"
)

func ParseOrderType(s string) (OrderType, error) {
	switch t := OrderType(strings.ToUpper(strings.TrimSpace(s))); t {
	case OrderLimit, OrderMarket:
		return t, nil
	}
	return "", Validationf("unknown order type %q", s)
}

type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Order is a reservation record for a resting or executed order.
// A resting order holds one reservation for its unfilled notional.
type Order struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Pair          Pair
	Side          OrderSide
	Type          OrderType
	Price         decimal.Decimal
	Amount        decimal.Decimal
	FilledAmount  decimal.Decimal
	Status        OrderStatus
	ReservationID *uuid.UUID
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining returns the unfilled base amount.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

// ReserveAsset is the asset a resting order locks: quote for buys, base for sells.
func (o *Order) ReserveAsset() Asset {
	if o.Side == SideBuy {
		return o.Pair.Quote
	}
	return o.Pair.Base
}

// NotionalFor returns how much of ReserveAsset backs qty base units at price.
func (o *Order) NotionalFor(qty, price decimal.Decimal) decimal.Decimal {
	if o.Side == SideBuy {
		return price.Mul(qty)
	}
	return qty
}

// ValidatePrice checks a price quoted in p.Quote: positive, within the
// quote asset's decimals, and such that price × qty settles exactly in
// the quote asset.
func (p Pair) ValidatePrice(price, qty decimal.Decimal) error {
	if !price.IsPositive() {
		return Validationf("price must be positive, got %s", price.String())
	}
	if err := ValidatePrecision(p.Quote, price); err != nil {
		return Validationf("price %s exceeds %d decimals for %s", price.String(), p.Quote.Decimals(), p)
	}
	if err := ValidatePrecision(p.Quote, price.Mul(qty)); err != nil {
		return Validationf("notional %s × %s exceeds %d decimals for %s",
			price.String(), qty.String(), p.Quote.Decimals(), p.Quote)
	}
	return nil
}

// UnfilledNotional is the reservation size for the unfilled remainder.
func (o *Order) UnfilledNotional() decimal.Decimal {
	return o.NotionalFor(o.Remaining(), o.Price)
}

func (o *Order) Clone() *Order {
	c := *o
	if o.ReservationID != nil {
		v := *o.ReservationID
		c.ReservationID = &v
	}
	return &c
}
