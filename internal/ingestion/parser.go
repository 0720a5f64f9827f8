package ingestion

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent decodes an executor report. Amounts travel as JSON strings
// in plain decimal notation; numbers, exponents and NaN are rejected.
// Every error wraps ledger.ErrValidation so the caller can drop the message.
func ParseRawEvent(raw RawEvent) (event.Report, error) {
	switch raw.EventType {
	case "BotProfitReported":
		return parseBotProfit(raw)
	case "OrderFillReported":
		return parseOrderFill(raw)
	default:
		return nil, ledger.Validationf("unknown report type %q", raw.EventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type botProfitJSON struct {
	ReportID   string     `json:"report_id"`
	PositionID string     `json:"position_id"`
	Delta      string     `json:"delta"`
	ReportedAt *time.Time `json:"reported_at"`
}

func parseBotProfit(raw RawEvent) (*event.BotProfitReported, error) {
	var j botProfitJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, ledger.Validationf("parse BotProfitReported: %v", err)
	}

	reportID, err := parseID("report_id", j.ReportID)
	if err != nil {
		return nil, err
	}
	positionID, err := parseID("position_id", j.PositionID)
	if err != nil {
		return nil, err
	}
	delta, err := ledger.ParseSignedAmount(j.Delta)
	if err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}

	return &event.BotProfitReported{
		ReportID:   reportID,
		PositionID: positionID,
		Delta:      delta,
		ReportedAt: reportedAt(j.ReportedAt, raw.Timestamp),
	}, nil
}

type orderFillJSON struct {
	FillID     string     `json:"fill_id"`
	OrderID    string     `json:"order_id"`
	Quantity   string     `json:"quantity"`
	Price      string     `json:"price"`
	ReportedAt *time.Time `json:"reported_at"`
}

func parseOrderFill(raw RawEvent) (*event.OrderFillReported, error) {
	var j orderFillJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, ledger.Validationf("parse OrderFillReported: %v", err)
	}

	fillID, err := parseID("fill_id", j.FillID)
	if err != nil {
		return nil, err
	}
	orderID, err := parseID("order_id", j.OrderID)
	if err != nil {
		return nil, err
	}
	qty, err := ledger.ParseAmount(j.Quantity)
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	price, err := ledger.ParseAmount(j.Price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}

	return &event.OrderFillReported{
		FillID:     fillID,
		OrderID:    orderID,
		Quantity:   qty,
		Price:      price,
		ReportedAt: reportedAt(j.ReportedAt, raw.Timestamp),
	}, nil
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ledger.Validationf("parse %s: %v", field, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, ledger.Validationf("%s is required", field)
	}
	return id, nil
}

func reportedAt(t *time.Time, received time.Time) time.Time {
	if t == nil || t.IsZero() {
		return received.UTC()
	}
	return t.UTC()
}
