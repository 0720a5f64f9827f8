package ingestion_test

import (
	"CustodyLedger/internal/core"
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ingestion"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"CustodyLedger/internal/testutil"
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveries struct {
	acks, naks, terms int
}

func (d *deliveries) raw(eventType, data string) ingestion.RawEvent {
	r := rawReport(eventType, data)
	r.AckFunc = func() { d.acks++ }
	r.NakFunc = func() { d.naks++ }
	r.TermFunc = func() { d.terms++ }
	return r
}

func fillJSON(fillID, orderID uuid.UUID, qty, price string) string {
	return fmt.Sprintf(`{"fill_id": %q, "order_id": %q, "quantity": %q, "price": %q}`,
		fillID, orderID, qty, price)
}

type failingApplier struct{ err error }

func (f failingApplier) ApplyReport(ctx context.Context, r event.Report) error { return f.err }

// ============================================================================
// Processor
// ============================================================================

func TestProcessor_AppliesFillOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := core.NewEngine(s, core.DefaultConfig())
	acct := uuid.New()
	testutil.FundAccount(t, e, acct, ledger.AssetUSDT, "10000")

	o, err := e.PlaceOrder(ctx, core.OrderRequest{
		AccountID: acct,
		Pair:      ledger.Pair{Base: ledger.AssetBTC, Quote: ledger.AssetUSDT},
		Side:      ledger.SideBuy,
		Type:      ledger.OrderLimit,
		Price:     testutil.Dec(t, "20000"),
		Amount:    testutil.Dec(t, "0.4"),
	})
	require.NoError(t, err)

	p := ingestion.NewProcessor(e, core.NewIdempotencyChecker(64, s, nil), nil, zerolog.Nop())
	d := &deliveries{}
	msg := fillJSON(uuid.New(), o.ID, "0.1", "20000")

	assert.Equal(t, ingestion.ResultApplied, p.Handle(ctx, d.raw("OrderFillReported", msg)))
	assert.Equal(t, ingestion.ResultDuplicate, p.Handle(ctx, d.raw("OrderFillReported", msg)))
	assert.Equal(t, 2, d.acks)

	// A fresh process only has the store tier.
	cold := ingestion.NewProcessor(e, core.NewIdempotencyChecker(64, s, nil), nil, zerolog.Nop())
	assert.Equal(t, ingestion.ResultDuplicate, cold.Handle(ctx, d.raw("OrderFillReported", msg)))

	// Without any filter the unit of work still rejects the replay.
	bare := ingestion.NewProcessor(e, nil, nil, zerolog.Nop())
	assert.Equal(t, ingestion.ResultDuplicate, bare.Handle(ctx, d.raw("OrderFillReported", msg)))

	got, err := s.FindOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderPartiallyFilled, got.Status)
	assert.True(t, got.FilledAmount.Equal(testutil.Dec(t, "0.1")))
}

func TestProcessor_DomainRejectIsAcked(t *testing.T) {
	ctx := context.Background()
	e := core.NewEngine(store.NewMemoryStore(), core.DefaultConfig())
	p := ingestion.NewProcessor(e, nil, nil, zerolog.Nop())
	d := &deliveries{}

	res := p.Handle(ctx, d.raw("OrderFillReported", fillJSON(uuid.New(), uuid.New(), "1", "1")))
	assert.Equal(t, ingestion.ResultRejected, res)
	assert.Equal(t, 1, d.acks)
	assert.Zero(t, d.naks)
}

func TestProcessor_RetryableIsNaked(t *testing.T) {
	ctx := context.Background()
	d := &deliveries{}

	conflict := ingestion.NewProcessor(failingApplier{err: ledger.Conflictf("row moved")}, nil, nil, zerolog.Nop())
	assert.Equal(t, ingestion.ResultRetry,
		conflict.Handle(ctx, d.raw("OrderFillReported", fillJSON(uuid.New(), uuid.New(), "1", "1"))))

	internal := ingestion.NewProcessor(failingApplier{err: fmt.Errorf("db down: %w", ledger.ErrInternal)}, nil, nil, zerolog.Nop())
	assert.Equal(t, ingestion.ResultRetry,
		internal.Handle(ctx, d.raw("OrderFillReported", fillJSON(uuid.New(), uuid.New(), "1", "1"))))

	assert.Equal(t, 2, d.naks)
	assert.Zero(t, d.acks)
}

func TestProcessor_UndecodableIsTerminated(t *testing.T) {
	d := &deliveries{}
	p := ingestion.NewProcessor(failingApplier{}, nil, nil, zerolog.Nop())

	res := p.Handle(context.Background(), d.raw("BotProfitReported", `{"delta": 5}`))
	assert.Equal(t, ingestion.ResultInvalid, res)
	assert.Equal(t, 1, d.terms)
}
