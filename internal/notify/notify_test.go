package notify_test

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/notify"
	"CustodyLedger/internal/observability"
	"CustodyLedger/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu   sync.Mutex
	got  []notify.Notification
	fail bool
}

func (s *memorySink) Deliver(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.got = append(s.got, n)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func reserved(account uuid.UUID) *event.ReservationEvent {
	return &event.ReservationEvent{
		Type:          event.EventTypeFundsReserved,
		ReservationID: uuid.New(),
		Account:       account,
		Asset:         "USDT",
		Amount:        decimal.NewFromInt(10),
		Status:        "ACTIVE",
	}
}

// ============================================================================
// Dispatcher
// ============================================================================

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	a, b := &memorySink{}, &memorySink{fail: true}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := notify.NewDispatcher(8, metrics, zerolog.Nop(), a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	account := uuid.New()
	d.Notify(reserved(account))

	require.Eventually(t, func() bool { return a.count() == 1 }, time.Second, 5*time.Millisecond)
	n := a.got[0]
	assert.Equal(t, "FundsReserved", n.EventType)
	assert.Equal(t, account, n.AccountID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(n.Data, &payload))
	assert.Equal(t, "10", payload["amount"])
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &memorySink{}
	d := notify.NewDispatcher(2, nil, zerolog.Nop(), sink)

	// Nothing is draining, so the third notification is dropped.
	for i := 0; i < 3; i++ {
		d.Notify(reserved(uuid.New()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)
	assert.Equal(t, 2, sink.count())
}

// ============================================================================
// ActivityFeed
// ============================================================================

func TestActivityFeed_KeepsNewestPerAccount(t *testing.T) {
	ctx := context.Background()
	feed := notify.NewActivityFeed(2)
	account := uuid.New()

	for _, typ := range []string{"A", "B", "C"} {
		require.NoError(t, feed.Deliver(ctx, notify.Notification{EventType: typ, AccountID: account}))
	}
	require.NoError(t, feed.Deliver(ctx, notify.Notification{EventType: "S", AccountID: uuid.Nil}))

	got := feed.QueryByAccount(account, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].EventType)
	assert.Equal(t, "B", got[1].EventType)

	assert.Len(t, feed.QueryByAccount(account, 1), 1)
	assert.Empty(t, feed.QueryByAccount(uuid.New(), 10))
}

// ============================================================================
// RedisNotifier (integration)
// ============================================================================

func TestRedisNotifier_Channel(t *testing.T) {
	r := notify.NewRedisNotifier(nil, "custody:notifications")
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "custody:notifications:550e8400-e29b-41d4-a716-446655440000", r.Channel(id))
	assert.Equal(t, "custody:notifications:system", r.Channel(uuid.Nil))
}

func TestRedisNotifier_Publishes(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: testutil.TestRedisAddr()})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("test redis not available: %v", err)
	}

	r := notify.NewRedisNotifier(rdb, "custody:test")
	account := uuid.New()
	sub := rdb.Subscribe(ctx, r.Channel(account))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Deliver(ctx, notify.Notification{EventType: "FundsReserved", AccountID: account}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var n notify.Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, "FundsReserved", n.EventType)
}
