package pricing_test

import (
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/pricing"
	"CustodyLedger/internal/testutil"
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenFeed struct{}

func (brokenFeed) Prices(ctx context.Context, assets []ledger.Asset) (map[ledger.Asset]decimal.Decimal, error) {
	return nil, errors.New("feed down")
}

func TestStaticFeed_OnlyKnownAssets(t *testing.T) {
	got, err := pricing.DefaultStaticFeed().Prices(context.Background(), []ledger.Asset{ledger.AssetUSDC, ledger.AssetBTC})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, got[ledger.AssetUSDC].Equal(decimal.NewFromInt(1)))
}

func TestChain_FallsThrough(t *testing.T) {
	ctx := context.Background()
	btc := pricing.StaticFeed{ledger.AssetBTC: testutil.Dec(t, "64000")}
	chain := pricing.Chain{brokenFeed{}, btc, pricing.DefaultStaticFeed()}

	got, err := chain.Prices(ctx, []ledger.Asset{ledger.AssetBTC, ledger.AssetUSDT, ledger.AssetETH})
	require.NoError(t, err)
	assert.True(t, got[ledger.AssetBTC].Equal(testutil.Dec(t, "64000")))
	assert.True(t, got[ledger.AssetUSDT].Equal(decimal.NewFromInt(1)))
	_, ok := got[ledger.AssetETH]
	assert.False(t, ok)

	_, err = pricing.Chain{brokenFeed{}}.Prices(ctx, []ledger.Asset{ledger.AssetBTC})
	assert.Error(t, err)
}

func TestRedisFeed_ReadsPrices(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: testutil.TestRedisAddr()})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("test redis not available: %v", err)
	}

	feed := pricing.NewRedisFeed(rdb, "custody:test:price")
	require.NoError(t, rdb.Set(ctx, feed.Key(ledger.AssetBTC), "65000.25", 0).Err())
	require.NoError(t, rdb.Set(ctx, feed.Key(ledger.AssetETH), "1e3", 0).Err())
	defer rdb.Del(ctx, feed.Key(ledger.AssetBTC), feed.Key(ledger.AssetETH))

	got, err := feed.Prices(ctx, []ledger.Asset{ledger.AssetBTC, ledger.AssetETH, ledger.AssetDAI})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, got[ledger.AssetBTC].Equal(testutil.Dec(t, "65000.25")))
}
