// Package pricing supplies display-only asset valuations. Prices never
// feed settlement math.
package pricing

import (
	"CustodyLedger/internal/ledger"
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Feed returns the quote-currency price of each asset it knows.
// Assets it has no price for are absent from the result.
type Feed interface {
	Prices(ctx context.Context, assets []ledger.Asset) (map[ledger.Asset]decimal.Decimal, error)
}

// StaticFeed serves a fixed price table.
type StaticFeed map[ledger.Asset]decimal.Decimal

// DefaultStaticFeed prices the stablecoins at par.
func DefaultStaticFeed() StaticFeed {
	one := decimal.NewFromInt(1)
	return StaticFeed{
		ledger.AssetUSDT: one,
		ledger.AssetUSDC: one,
		ledger.AssetDAI:  one,
	}
}

func (f StaticFeed) Prices(ctx context.Context, assets []ledger.Asset) (map[ledger.Asset]decimal.Decimal, error) {
	out := make(map[ledger.Asset]decimal.Decimal, len(assets))
	for _, a := range assets {
		if p, ok := f[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

// RedisFeed reads prices written by a market-data service under
// {prefix}:{ASSET} as plain decimal strings.
type RedisFeed struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisFeed(rdb *redis.Client, prefix string) *RedisFeed {
	return &RedisFeed{rdb: rdb, prefix: prefix}
}

func (f *RedisFeed) Key(asset ledger.Asset) string {
	return fmt.Sprintf("%s:%s", f.prefix, asset)
}

func (f *RedisFeed) Prices(ctx context.Context, assets []ledger.Asset) (map[ledger.Asset]decimal.Decimal, error) {
	out := make(map[ledger.Asset]decimal.Decimal, len(assets))
	if len(assets) == 0 {
		return out, nil
	}

	keys := make([]string, len(assets))
	for i, a := range assets {
		keys[i] = f.Key(a)
	}
	vals, err := f.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget prices: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		// A malformed price is treated as missing rather than failing the read.
		p, err := ledger.ParseAmount(s)
		if err != nil {
			continue
		}
		out[assets[i]] = p
	}
	return out, nil
}

// Chain asks each feed in turn for the assets still missing.
type Chain []Feed

func (c Chain) Prices(ctx context.Context, assets []ledger.Asset) (map[ledger.Asset]decimal.Decimal, error) {
	out := make(map[ledger.Asset]decimal.Decimal, len(assets))
	missing := assets
	var firstErr error
	for _, f := range c {
		if len(missing) == 0 {
			break
		}
		got, err := f.Prices(ctx, missing)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		next := missing[:0:0]
		for _, a := range missing {
			if p, ok := got[a]; ok {
				out[a] = p
			} else {
				next = append(next, a)
			}
		}
		missing = next
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
