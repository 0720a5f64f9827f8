package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Asset is an upper-case asset symbol such as "USDT".
type Asset string

const (
	AssetUSDT Asset = "USDT"
	AssetUSDC Asset = "USDC"
	AssetDAI  Asset = "DAI"
	AssetBTC  Asset = "BTC"
	AssetETH  Asset = "ETH"
)

// AssetInfo describes a supported asset.
type AssetInfo struct {
	Symbol   Asset
	Decimals int32 // maximum fractional digits accepted for amounts
	Stable   bool
}

var assetRegistry = map[Asset]AssetInfo{
	AssetUSDT: {Symbol: AssetUSDT, Decimals: 6, Stable: true},
	AssetUSDC: {Symbol: AssetUSDC, Decimals: 6, Stable: true},
	AssetDAI:  {Symbol: AssetDAI, Decimals: 18, Stable: true},
	AssetBTC:  {Symbol: AssetBTC, Decimals: 8},
	AssetETH:  {Symbol: AssetETH, Decimals: 18},
}

// ParseAsset normalizes s and checks it against the registry.
func ParseAsset(s string) (Asset, error) {
	a := Asset(strings.ToUpper(strings.TrimSpace(s)))
	if a == "" {
		return "", Validationf("asset is required")
	}
	if _, ok := assetRegistry[a]; !ok {
		return "", Validationf("unsupported asset %q", s)
	}
	return a, nil
}

// ParseAssets parses a list of symbols, preserving order and dropping duplicates.
func ParseAssets(symbols []string) ([]Asset, error) {
	out := make([]Asset, 0, len(symbols))
	seen := make(map[Asset]bool, len(symbols))
	for _, s := range symbols {
		a, err := ParseAsset(s)
		if err != nil {
			return nil, err
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

func (a Asset) Info() (AssetInfo, bool) {
	info, ok := assetRegistry[a]
	return info, ok
}

func (a Asset) Decimals() int32 {
	return assetRegistry[a].Decimals
}

func (a Asset) Supported() bool {
	_, ok := assetRegistry[a]
	return ok
}

func (a Asset) String() string {
	return string(a)
}

// SupportedAssets returns all registered assets sorted by symbol.
func SupportedAssets() []Asset {
	out := make([]Asset, 0, len(assetRegistry))
	for a := range assetRegistry {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pair is a trading symbol such as BTC/USDT.
type Pair struct {
	Base  Asset
	Quote Asset
}

// ParsePair accepts "BASE/QUOTE" or "BASE-QUOTE".
func ParsePair(s string) (Pair, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return Pair{}, Validationf("malformed symbol %q", s)
	}
	base, err := ParseAsset(parts[0])
	if err != nil {
		return Pair{}, err
	}
	quote, err := ParseAsset(parts[1])
	if err != nil {
		return Pair{}, err
	}
	if base == quote {
		return Pair{}, Validationf("symbol %q has identical base and quote", s)
	}
	return Pair{Base: base, Quote: quote}, nil
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}
