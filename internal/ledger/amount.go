package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a strictly positive decimal from an external payload.
// Only plain decimal notation is accepted; exponents, NaN and Inf are not.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := parseDecimal(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, Validationf("amount must be positive, got %s", raw)
	}
	return d, nil
}

// ParseSignedAmount parses a decimal that may be negative or zero
// (profit deltas).
func ParseSignedAmount(raw string) (decimal.Decimal, error) {
	return parseDecimal(raw)
}

// ParseAssetAmount parses a positive amount and checks it fits the
// asset's precision.
func ParseAssetAmount(asset Asset, raw string) (decimal.Decimal, error) {
	d, err := ParseAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if err := ValidateAmount(asset, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks amount > 0 and precision against asset.
func ValidateAmount(asset Asset, amount decimal.Decimal) error {
	if !asset.Supported() {
		return Validationf("unsupported asset %q", asset)
	}
	if !amount.IsPositive() {
		return Validationf("amount must be positive, got %s", amount.String())
	}
	return ValidatePrecision(asset, amount)
}

// ValidatePrecision checks that d, of any sign, has no more fractional
// digits than asset allows. Values are never rounded.
func ValidatePrecision(asset Asset, d decimal.Decimal) error {
	info, ok := asset.Info()
	if !ok {
		return Validationf("unsupported asset %q", asset)
	}
	if !d.Equal(d.Truncate(info.Decimals)) {
		return Validationf("%s exceeds %d decimals for %s", d.String(), info.Decimals, asset)
	}
	return nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, Validationf("amount is required")
	}
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || strings.Count(digits, ".") > 1 {
		return decimal.Zero, Validationf("malformed amount %q", raw)
	}
	for _, r := range digits {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, Validationf("malformed amount %q", raw)
		}
	}
	if strings.HasPrefix(digits, ".") || strings.HasSuffix(digits, ".") {
		return decimal.Zero, Validationf("malformed amount %q", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Validationf("malformed amount %q", raw)
	}
	return d, nil
}
