package pricing

import (
	"errors"
	"fmt"
	"math/big"
)

// NativeDecimals is the fixed-point precision of the native currency's
// smallest unit. Converted reference values use the same precision, so a
// minimum-deposit threshold of 5 reference units is 5 * 10^18.
const NativeDecimals = 18

var errNilSource = errors.New("pricing: price source not configured")

// Converter turns native-currency amounts into reference-currency values
// using a freshly fetched unit price on every call. It holds no state beyond
// its wiring: no cache, no retry, no staleness tracking.
type Converter struct {
	source PriceSource
	base   string
	quote  string
}

// NewConverter wires a converter for the given pair, e.g. ("USD", "ETH"):
// base is the reference currency, quote the native one.
func NewConverter(source PriceSource, base, quote string) *Converter {
	return &Converter{source: source, base: base, quote: quote}
}

// ToReferenceValue converts a native amount (18-decimal base units) into an
// 18-decimal reference-currency value. Supplier failures and non-positive
// prices propagate unchanged.
func (c *Converter) ToReferenceValue(nativeAmount *big.Int) (*big.Int, error) {
	if c == nil || c.source == nil {
		return nil, errNilSource
	}
	if nativeAmount == nil || nativeAmount.Sign() < 0 {
		return nil, fmt.Errorf("pricing: native amount must be non-negative")
	}
	priceQuote, err := c.source.LatestPrice(c.base, c.quote)
	if err != nil {
		return nil, err
	}
	if err := priceQuote.Validate(); err != nil {
		return nil, err
	}
	// value = amount * price / 10^priceDecimals keeps the result at the
	// native 18-decimal precision regardless of the supplier's precision.
	value := new(big.Int).Mul(nativeAmount, priceQuote.Price)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(priceQuote.Decimals)), nil)
	return value.Quo(value, scale), nil
}
