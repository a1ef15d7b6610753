package pricing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func weiUnits(whole int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(NativeDecimals), nil)
	return new(big.Int).Mul(big.NewInt(whole), scale)
}

func TestToReferenceValueWithEightDecimalPrice(t *testing.T) {
	// 2000.00000000 reference units per native unit at 8 decimals.
	source := NewStaticSource(big.NewInt(2000_00000000), 8)
	converter := NewConverter(source, "USD", "ETH")

	value, err := converter.ToReferenceValue(weiUnits(3))
	require.NoError(t, err)
	require.Zero(t, value.Cmp(weiUnits(6000)))
}

func TestToReferenceValueWithEighteenDecimalPrice(t *testing.T) {
	source := NewStaticSource(weiUnits(1500), 18)
	converter := NewConverter(source, "USD", "ETH")

	value, err := converter.ToReferenceValue(weiUnits(2))
	require.NoError(t, err)
	require.Zero(t, value.Cmp(weiUnits(3000)))
}

func TestToReferenceValueFractionalAmount(t *testing.T) {
	// 0.005 native units at a price of 1000 reference units -> 5 reference units.
	source := NewStaticSource(big.NewInt(1000_00000000), 8)
	converter := NewConverter(source, "USD", "ETH")

	amount, err := ParseDecimal("0.005", NativeDecimals)
	require.NoError(t, err)
	value, err := converter.ToReferenceValue(amount)
	require.NoError(t, err)
	require.Zero(t, value.Cmp(weiUnits(5)))
}

func TestToReferenceValueRejectsNonPositivePrice(t *testing.T) {
	source := NewStaticSource(big.NewInt(0), 8)
	converter := NewConverter(source, "USD", "ETH")

	_, err := converter.ToReferenceValue(weiUnits(1))
	require.ErrorIs(t, err, ErrInvalidPrice)
}

func TestToReferenceValueRejectsNegativeAmount(t *testing.T) {
	source := NewStaticSource(big.NewInt(100_00000000), 8)
	converter := NewConverter(source, "USD", "ETH")

	_, err := converter.ToReferenceValue(big.NewInt(-1))
	require.Error(t, err)
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{in: "5", decimals: 18, want: "5000000000000000000"},
		{in: "2153.42", decimals: 8, want: "215342000000"},
		{in: "0.000000000000000001", decimals: 18, want: "1"},
		{in: "-3.5", decimals: 2, want: "-350"},
		{in: "1.234", decimals: 2, wantErr: true},
		{in: "abc", decimals: 8, wantErr: true},
		{in: "", decimals: 8, wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in, tc.decimals)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got.String(), "input %q", tc.in)
	}
}
