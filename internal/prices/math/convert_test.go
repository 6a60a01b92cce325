package math

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigFromDec(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad literal: " + s)
	}
	return v
}

func TestConvertNativeToToken_RoundsUpToMinimalUnit(t *testing.T) {
	price := TokenPrice{Decimals: 8, PriceInNative: bigFromDec("954400000000000000000")}

	result, err := ConvertNativeToToken(price, big.NewInt(1), true)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), result)
}

func TestConvertNativeToToken_RoundsUpWhenThereIsARemainder(t *testing.T) {
	price := TokenPrice{Decimals: 8, PriceInNative: bigFromDec("954400000000000000000")}

	result, err := ConvertNativeToToken(price, bigFromDec("20000000000000000"), true)
	require.NoError(t, err)
	assert.True(t, result.Sign() > 0)
}

func TestConvertNativeToToken_ZeroPriceIsAnError(t *testing.T) {
	price := TokenPrice{Decimals: 8, PriceInNative: big.NewInt(0)}

	_, err := ConvertNativeToToken(price, big.NewInt(1), false)
	assert.ErrorIs(t, err, ErrZeroPrice)
}

func TestConvertTokenToNative_ZeroPriceYieldsZero(t *testing.T) {
	price := TokenPrice{Decimals: 8, PriceInNative: big.NewInt(0)}

	result := ConvertTokenToNative(price, bigFromDec("100000000000000000"))
	assert.Equal(t, big.NewInt(0), result)
}

func TestConvertRoundTrip_IsApproximatelyConsistent(t *testing.T) {
	price := TokenPrice{Decimals: 8, PriceInNative: bigFromDec("200000000000000000000")}
	amountIn := bigFromDec("100000000000000000")

	token, err := ConvertNativeToToken(price, amountIn, false)
	require.NoError(t, err)

	back := ConvertTokenToNative(price, token)

	diff := new(big.Int).Sub(amountIn, back)
	diff.Abs(diff)
	tolerance := bigFromDec("1000000000000000")
	assert.True(t, diff.Cmp(tolerance) <= 0, "round trip drift too large: %s", diff.String())
}
