// Package math implements the fixed-point token <-> native-gas-token
// conversion used by the price oracle, replacing the reference
// service's bigdecimal arithmetic with shopspring/decimal.
package math

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrZeroPrice = errors.New("math: token price is zero")

// TokenPrice is the quote the price oracle returns for one ERC-20 token:
// its decimals and its price expressed in the native gas token, scaled
// by 1e18 (matching the reference service's STRK-denominated price).
type TokenPrice struct {
	Decimals    int32
	PriceInNative *big.Int
}

const priceScale = 18

// ConvertTokenToNative converts an amount denominated in the token's own
// decimals into an equivalent native-gas-token amount (18 decimals).
func ConvertTokenToNative(price TokenPrice, amount *big.Int) *big.Int {
	amountScaled := decimal.NewFromBigInt(amount, -price.Decimals)
	priceScaled := decimal.NewFromBigInt(price.PriceInNative, 0)

	result := amountScaled.Mul(priceScaled)
	return result.BigInt()
}

// ConvertNativeToToken converts a native-gas-token amount into the
// token's own decimals, at the given price. roundUp rounds the result up
// to the smallest non-zero unit instead of truncating, used when quoting
// what the *user* must pay so the service is never short-charged.
func ConvertNativeToToken(price TokenPrice, amount *big.Int, roundUp bool) (*big.Int, error) {
	if price.PriceInNative.Sign() == 0 {
		return nil, ErrZeroPrice
	}

	amountScaled := decimal.NewFromBigInt(amount, -priceScale)
	priceScaled := decimal.NewFromBigInt(price.PriceInNative, -priceScale)

	amountInToken := amountScaled.Div(priceScaled).Mul(decimal.New(1, price.Decimals))

	if roundUp {
		rounded := amountInToken.Truncate(0)
		if amountInToken.GreaterThan(rounded) {
			rounded = rounded.Add(decimal.NewFromInt(1))
		}
		return rounded.BigInt(), nil
	}

	return amountInToken.Truncate(0).BigInt(), nil
}
