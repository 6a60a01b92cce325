package prices

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pmath "github.com/ChoSanghyuk/paymaster/internal/prices/math"
)

var ethAddress = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

func TestClient_FetchToken_UsesPrincipalWhenHealthy(t *testing.T) {
	principal := &MockProvider{Price: pmath.TokenPrice{Decimals: 18, PriceInNative: big.NewInt(50)}}
	fallback := &MockProvider{Err: errors.New("should not be called")}

	client := NewClient(Configuration{Principal: principal, Fallbacks: []Provider{fallback}})

	price, err := client.FetchToken(context.Background(), ethAddress)
	require.NoError(t, err)
	assert.Equal(t, int32(18), price.Decimals)
}

func TestClient_FetchToken_FallsBackOnPrincipalFailure(t *testing.T) {
	principal := &MockProvider{Err: errors.New("boom")}
	fallback := &MockProvider{Price: pmath.TokenPrice{Decimals: 6, PriceInNative: big.NewInt(10)}}

	client := NewClient(Configuration{Principal: principal, Fallbacks: []Provider{fallback}})

	price, err := client.FetchToken(context.Background(), ethAddress)
	require.NoError(t, err)
	assert.Equal(t, int32(6), price.Decimals)
}

func TestClient_FetchToken_ReturnsErrWhenAllProvidersFail(t *testing.T) {
	principal := &MockProvider{Err: errors.New("boom")}
	fallback := &MockProvider{Err: errors.New("also boom")}

	client := NewClient(Configuration{Principal: principal, Fallbacks: []Provider{fallback}})

	_, err := client.FetchToken(context.Background(), ethAddress)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_FetchTokens_ReturnsPriceForEveryToken(t *testing.T) {
	principal := &MockProvider{Price: pmath.TokenPrice{Decimals: 18, PriceInNative: big.NewInt(50)}}
	client := NewClient(Configuration{Principal: principal})

	other := common.HexToAddress("0x0000000000000000000000000000000000000001")

	results := client.FetchTokens(context.Background(), []common.Address{ethAddress, other})
	assert.Len(t, results, 2)
}
