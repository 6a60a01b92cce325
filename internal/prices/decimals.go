package prices

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
)

// ChainDecimalsResolver reads a token's `decimals()` view function on
// chain and caches it forever, since an ERC-20's decimals never change
// once deployed. Grounded on the reference service's DecimalsResolver,
// which resolves the same value via a Starknet `decimals` entry point.
type ChainDecimalsResolver struct {
	client *chain.Client

	mu    sync.RWMutex
	cache map[common.Address]int32
}

func NewChainDecimalsResolver(client *chain.Client) *ChainDecimalsResolver {
	return &ChainDecimalsResolver{client: client, cache: make(map[common.Address]int32)}
}

var decimalsABI = mustParseABI(`[{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}]`)

func mustParseABI(json string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(json))
	if err != nil {
		panic(fmt.Sprintf("prices: invalid embedded ABI: %v", err))
	}
	return parsed
}

func (r *ChainDecimalsResolver) ResolveDecimals(ctx context.Context, token common.Address) (int32, error) {
	r.mu.RLock()
	cached, ok := r.cache[token]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	calldata, err := decimalsABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	result, err := r.client.Call(ctx, ethereum.CallMsg{To: &token, Data: calldata})
	if err != nil {
		return 0, fmt.Errorf("prices: resolve decimals for %s: %w", token.Hex(), err)
	}

	values, err := decimalsABI.Unpack("decimals", result)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("prices: decode decimals response for %s", token.Hex())
	}

	decimals := int32(values[0].(uint8))

	r.mu.Lock()
	r.cache[token] = decimals
	r.mu.Unlock()

	return decimals, nil
}
