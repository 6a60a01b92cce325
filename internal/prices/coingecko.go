package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	pmath "github.com/ChoSanghyuk/paymaster/internal/prices/math"
)

// CoingeckoConfiguration points at a market-data API used as a
// fallback price source when the principal DEX-aggregator provider is
// unavailable.
type CoingeckoConfiguration struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Decimals DecimalsResolver
}

// DecimalsResolver looks up an ERC-20 token's decimals, used because
// market-data APIs quote USD prices, not native-token-denominated
// prices with an embedded decimals count.
type DecimalsResolver interface {
	ResolveDecimals(ctx context.Context, token common.Address) (int32, error)
}

type CoingeckoProvider struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	decimals DecimalsResolver
}

func NewCoingeckoProvider(cfg CoingeckoConfiguration) *CoingeckoProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &CoingeckoProvider{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		decimals: cfg.Decimals,
	}
}

type coingeckoResponse map[string]struct {
	NativeToken float64 `json:"native_token"`
}

func (p *CoingeckoProvider) FetchToken(ctx context.Context, token common.Address) (pmath.TokenPrice, error) {
	url := fmt.Sprintf("%s/simple/token_price/contract?contract_addresses=%s&vs_currencies=native_token", p.baseURL, token.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pmath.TokenPrice{}, err
	}
	if p.apiKey != "" {
		req.Header.Set("x-cg-api-key", p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return pmath.TokenPrice{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pmath.TokenPrice{}, fmt.Errorf("prices: coingecko returned status %d", resp.StatusCode)
	}

	var parsed coingeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return pmath.TokenPrice{}, fmt.Errorf("prices: coingecko response format: %w", err)
	}

	entry, ok := parsed[token.Hex()]
	if !ok {
		return pmath.TokenPrice{}, fmt.Errorf("prices: coingecko has no quote for %s", token.Hex())
	}

	decimals, err := p.decimals.ResolveDecimals(ctx, token)
	if err != nil {
		return pmath.TokenPrice{}, err
	}

	scaled := new(big.Float).Mul(big.NewFloat(entry.NativeToken), big.NewFloat(1e18))
	priceInNative, _ := scaled.Int(nil)

	return pmath.TokenPrice{Decimals: decimals, PriceInNative: priceInNative}, nil
}
