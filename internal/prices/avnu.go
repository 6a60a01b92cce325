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

// AVNUConfiguration points at a DEX-aggregator-style price endpoint,
// grounded on the reference service's AVNU price provider.
type AVNUConfiguration struct {
	BaseURL string
	Timeout time.Duration
}

type AVNUProvider struct {
	baseURL string
	http    *http.Client
}

func NewAVNUProvider(cfg AVNUConfiguration) *AVNUProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &AVNUProvider{baseURL: cfg.BaseURL, http: &http.Client{Timeout: timeout}}
}

type avnuPriceResponse struct {
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
	Price    string `json:"priceInNative"`
}

func (p *AVNUProvider) FetchToken(ctx context.Context, token common.Address) (pmath.TokenPrice, error) {
	url := fmt.Sprintf("%s/tokens/%s/price", p.baseURL, token.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pmath.TokenPrice{}, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return pmath.TokenPrice{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pmath.TokenPrice{}, fmt.Errorf("prices: avnu returned status %d", resp.StatusCode)
	}

	var parsed avnuPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return pmath.TokenPrice{}, fmt.Errorf("prices: avnu response format: %w", err)
	}

	price, ok := new(big.Int).SetString(parsed.Price, 10)
	if !ok {
		return pmath.TokenPrice{}, fmt.Errorf("prices: avnu returned invalid price %q", parsed.Price)
	}

	return pmath.TokenPrice{Decimals: parsed.Decimals, PriceInNative: price}, nil
}
