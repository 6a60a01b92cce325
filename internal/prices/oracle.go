// Package prices implements the token price oracle: a fallback-wrapped
// set of providers (AVNU-style DEX aggregator, CoinGecko-style market
// data API) exposing a single fetch-token-price call, plus the
// token<->native conversion helpers callers actually need.
package prices

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ChoSanghyuk/paymaster/internal/common/fallback"
	pmath "github.com/ChoSanghyuk/paymaster/internal/prices/math"
)

var ErrUnavailable = errors.New("prices: no provider could supply a quote")

// Provider is implemented by each concrete price source (AVNU,
// Coingecko, or a test mock).
type Provider interface {
	FetchToken(ctx context.Context, token common.Address) (pmath.TokenPrice, error)
}

// Configuration selects the principal provider and an ordered list of
// fallbacks, matching the reference service's PriceConfiguration.
type Configuration struct {
	Principal Provider
	Fallbacks []Provider
}

// Client is the fallback-wrapped facade every other component uses to
// fetch prices and convert amounts.
type Client struct {
	providers *fallback.WithFallback[Provider]
}

func NewClient(cfg Configuration) *Client {
	wf := fallback.New[Provider](nil).With(cfg.Principal)
	for _, f := range cfg.Fallbacks {
		wf = wf.With(f)
	}
	return &Client{providers: wf}
}

func (c *Client) FetchToken(ctx context.Context, token common.Address) (pmath.TokenPrice, error) {
	var price pmath.TokenPrice

	err := c.providers.CallAll(ctx, func(ctx context.Context, p Provider) error {
		result, err := p.FetchToken(ctx, token)
		if err != nil {
			return err
		}
		price = result
		return nil
	})
	if err != nil {
		return pmath.TokenPrice{}, ErrUnavailable
	}
	return price, nil
}

// FetchTokens concurrently resolves prices for every address in tokens,
// bounded to 8 in-flight lookups at a time, matching the reference
// service's ConcurrentExecutor(8) fan-out.
func (c *Client) FetchTokens(ctx context.Context, tokens []common.Address) map[common.Address]pmath.TokenPrice {
	const maxConcurrency = 8

	results := make(map[common.Address]pmath.TokenPrice)
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, token := range tokens {
		token := token
		g.Go(func() error {
			price, err := c.FetchToken(gctx, token)
			if err != nil {
				return nil
			}
			resultsMu.Lock()
			results[token] = price
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Client) ConvertTokenToNative(price pmath.TokenPrice, amount *big.Int) *big.Int {
	return pmath.ConvertTokenToNative(price, amount)
}

func (c *Client) ConvertNativeToToken(price pmath.TokenPrice, amount *big.Int, roundUp bool) (*big.Int, error) {
	return pmath.ConvertNativeToToken(price, amount, roundUp)
}
