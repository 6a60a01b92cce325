// Package swap implements the rebalancing.Swapper the gas-tank
// rebalancing loop uses to convert accumulated non-native token
// balances back into the native gas token, quoting against an
// AVNU-style aggregator and executing through a router contract the
// same way the reference DEX client approves then swaps.
package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
)

var (
	erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	erc20ApproveSelector   = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	// swapExactTokensForNative(uint256 amountIn, uint256 amountOutMin,
	// address tokenIn, address to, uint256 deadline) - the router entry
	// point this provider always targets, since every rebalancing swap
	// converts into the native gas token.
	swapExactTokensForNativeSelector = crypto.Keccak256([]byte("swapExactTokensForNative(uint256,uint256,address,address,uint256)"))[:4]
)

const (
	wordLen = 32
	// quoteDeadline bounds how long a fetched quote is valid before the
	// swap call built from it is considered stale.
	quoteDeadline = 2 * time.Minute
)

// Configuration points the provider at an aggregator's quote endpoint
// and the router contract its swap calls are built against.
type Configuration struct {
	QuoteBaseURL   string
	RouterAddress  common.Address
	Recipient      common.Address // the gas tank: swap proceeds land here
	MaxPriceImpactBps int64
	MinUSDSellAmount  *big.Int
	SlippageBps       int64
	Timeout           time.Duration
}

// Provider quotes and builds swap calls against an AVNU-style
// aggregator. It never signs or sends anything itself - the rebalancing
// loop submits each returned call as its own transaction from the gas
// tank account.
type Provider struct {
	cfg   Configuration
	chain *chain.Client
	http  *http.Client
}

func NewProvider(cfg Configuration, chainClient *chain.Client) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Provider{cfg: cfg, chain: chainClient, http: &http.Client{Timeout: timeout}}
}

type quoteResponse struct {
	SellAmount      string `json:"sellAmount"`
	BuyAmount       string `json:"buyAmount"`
	SellAmountInUSD string `json:"sellAmountInUsd"`
	PriceImpactBps  int64  `json:"priceImpactBps"`
}

// SwapToNative fetches a quote for each token, rejects quotes breaching
// the configured impact/minimum-value guards, and returns an approve
// call followed by a swap call for each accepted token. It does not
// return the expected native proceeds and does not estimate the calls -
// this provider only quotes and encodes.
func (p *Provider) SwapToNative(ctx context.Context, tokens []common.Address) ([]chain.Call, error) {
	var calls []chain.Call

	for _, token := range tokens {
		balance, err := p.tokenBalance(ctx, token)
		if err != nil || balance.Sign() <= 0 {
			continue
		}

		quote, err := p.fetchQuote(ctx, token, balance)
		if err != nil {
			continue
		}
		if quote.PriceImpactBps > p.cfg.MaxPriceImpactBps {
			continue
		}
		sellUSD, ok := new(big.Int).SetString(quote.SellAmountInUSD, 10)
		if !ok || (p.cfg.MinUSDSellAmount != nil && sellUSD.Cmp(p.cfg.MinUSDSellAmount) < 0) {
			continue
		}

		buyAmount, ok := new(big.Int).SetString(quote.BuyAmount, 10)
		if !ok {
			continue
		}
		minReceived := applySlippage(buyAmount, p.cfg.SlippageBps)

		calls = append(calls, p.buildApproveCall(token, balance), p.buildSwapCall(token, balance, minReceived))
	}

	return calls, nil
}

// tokenBalance reads the gas tank's balance of token via a plain
// balanceOf eth_call, the same Call facade the price oracle uses to
// read on-chain decimals.
func (p *Provider) tokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	data := append([]byte{}, erc20BalanceOfSelector...)
	data = append(data, leftPadAddress(p.cfg.Recipient)...)

	result, err := p.chain.Call(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("swap: read balance of %s: %w", token.Hex(), err)
	}
	if len(result) < wordLen {
		return nil, fmt.Errorf("swap: balanceOf(%s) returned a short result", token.Hex())
	}
	return new(big.Int).SetBytes(result[:wordLen]), nil
}

func (p *Provider) fetchQuote(ctx context.Context, token common.Address, sellAmount *big.Int) (quoteResponse, error) {
	url := fmt.Sprintf("%s/quote?sellToken=%s&sellAmount=%s", p.cfg.QuoteBaseURL, token.Hex(), sellAmount.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return quoteResponse{}, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return quoteResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return quoteResponse{}, fmt.Errorf("swap: quote endpoint returned status %d", resp.StatusCode)
	}

	var parsed quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return quoteResponse{}, fmt.Errorf("swap: quote response format: %w", err)
	}

	return parsed, nil
}

// applySlippage reduces amount by slippageBps basis points, the
// minimum the caller is willing to accept back.
func applySlippage(amount *big.Int, slippageBps int64) *big.Int {
	reduced := new(big.Int).Mul(amount, big.NewInt(10_000-slippageBps))
	return reduced.Div(reduced, big.NewInt(10_000))
}

// buildApproveCall matches the reference DEX client's approve-before-
// swap sequencing: the router must be allowed to pull amountIn before
// the swap call can succeed.
func (p *Provider) buildApproveCall(token common.Address, amountIn *big.Int) chain.Call {
	data := append([]byte{}, erc20ApproveSelector...)
	data = append(data, leftPadAddress(p.cfg.RouterAddress)...)
	data = append(data, leftPadAmount(amountIn)...)
	return chain.Call{To: token, Calldata: data, Value: big.NewInt(0)}
}

func (p *Provider) buildSwapCall(token common.Address, amountIn, minReceived *big.Int) chain.Call {
	deadline := big.NewInt(time.Now().Add(quoteDeadline).Unix())

	data := append([]byte{}, swapExactTokensForNativeSelector...)
	data = append(data, leftPadAmount(amountIn)...)
	data = append(data, leftPadAmount(minReceived)...)
	data = append(data, leftPadAddress(token)...)
	data = append(data, leftPadAddress(p.cfg.Recipient)...)
	data = append(data, leftPadAmount(deadline)...)

	return chain.Call{To: p.cfg.RouterAddress, Calldata: data, Value: big.NewInt(0)}
}

func leftPadAddress(addr common.Address) []byte {
	word := make([]byte, wordLen)
	copy(word[wordLen-len(addr.Bytes()):], addr.Bytes())
	return word
}

func leftPadAmount(amount *big.Int) []byte {
	word := make([]byte, wordLen)
	amount.FillBytes(word)
	return word
}
