package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ChoSanghyuk/paymaster/internal/common/fallback"
)

// endpoint wraps a single ethclient.Client, the unit the FailurePredicate
// and fallback wrapper operate on.
type endpoint struct {
	url    string
	client *ethclient.Client
}

// Configuration is the subset of configs.Config needed to dial the
// principal RPC endpoint plus any fallbacks.
type Configuration struct {
	RPCURL         string
	FallbackURLs   []string
	ChainID        *big.Int
}

// Client is the typed facade over one or more RPC endpoints, wrapping
// every call in the circuit-breakered fallback client.
type Client struct {
	endpoints *fallback.WithFallback[*endpoint]
	chainID   *big.Int
}

// isConnectivityFailure decides which errors count against an
// endpoint's breaker. A nonce mismatch (as mapped by ClassifyError) and
// a contract revert are application-level rejections: they are returned
// to the caller as-is and do not trip the breaker. Every other error is
// treated as a health signal.
func isConnectivityFailure(_ *endpoint, err error) bool {
	if errors.Is(err, ErrNonceMismatch) {
		return false
	}
	return !strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// Dial connects to the principal endpoint and every configured fallback,
// returning an error only if the principal cannot be dialed (fallbacks
// that fail to dial are simply dropped from the pool, matching the
// graceful-degrade posture of the rest of this service).
func Dial(ctx context.Context, cfg Configuration) (*Client, error) {
	principal, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial principal endpoint: %w", err)
	}

	wf := fallback.New[*endpoint](isConnectivityFailure).With(&endpoint{url: cfg.RPCURL, client: principal})

	for _, url := range cfg.FallbackURLs {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			continue
		}
		wf = wf.With(&endpoint{url: url, client: c})
	}

	return &Client{endpoints: wf, chainID: cfg.ChainID}, nil
}

func (c *Client) ChainID() *big.Int { return c.chainID }

func (c *Client) NonceAt(ctx context.Context, address common.Address) (uint64, error) {
	var nonce uint64
	err := c.endpoints.CallAll(ctx, func(ctx context.Context, ep *endpoint) error {
		n, err := ep.client.PendingNonceAt(ctx, address)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})
	return nonce, err
}

func (c *Client) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.endpoints.CallAll(ctx, func(ctx context.Context, ep *endpoint) error {
		b, err := ep.client.BalanceAt(ctx, address, nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// EstimateFee runs eth_estimateGas and eth_gasPrice against the chain
// and folds them into a FeeEstimate. The caller is responsible for
// converting OverallFee into the user's chosen gas token.
func (c *Client) EstimateFee(ctx context.Context, msg ethereum.CallMsg) (*FeeEstimate, error) {
	var estimate FeeEstimate

	err := c.endpoints.CallAll(ctx, func(ctx context.Context, ep *endpoint) error {
		gas, err := ep.client.EstimateGas(ctx, msg)
		if err != nil {
			return ClassifyError(err)
		}

		gasPrice, err := ep.client.SuggestGasPrice(ctx)
		if err != nil {
			return ClassifyError(err)
		}

		estimate = FeeEstimate{
			GasConsumed: new(big.Int).SetUint64(gas),
			GasPrice:    gasPrice,
			OverallFee:  new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice),
		}
		return nil
	})

	return &estimate, err
}

// SendTransaction submits a signed transaction through the first
// permitted endpoint.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.endpoints.CallAll(ctx, func(ctx context.Context, ep *endpoint) error {
		return ClassifyError(ep.client.SendTransaction(ctx, tx))
	})
}

// TransactionStatus reports whether a previously submitted hash has
// landed, is still pending, or was rejected.
func (c *Client) TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error) {
	var status TxStatus

	err := c.endpoints.CallAll(ctx, func(ctx context.Context, ep *endpoint) error {
		_, isPending, err := ep.client.TransactionByHash(ctx, hash)
		if err != nil {
			status = TxStatusRejected
			return nil
		}
		if isPending {
			status = TxStatusPending
			return nil
		}

		receipt, err := ep.client.TransactionReceipt(ctx, hash)
		if err != nil {
			status = TxStatusPending
			return nil
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			status = TxStatusAcceptedOnChain
		} else {
			status = TxStatusRejected
		}
		return nil
	})

	return status, err
}

// Call performs an eth_call against the chain, used by the price oracle
// to read on-chain decimals and by diagnostics to re-simulate a failed
// multicall in isolation.
func (c *Client) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var result []byte
	err := c.endpoints.CallAll(ctx, func(ctx context.Context, ep *endpoint) error {
		r, err := ep.client.CallContract(ctx, msg, nil)
		if err != nil {
			return ClassifyError(err)
		}
		result = r
		return nil
	})
	return result, err
}
