package execution

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/execution/diagnostics"
	"github.com/ChoSanghyuk/paymaster/internal/metrics"
	"github.com/ChoSanghyuk/paymaster/internal/prices"
)

const (
	// ProtocolVersionV1 and ProtocolVersionV2 share the same typed-data
	// field set; the version number is carried in the domain version
	// and the message's version field. Both are accepted on execute;
	// build always quotes the latest version.
	ProtocolVersionV1 = 1
	ProtocolVersionV2 = 2
	latestVersion     = ProtocolVersionV2
)

// BuildConfiguration carries the chain-wide constants the build stage
// needs: which tokens are accepted, how much margin to add on top of
// the chain-measured fee, and where the forwarder contract lives.
type BuildConfiguration struct {
	SupportedTokens    map[common.Address]bool
	ForwarderAddress   common.Address
	GasTankAddress     common.Address
	MaxFeeMultiplier   float64 // e.g. 1.2 == 20% ceiling above the live estimate
	ProviderOverheadBps int64  // basis points added on top of the converted fee
	ChainID            *big.Int
}

// Builder implements Stage B (build) and Stage V (version resolve /
// typed-data construction) of the pipeline.
type Builder struct {
	cfg         BuildConfiguration
	chain       *chain.Client
	prices      *prices.Client
	diagnostics *diagnostics.Registry
}

func NewBuilder(cfg BuildConfiguration, chainClient *chain.Client, priceClient *prices.Client) *Builder {
	return &Builder{cfg: cfg, chain: chainClient, prices: priceClient, diagnostics: diagnostics.DefaultRegistry()}
}

// Estimate runs Stage B: validates the token, estimates the chain fee,
// converts it into the requested gas token and applies the provider
// overhead, producing the fee breakdown shown to the user before they
// sign anything.
func (b *Builder) Estimate(ctx context.Context, intent TransactionIntent) (EstimatedTransaction, error) {
	if !b.cfg.SupportedTokens[intent.GasToken] {
		return EstimatedTransaction{}, ErrUnsupportedGasToken
	}
	if len(intent.Calls) == 0 {
		return EstimatedTransaction{}, ErrNoCalls
	}
	if intent.Kind == IntentDeployAndInvoke && intent.Deployment == nil {
		return EstimatedTransaction{}, ErrInvalidDeploymentData
	}

	broadcastCalls, err := assembleBroadcastCalls(intent)
	if err != nil {
		return EstimatedTransaction{}, err
	}

	fee, err := b.estimateFee(ctx, intent, broadcastCalls)
	if err != nil {
		return EstimatedTransaction{}, err
	}

	nonce, err := randomMessageNonce()
	if err != nil {
		return EstimatedTransaction{}, fmt.Errorf("execution: generate message nonce: %w", err)
	}

	return EstimatedTransaction{Transaction: Transaction{Intent: intent, MessageNonce: nonce}, Fee: fee}, nil
}

// assembleBroadcastCalls turns a tagged TransactionIntent into the
// ordered list of calls that must actually be broadcast on-chain: a
// DeployAndInvoke intent is prefixed with the CREATE2 factory call that
// brings the counterfactual account into existence before anything is
// invoked on it, while Invoke and RawInvoke broadcast their calls
// unchanged.
func assembleBroadcastCalls(intent TransactionIntent) ([]Call, error) {
	switch intent.Kind {
	case IntentDeployAndInvoke:
		if intent.Deployment == nil {
			return nil, ErrInvalidDeploymentData
		}
		accountAddr := crypto.CreateAddress2(intent.Deployment.Factory, intent.Deployment.Salt, crypto.Keccak256(intent.Deployment.InitCode))
		deployCall := Call{To: intent.Deployment.Factory, Calldata: intent.Deployment.InitCode, Value: big.NewInt(0)}
		calls := make([]Call, 0, len(intent.Calls)+1)
		calls = append(calls, deployCall)
		for _, c := range intent.Calls {
			if c.To == (common.Address{}) {
				c.To = accountAddr
			}
			calls = append(calls, c)
		}
		return calls, nil
	case IntentRawInvoke, IntentInvoke, "":
		return intent.Calls, nil
	default:
		return nil, fmt.Errorf("execution: unknown intent kind %q", intent.Kind)
	}
}

func randomMessageNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (b *Builder) estimateFee(ctx context.Context, intent TransactionIntent, broadcastCalls []Call) (FeeEstimate, error) {
	target := broadcastCalls[len(broadcastCalls)-1]
	msg := ethereum.CallMsg{From: b.cfg.ForwarderAddress, To: &target.To, Data: target.Calldata}

	chainFee, err := b.chain.EstimateFee(ctx, msg)
	if err != nil {
		diag := b.diagnostics.Diagnose(intent.Calls, err.Error())
		metrics.DiagnosticsRuns.WithLabelValues(diag.Code).Inc()
		return FeeEstimate{}, fmt.Errorf("execution: estimate chain fee: %w (%s: %s)", err, diag.Code, diag.Message)
	}

	tokenPrice, err := b.prices.FetchToken(ctx, intent.GasToken)
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("execution: fetch gas token price: %w", err)
	}

	overallInToken, err := b.prices.ConvertNativeToToken(tokenPrice, chainFee.OverallFee, true)
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("execution: convert fee to gas token: %w", err)
	}

	overhead := applyBps(overallInToken, b.cfg.ProviderOverheadBps)
	suggestedMax := new(big.Int).Add(overallInToken, overhead)
	suggestedMax = applyMultiplier(suggestedMax, b.cfg.MaxFeeMultiplier)

	return FeeEstimate{
		GasTokenPrice:      tokenPrice.PriceInNative,
		OverallFeeInNative: chainFee.OverallFee,
		OverallFeeInToken:  overallInToken,
		ProviderOverhead:   overhead,
		SuggestedMaxFee:    suggestedMax,
	}, nil
}

func applyBps(amount *big.Int, bps int64) *big.Int {
	result := new(big.Int).Mul(amount, big.NewInt(bps))
	return result.Div(result, big.NewInt(10_000))
}

func applyMultiplier(amount *big.Int, multiplier float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(amount), big.NewFloat(multiplier))
	// Round to the nearest integer so float error in the multiplier
	// (1.2 is stored as 1.19999...) does not drop a unit.
	scaled.Add(scaled, big.NewFloat(0.5))
	result, _ := scaled.Int(nil)
	return result
}

// ResolveVersion implements Stage V: turns an EstimatedTransaction into
// EIP-712 typed data for the client to sign, at the latest protocol
// version.
func (b *Builder) ResolveVersion(estimated EstimatedTransaction) VersionedTransaction {
	typedData := b.toTypedData(estimated.Transaction.Intent, estimated.Fee.SuggestedMaxFee, estimated.Transaction.MessageNonce, latestVersion)
	return VersionedTransaction{TypedData: typedData, Fee: estimated.Fee, Version: latestVersion, MessageNonce: estimated.Transaction.MessageNonce}
}

// toTypedData builds the EIP-712 payload the user signs at build time
// and the payload the execute phase reconstructs to verify that
// signature. It is a pure function of the intent, the agreed max fee,
// the message nonce and the protocol version, so both sides compute
// byte-identical typed data from the same inputs.
func (b *Builder) toTypedData(intent TransactionIntent, maxFee *big.Int, nonce uint64, version int) *apitypes.TypedData {
	calls := make([]any, 0, len(intent.Calls))
	for _, c := range intent.Calls {
		calls = append(calls, map[string]any{
			"to":       c.To.Hex(),
			"calldata": c.Calldata,
			"value":    c.Value.String(),
		})
	}

	message := map[string]any{
		"user":     intent.UserAddr.Hex(),
		"gasToken": intent.GasToken.Hex(),
		"maxFee":   maxFee.String(),
		"calls":    calls,
		"nonce":    fmt.Sprintf("%d", nonce),
		"version":  version,
	}

	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Call": {
				{Name: "to", Type: "address"},
				{Name: "calldata", Type: "bytes"},
				{Name: "value", Type: "uint256"},
			},
			"GaslessTransaction": {
				{Name: "user", Type: "address"},
				{Name: "gasToken", Type: "address"},
				{Name: "maxFee", Type: "uint256"},
				{Name: "calls", Type: "Call[]"},
				{Name: "nonce", Type: "uint256"},
				{Name: "version", Type: "uint256"},
			},
		},
		PrimaryType: "GaslessTransaction",
		Domain: apitypes.TypedDataDomain{
			Name:              "Paymaster",
			Version:           fmt.Sprintf("%d", version),
			ChainId:           (*math.HexOrDecimal256)(b.cfg.ChainID),
			VerifyingContract: b.cfg.ForwarderAddress.Hex(),
		},
		Message: message,
	}
}

// TypedDataDigest reconstructs the EIP-712 digest for intent/maxFee/
// nonce/version exactly as it was signed at build time, so the execute
// phase can recover the signer and reject a mismatched signature
// without trusting a client-supplied typed-data blob.
func (b *Builder) TypedDataDigest(intent TransactionIntent, maxFee *big.Int, nonce uint64, version int) (common.Hash, error) {
	typedData := b.toTypedData(intent, maxFee, nonce, version)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("execution: hash domain separator: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("execution: hash typed message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, domainSeparator...)
	rawData = append(rawData, messageHash...)
	return crypto.Keccak256Hash(rawData), nil
}
