package rpcserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/execution"
	"github.com/ChoSanghyuk/paymaster/internal/lock"
	"github.com/ChoSanghyuk/paymaster/internal/sponsoring"
)

const (
	methodBuildTransaction     = "paymaster_buildTransaction"
	methodExecuteTransaction   = "paymaster_executeTransaction"
	methodExecuteRaw           = "paymaster_executeRawTransaction"
	methodGetSupportedTokens   = "paymaster_getSupportedTokens"
	methodIsAvailable          = "paymaster_isAvailable"
	methodGetTransactionStatus = "paymaster_getTransactionStatus"
	methodHealth               = "paymaster_health"
)

// methodsRequiringAvailability lists the methods before which dispatch
// checks that at least one enabled relayer is available. The blacklist
// check on the call list is done afterwards by each of these handlers.
var methodsRequiringAvailability = map[string]bool{
	methodBuildTransaction:   true,
	methodExecuteTransaction: true,
	methodExecuteRaw:         true,
}

func (s *Server) dispatch(ctx context.Context, method string, params []json.RawMessage, apiKey string) (any, error) {
	if methodsRequiringAvailability[method] {
		available, err := s.countEnabledRelayers(ctx)
		if err != nil {
			return nil, err
		}
		if available == 0 {
			return nil, lock.ErrNoRelayerAvailable
		}
	}

	switch method {
	case methodHealth:
		return true, nil
	case methodIsAvailable:
		return s.isAvailable(ctx)
	case methodGetSupportedTokens:
		return s.getSupportedTokens(ctx)
	case methodBuildTransaction:
		return s.buildTransaction(ctx, params, apiKey)
	case methodExecuteTransaction:
		return s.executeTransaction(ctx, params, apiKey)
	case methodExecuteRaw:
		return s.executeRawTransaction(ctx, params, apiKey)
	case methodGetTransactionStatus:
		return s.getTransactionStatus(ctx, params)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (s *Server) countEnabledRelayers(ctx context.Context) (int, error) {
	if s.locks == nil {
		return 1, nil
	}
	return s.locks.CountEnabledRelayers(ctx)
}

func (s *Server) isAvailable(ctx context.Context) (any, error) {
	count, err := s.countEnabledRelayers(ctx)
	if err != nil {
		return nil, err
	}
	return gin.H{"available": count > 0}, nil
}

// tokenInfo is one entry of paymaster_getSupportedTokens: a token the
// service accepts as gas payment, enriched with the decimals and
// native-denominated price a client needs to show a quote up front.
type tokenInfo struct {
	TokenAddress  string `json:"token_address"`
	Decimals      int32  `json:"decimals"`
	PriceInNative string `json:"price_in_native"`
}

// getSupportedTokens fetches every configured token's live price
// concurrently and excludes any token whose price could not be
// resolved or resolved to zero - a zero price can't be quoted against
// and would make every fee estimate in that token divide by zero.
func (s *Server) getSupportedTokens(ctx context.Context) (any, error) {
	priced := s.prices.FetchTokens(ctx, s.cfg.SupportedTokens)

	tokens := make([]tokenInfo, 0, len(s.cfg.SupportedTokens))
	for _, t := range s.cfg.SupportedTokens {
		price, ok := priced[t]
		if !ok || price.PriceInNative == nil || price.PriceInNative.Sign() == 0 {
			continue
		}
		tokens = append(tokens, tokenInfo{
			TokenAddress:  t.Hex(),
			Decimals:      price.Decimals,
			PriceInNative: price.PriceInNative.String(),
		})
	}
	return gin.H{"tokens": tokens}, nil
}

// checkBlacklist rejects an intent whose calls target a blacklisted
// contract address, the per-method precheck run alongside availability
// before either build or execute does any real work.
func (s *Server) checkBlacklist(calls []chain.Call) error {
	for _, c := range calls {
		if s.blacklist[c.To] {
			return fmt.Errorf("%w: %s", execution.ErrBlacklistedCall, c.To.Hex())
		}
	}
	return nil
}

type buildRequest struct {
	Kind       string            `json:"kind"`
	Calls      []callParam       `json:"calls"`
	GasToken   string            `json:"gas_token"`
	UserAddr   string            `json:"user_addr"`
	Deployment *deploymentParam  `json:"deployment"`
}

type callParam struct {
	To       string `json:"to"`
	Calldata string `json:"calldata"`
	Value    string `json:"value"`
}

type deploymentParam struct {
	Factory  string `json:"factory"`
	InitCode string `json:"init_code"`
	Salt     string `json:"salt"`
}

func (s *Server) buildTransaction(ctx context.Context, params []json.RawMessage, apiKey string) (any, error) {
	raw, err := firstParam(params)
	if err != nil {
		return nil, err
	}

	var req buildRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid build_transaction params: %w", err)
	}

	intent, err := toIntent(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlacklist(intent.Calls); err != nil {
		return nil, err
	}

	estimated, err := s.builder.Estimate(ctx, intent)
	if err != nil {
		return nil, err
	}

	versioned := s.builder.ResolveVersion(estimated)
	return versioned, nil
}

type executeRequest struct {
	buildRequest
	MaxFeeInToken string `json:"max_fee_in_token"`
	Deadline      int64  `json:"deadline"`
	Signature     string `json:"signature"`
	Version       int    `json:"version"`
	MessageNonce  uint64 `json:"message_nonce"`
	SponsorAPIKey string `json:"sponsor_api_key"`
}

func (s *Server) executeTransaction(ctx context.Context, params []json.RawMessage, apiKey string) (any, error) {
	raw, err := firstParam(params)
	if err != nil {
		return nil, err
	}

	var req executeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid execute_transaction params: %w", err)
	}

	intent, err := toIntent(req.buildRequest)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlacklist(intent.Calls); err != nil {
		return nil, err
	}

	sponsorKey := req.SponsorAPIKey
	if sponsorKey == "" {
		sponsorKey = apiKey
	}

	var estimated execution.EstimatedExecutableTransaction
	if sponsorKey != "" {
		if _, err := s.sponsors.Validate(ctx, sponsorKey); err != nil {
			return nil, err
		}
		estimated, err = s.executor.PrepareSponsored(ctx, intent)
	} else {
		maxFee, ok := bigIntFromString(req.MaxFeeInToken)
		if !ok {
			return nil, errors.New("max_fee_in_token must be a base-10 integer string")
		}
		sig, sigErr := decodeHex(req.Signature)
		if sigErr != nil {
			return nil, sigErr
		}
		params := execution.ExecutableTransactionParameters{
			Intent: intent,
			Parameters: execution.ExecutionParameters{
				MaxFeeInToken: maxFee,
				FeeToken:      intent.GasToken,
				Deadline:      req.Deadline,
				MessageNonce:  req.MessageNonce,
			},
			Signature: sig,
			Version:   req.Version,
		}
		estimated, err = s.executor.Prepare(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	hash, err := s.executor.Execute(ctx, estimated)
	if err != nil {
		return nil, err
	}

	return gin.H{"transaction_hash": hash.Hex()}, nil
}

func (s *Server) executeRawTransaction(ctx context.Context, params []json.RawMessage, apiKey string) (any, error) {
	raw, err := firstParam(params)
	if err != nil {
		return nil, err
	}

	var req buildRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid execute_raw_transaction params: %w", err)
	}

	calls, err := toCalls(req.Calls)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlacklist(calls); err != nil {
		return nil, err
	}

	gasToken := common.HexToAddress(req.GasToken)

	if _, err := execution.ValidateGasTokenTransfer(calls, gasToken, s.gasTank); err != nil {
		return nil, err
	}

	intent := execution.TransactionIntent{Kind: execution.IntentRawInvoke, Calls: calls, GasToken: gasToken, UserAddr: common.HexToAddress(req.UserAddr)}
	estimated, err := s.executor.PrepareSponsored(ctx, intent)
	if err != nil {
		return nil, err
	}

	hash, err := s.executor.Execute(ctx, estimated)
	if err != nil {
		return nil, err
	}

	return gin.H{"transaction_hash": hash.Hex()}, nil
}

func (s *Server) getTransactionStatus(ctx context.Context, params []json.RawMessage) (any, error) {
	raw, err := firstParam(params)
	if err != nil {
		return nil, err
	}

	var hashHex string
	if err := json.Unmarshal(raw, &hashHex); err != nil {
		return nil, errors.New("get_transaction_status expects a single hex transaction hash string")
	}

	status, err := s.chain.TransactionStatus(ctx, common.HexToHash(hashHex))
	if err != nil {
		return nil, err
	}
	return gin.H{"status": status.String()}, nil
}

func toIntent(req buildRequest) (execution.TransactionIntent, error) {
	parsed, err := toCalls(req.Calls)
	if err != nil {
		return execution.TransactionIntent{}, err
	}

	kind := execution.IntentInvoke
	if req.Kind != "" {
		kind = execution.IntentKind(req.Kind)
	}

	intent := execution.TransactionIntent{
		Kind:     kind,
		Calls:    parsed,
		GasToken: common.HexToAddress(req.GasToken),
		UserAddr: common.HexToAddress(req.UserAddr),
	}

	if req.Deployment != nil {
		initCode, err := decodeHex(req.Deployment.InitCode)
		if err != nil {
			return execution.TransactionIntent{}, err
		}
		intent.Deployment = &execution.DeploymentData{
			Factory:  common.HexToAddress(req.Deployment.Factory),
			InitCode: initCode,
			Salt:     common.HexToHash(req.Deployment.Salt),
		}
	}

	return intent, nil
}

func toCalls(calls []callParam) ([]chain.Call, error) {
	result := make([]chain.Call, 0, len(calls))
	for _, c := range calls {
		data, err := decodeHex(c.Calldata)
		if err != nil {
			return nil, err
		}
		value, ok := bigIntFromString(c.Value)
		if !ok {
			value = nil
		}
		if value == nil {
			value, _ = bigIntFromString("0")
		}
		result = append(result, chain.Call{To: common.HexToAddress(c.To), Calldata: data, Value: value})
	}
	return result, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

// error code mapping ---------------------------------------------------

const (
	codeParseError    = -32700
	codeInvalidParams = -32602
	codeInternal      = -32603

	codeUnsupportedToken   = -32001
	codeMaxFeeTooLow       = -32002
	codeInvalidSignature   = -32003
	codeExpiredDeadline    = -32004
	codeInvalidGasTransfer = -32005
	codeNoRelayerAvailable = -32006
	codeUnauthorized       = -32007
	codeNonceMismatch      = -32008
	codeAlreadySubmitted   = -32009
	codeBlacklistedCall    = -32010
	codeInvalidDeployment  = -32011
)

func codeFor(err error) int {
	switch {
	case errors.Is(err, execution.ErrUnsupportedGasToken):
		return codeUnsupportedToken
	case errors.Is(err, execution.ErrMaxFeeTooLow):
		return codeMaxFeeTooLow
	case errors.Is(err, execution.ErrInvalidSignature):
		return codeInvalidSignature
	case errors.Is(err, execution.ErrExpiredDeadline):
		return codeExpiredDeadline
	case errors.Is(err, execution.ErrInvalidGasTokenTransfer), errors.Is(err, execution.ErrWrongRecipient), errors.Is(err, execution.ErrWrongSelector), errors.Is(err, execution.ErrCalldataTooShort):
		return codeInvalidGasTransfer
	case errors.Is(err, execution.ErrAlreadySubmitted):
		return codeAlreadySubmitted
	case errors.Is(err, execution.ErrBlacklistedCall):
		return codeBlacklistedCall
	case errors.Is(err, execution.ErrInvalidDeploymentData):
		return codeInvalidDeployment
	case errors.Is(err, lock.ErrNoRelayerAvailable):
		return codeNoRelayerAvailable
	case errors.Is(err, sponsoring.ErrInvalidAPIKey):
		return codeUnauthorized
	case errors.Is(err, chain.ErrNonceMismatch):
		return codeNonceMismatch
	default:
		return codeInternal
	}
}
