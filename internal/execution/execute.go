package execution

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/prices"
	"github.com/ChoSanghyuk/paymaster/internal/relayer"
	"github.com/ChoSanghyuk/paymaster/internal/servicelog"
	"github.com/ChoSanghyuk/paymaster/internal/store"
)

// dedupWindow is the maintainer-specified 30-second window in which a
// resubmitted (user, message nonce) pair is rejected instead of
// re-executed. Entries older than the window are swept lazily on the
// next check rather than on a ticker.
const dedupWindow = 30 * time.Second

// maxNonceRetries bounds how many times Execute will re-read the
// relayer's on-chain nonce and resend after a nonce-mismatch error
// before quarantining the relayer.
const maxNonceRetries = 3

// Executor implements Stage E: re-validates the fee against what the
// user agreed to at build time, appends the fee-transfer call, acquires
// a relayer and submits the resulting transaction.
type Executor struct {
	cfg      BuildConfiguration
	chain    *chain.Client
	prices   *prices.Client
	pool     *relayer.Pool
	recorder store.Recorder
	builder  *Builder

	seenMu sync.Mutex
	seen   map[common.Hash]time.Time
}

func NewExecutor(cfg BuildConfiguration, chainClient *chain.Client, priceClient *prices.Client, pool *relayer.Pool, recorder store.Recorder) *Executor {
	if recorder == nil {
		recorder = store.NoOpRecorder{}
	}
	return &Executor{
		cfg:      cfg,
		chain:    chainClient,
		prices:   priceClient,
		pool:     pool,
		recorder: recorder,
		builder:  NewBuilder(cfg, chainClient, priceClient),
		seen:     make(map[common.Hash]time.Time),
	}
}

// checkDuplicate reports whether id has been seen within the last 30
// seconds, recording it as seen either way. Expired entries are pruned
// opportunistically while the lock is held.
func (e *Executor) checkDuplicate(id common.Hash) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()

	now := time.Now()
	for k, t := range e.seen {
		if now.Sub(t) > dedupWindow {
			delete(e.seen, k)
		}
	}

	if t, ok := e.seen[id]; ok && now.Sub(t) <= dedupWindow {
		return true
	}
	e.seen[id] = now
	return false
}

// Prepare re-estimates the fee live (the build-phase quote may be
// stale by the time the user signs) and appends the fee-transfer call
// to the gas tank, returning the final executable transaction. The
// final transfer target is always the gas tank, never the forwarder -
// the forwarder only relays calls, it never custodies funds.
func (e *Executor) Prepare(ctx context.Context, params ExecutableTransactionParameters) (EstimatedExecutableTransaction, error) {
	if params.Parameters.Deadline > 0 && time.Now().Unix() > params.Parameters.Deadline {
		return EstimatedExecutableTransaction{}, ErrExpiredDeadline
	}

	digest, err := e.builder.TypedDataDigest(params.Intent, params.Parameters.MaxFeeInToken, params.Parameters.MessageNonce, params.Version)
	if err != nil {
		return EstimatedExecutableTransaction{}, fmt.Errorf("execution: rebuild typed data digest: %w", err)
	}
	signer, err := recoverSigner(digest, params.Signature)
	if err != nil {
		return EstimatedExecutableTransaction{}, err
	}
	if signer != params.Intent.UserAddr {
		return EstimatedExecutableTransaction{}, ErrInvalidSignature
	}

	dedupID := ExecutableTransaction{UserAddr: params.Intent.UserAddr, MessageNonce: params.Parameters.MessageNonce}.UniqueIdentifier()
	if e.checkDuplicate(dedupID) {
		return EstimatedExecutableTransaction{}, ErrAlreadySubmitted
	}

	broadcastCalls, err := assembleBroadcastCalls(params.Intent)
	if err != nil {
		return EstimatedExecutableTransaction{}, err
	}

	estimated, err := e.builder.estimateFee(ctx, params.Intent, broadcastCalls)
	if err != nil {
		return EstimatedExecutableTransaction{}, err
	}

	if estimated.SuggestedMaxFee.Cmp(params.Parameters.MaxFeeInToken) > 0 {
		return EstimatedExecutableTransaction{}, ErrMaxFeeTooLow
	}

	feeTransferCall := Call{
		To:       params.Intent.GasToken,
		Calldata: buildTransferCalldata(e.cfg.GasTankAddress, estimated.OverallFeeInToken),
		Value:    big.NewInt(0),
	}

	calls := append(append([]Call{}, broadcastCalls...), feeTransferCall)

	tx := ExecutableTransaction{
		Calls:        calls,
		GasToken:     params.Intent.GasToken,
		UserAddr:     params.Intent.UserAddr,
		MessageNonce: params.Parameters.MessageNonce,
	}

	return EstimatedExecutableTransaction{Transaction: tx, Fee: estimated}, nil
}

// PrepareSponsored builds the executable transaction for a sponsored
// request: no fee-transfer call is appended, since the sponsor's API
// key covers the cost out of band.
func (e *Executor) PrepareSponsored(ctx context.Context, intent TransactionIntent) (EstimatedExecutableTransaction, error) {
	broadcastCalls, err := assembleBroadcastCalls(intent)
	if err != nil {
		return EstimatedExecutableTransaction{}, err
	}

	estimated, err := e.builder.estimateFee(ctx, intent, broadcastCalls)
	if err != nil {
		return EstimatedExecutableTransaction{}, err
	}

	tx := ExecutableTransaction{Calls: broadcastCalls, GasToken: intent.GasToken, UserAddr: intent.UserAddr}
	return EstimatedExecutableTransaction{Transaction: tx, Fee: estimated}, nil
}

func buildTransferCalldata(recipient common.Address, amount *big.Int) []byte {
	data := append([]byte{}, erc20TransferSelector...)
	data = append(data, make([]byte, 12)...)
	data = append(data, recipient.Bytes()...)

	amountWord := make([]byte, wordLen)
	amount.FillBytes(amountWord)
	return append(data, amountWord...)
}

// Execute acquires a relayer, builds the forwarder call, signs and
// submits it, releasing the relayer afterward. A nonce-mismatch error
// from the chain is retried on the same relayer with a freshly read
// nonce, up to maxNonceRetries times; if the last retry also fails, the
// relayer is quarantined instead of released normally.
func (e *Executor) Execute(ctx context.Context, tx EstimatedExecutableTransaction) (common.Hash, error) {
	locked, err := e.pool.Acquire(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("execution: acquire relayer: %w", err)
	}

	calldata, err := encodeMulticall(tx.Transaction.Calls)
	if err != nil {
		_ = locked.Release(ctx)
		return common.Hash{}, fmt.Errorf("execution: encode multicall: %w", err)
	}

	var hash common.Hash
	for attempt := 1; ; attempt++ {
		chainTx, err := e.buildSignableTx(ctx, locked, calldata)
		if err != nil {
			_ = locked.Release(ctx)
			return common.Hash{}, err
		}

		hash, err = locked.SignAndSend(ctx, e.cfg.ChainID, chainTx)
		if err == nil {
			break
		}

		if err != chain.ErrNonceMismatch {
			_ = locked.Release(ctx)
			return common.Hash{}, fmt.Errorf("execution: send transaction: %w", err)
		}

		if attempt > maxNonceRetries {
			_ = locked.ReleaseAfterNonceError(ctx)
			return common.Hash{}, fmt.Errorf("execution: send transaction: %w (after %d nonce retries)", err, attempt-1)
		}

		if err := locked.RefreshNonce(ctx); err != nil {
			_ = locked.ReleaseAfterNonceError(ctx)
			return common.Hash{}, fmt.Errorf("execution: send transaction: %w", err)
		}
		servicelog.Warnf("Executor", "nonce mismatch for relayer %s, retrying (retry %d/%d)", locked.Address.Hex(), attempt, maxNonceRetries)
	}

	if err := locked.Release(ctx); err != nil {
		// The transaction already landed on chain; a release failure
		// here just means the nonce cache is stale, not that the send
		// failed. Surface nothing to the caller.
		_ = err
	}

	if err := e.recorder.Record(ctx, store.ExecutedTransaction{
		TransactionHash: hash,
		RelayerAddress:  locked.Address,
		GasToken:        tx.Transaction.GasToken,
		FeeInToken:      tx.Fee.OverallFeeInToken,
		SubmittedAt:     time.Now(),
		Status:          "submitted",
	}); err != nil {
		servicelog.Warnf("Executor", "audit record write failed, continuing: %v", err)
	}

	return hash, nil
}

func (e *Executor) buildSignableTx(ctx context.Context, locked *relayer.LockedRelayer, calldata []byte) (*types.Transaction, error) {
	msg := ethereum.CallMsg{From: locked.Address, To: &e.cfg.ForwarderAddress, Data: calldata}

	gasEstimate, err := e.chain.EstimateFee(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("execution: estimate final fee: %w", err)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    locked.Nonce,
		To:       &e.cfg.ForwarderAddress,
		Value:    big.NewInt(0),
		Gas:      gasEstimate.GasConsumed.Uint64(),
		GasPrice: gasEstimate.GasPrice,
		Data:     calldata,
	}), nil
}

// encodeMulticall packs every call into the flat byte layout sent to the
// forwarder: a 32-byte call count, then for each call its 20-byte
// target, 32-byte value, 32-byte calldata length and the calldata
// itself. No function selector or ABI offsets are added.
func encodeMulticall(calls []Call) ([]byte, error) {
	var packed []byte
	lenPrefix := make([]byte, 32)
	big.NewInt(int64(len(calls))).FillBytes(lenPrefix)
	packed = append(packed, lenPrefix...)

	for _, c := range calls {
		packed = append(packed, c.To.Bytes()...)
		valueWord := make([]byte, 32)
		c.Value.FillBytes(valueWord)
		packed = append(packed, valueWord...)

		lenWord := make([]byte, 32)
		big.NewInt(int64(len(c.Calldata))).FillBytes(lenWord)
		packed = append(packed, lenWord...)
		packed = append(packed, c.Calldata...)
	}
	return packed, nil
}

// recoverSigner is used by the execute endpoint to validate that the
// signature over the build-phase typed data came from the declared
// user address before any relayer is acquired.
func recoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, ErrInvalidSignature
	}

	pubkey, err := crypto.SigToPub(digest.Bytes(), signature)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
