// Package relayer owns the set of pre-funded sender accounts this
// service sends transactions from, their balance cache, and the
// signing/sending step of the execution pipeline.
package relayer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/common/messaging"
	"github.com/ChoSanghyuk/paymaster/internal/lock"
	"github.com/ChoSanghyuk/paymaster/internal/metrics"
)

// SubmittedTransaction is published on the pool's bus every time a
// relayer successfully submits a transaction, carrying just enough for
// the transaction-status watcher to poll it and know which relayer to
// quarantine on rejection.
type SubmittedTransaction struct {
	Relayer common.Address
	Hash    common.Hash
}

// Account is one pool member's signing material plus its address.
type Account struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Configuration lists every account the pool manages.
type Configuration struct {
	Accounts []Account
}

// Pool owns the signing keys, a balance cache and a staleness window
// for that cache (BalanceCacheValidity). The lock layer is injected so
// the pool works identically whether running standalone (in-process
// lock) or as part of a fleet (shared Redis lock).
type Pool struct {
	accounts map[common.Address]*ecdsa.PrivateKey
	chain    *chain.Client
	locks    lock.Layer
	bus      *messaging.Bus[SubmittedTransaction]

	balanceMu sync.RWMutex
	balances  map[common.Address]*big.Int
}

const BalanceCacheValidity = 30 * time.Second

func NewPool(cfg Configuration, chainClient *chain.Client, locks lock.Layer) *Pool {
	accounts := make(map[common.Address]*ecdsa.PrivateKey, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts[a.Address] = a.PrivateKey
	}
	return &Pool{
		accounts: accounts,
		chain:    chainClient,
		locks:    locks,
		bus:      messaging.NewBus[SubmittedTransaction]("relayer-submitted-tx"),
		balances: make(map[common.Address]*big.Int),
	}
}

// SubmittedTransactions returns a channel of every transaction a
// relayer successfully sends from this point forward, consumed by the
// transaction-status watcher.
func (p *Pool) SubmittedTransactions() <-chan SubmittedTransaction {
	return p.bus.Subscribe()
}

func (p *Pool) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(p.accounts))
	for a := range p.accounts {
		addrs = append(addrs, a)
	}
	return addrs
}

// LockedRelayer wraps an acquired lock.Relayer with the signing key
// and pool reference needed to sign, send and release it.
type LockedRelayer struct {
	pool       *Pool
	Address    common.Address
	Nonce      uint64
	privateKey *ecdsa.PrivateKey
}

// Acquire locks an available relayer from the underlying lock.Layer.
func (p *Pool) Acquire(ctx context.Context) (*LockedRelayer, error) {
	r, err := p.locks.LockRelayer(ctx)
	if err != nil {
		metrics.RelayerLockAcquisitions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	key, ok := p.accounts[r.Address]
	if !ok {
		metrics.RelayerLockAcquisitions.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("relayer: lock layer returned unknown address %s", r.Address.Hex())
	}

	nonce := r.Nonce
	if nonce == 0 && p.chain != nil {
		// No cached nonce (first use, or the previous holder dropped it
		// after a nonce-mismatch error): fall back to an on-chain read.
		if n, err := p.chain.NonceAt(ctx, r.Address); err == nil {
			nonce = n
		}
	}

	metrics.RelayerLockAcquisitions.WithLabelValues("acquired").Inc()
	return &LockedRelayer{pool: p, Address: r.Address, Nonce: nonce, privateKey: key}, nil
}

// SignAndSend signs tx for this relayer's address and submits it,
// advancing the cached nonce and optimistically decrementing the
// cached balance by the max possible cost on success.
func (r *LockedRelayer) SignAndSend(ctx context.Context, chainID *big.Int, tx *types.Transaction) (common.Hash, error) {
	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, r.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relayer: sign transaction: %w", err)
	}

	if err := r.pool.chain.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, chain.ClassifyError(err)
	}

	r.pool.decrementCachedBalance(r.Address, maxCost(signedTx))

	hash := signedTx.Hash()
	r.pool.bus.Publish(SubmittedTransaction{Relayer: r.Address, Hash: hash})

	return hash, nil
}

// RefreshNonce re-reads this relayer's on-chain nonce and updates the
// cached value in place, without releasing the lock. Used to retry a
// send after a nonce-mismatch error instead of quarantining the
// relayer on the first rejection.
func (r *LockedRelayer) RefreshNonce(ctx context.Context) error {
	nonce, err := r.pool.chain.NonceAt(ctx, r.Address)
	if err != nil {
		return fmt.Errorf("relayer: refresh nonce: %w", err)
	}
	r.Nonce = nonce
	return nil
}

func maxCost(tx *types.Transaction) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
}

// Release releases the relayer, persisting its next nonce. On a nonce
// mismatch the caller should instead call ReleaseAfterNonceError, which
// drops the cached nonce entirely so the next lock re-reads it from
// chain.
func (r *LockedRelayer) Release(ctx context.Context) error {
	return r.pool.locks.ReleaseRelayer(ctx, r.Address, r.Nonce+1)
}

// ReleaseAfterNonceError quarantines the relayer for 20s and forces a
// nonce re-read on its next acquisition, matching the reference
// service's behavior when the chain rejects a transaction for nonce
// mismatch.
func (r *LockedRelayer) ReleaseAfterNonceError(ctx context.Context) error {
	const nonceMismatchQuarantine = 20 * time.Second
	return r.pool.locks.ReleaseRelayerDelayed(ctx, r.Address, 0, nonceMismatchQuarantine)
}

func (p *Pool) decrementCachedBalance(address common.Address, cost *big.Int) {
	p.balanceMu.Lock()
	defer p.balanceMu.Unlock()

	current, ok := p.balances[address]
	if !ok {
		return
	}
	p.balances[address] = new(big.Int).Sub(current, cost)
}

// BalanceOf returns the last cached balance for address, if any is
// present (even if stale) - callers decide their own staleness policy.
func (p *Pool) BalanceOf(address common.Address) (*big.Int, bool) {
	p.balanceMu.RLock()
	defer p.balanceMu.RUnlock()
	b, ok := p.balances[address]
	return b, ok
}

// SetBalance is called by the balance monitor after a fresh on-chain
// read.
func (p *Pool) SetBalance(address common.Address, balance *big.Int) {
	p.balanceMu.Lock()
	defer p.balanceMu.Unlock()
	p.balances[address] = balance
	metrics.RelayerBalance.WithLabelValues(address.Hex()).Set(weiToFloat(balance))
}

func weiToFloat(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	result, _ := f.Float64()
	return result
}

// AccountKey returns the private key registered for address. The
// rebalancing loop uses it for the gas-tank account, which signs funding
// transfers rather than user-requested ones.
func (p *Pool) AccountKey(address common.Address) (*ecdsa.PrivateKey, bool) {
	key, ok := p.accounts[address]
	return key, ok
}
