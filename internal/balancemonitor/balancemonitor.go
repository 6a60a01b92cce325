// Package balancemonitor implements the background loop that keeps the
// relayer pool's balance cache fresh and disables any relayer whose
// on-chain balance has fallen below the configured floor.
package balancemonitor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/lock"
	"github.com/ChoSanghyuk/paymaster/internal/relayer"
	"github.com/ChoSanghyuk/paymaster/internal/servicelog"
)

const componentName = "BalanceMonitor"

// Interval is how often every relayer's balance is re-read from chain.
const Interval = 60 * time.Second

// maxConcurrency bounds the number of in-flight balance_of calls, the
// same fan-out width the price oracle uses for its own concurrent
// lookups.
const maxConcurrency = 8

// Configuration lists the address set this monitor watches and the
// floor below which a relayer is pulled out of rotation.
type Configuration struct {
	Addresses         []common.Address
	MinRelayerBalance *big.Int
}

// Service polls every configured relayer's native balance on a fixed
// interval, refreshes the pool's cache, and pushes the recomputed
// enabled set to the lock layer.
type Service struct {
	cfg   Configuration
	chain *chain.Client
	pool  *relayer.Pool
	locks lock.Layer
}

func NewService(cfg Configuration, chainClient *chain.Client, pool *relayer.Pool, locks lock.Layer) *Service {
	return &Service{cfg: cfg, chain: chainClient, pool: pool, locks: locks}
}

// Run loops forever on Interval until ctx is canceled; a failed round
// is logged and retried on the next tick rather than propagated.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	balances := s.fetchBalances(ctx)

	for addr, balance := range balances {
		s.pool.SetBalance(addr, balance)
	}

	enabled := partitionEnabled(balances, s.cfg.MinRelayerBalance)

	if err := s.locks.SetEnabledRelayers(ctx, enabled); err != nil {
		servicelog.Warnf(componentName, "push enabled relayer set: %v", err)
		return
	}
	servicelog.Infof(componentName, "%d of %d relayers enabled", len(enabled), len(s.cfg.Addresses))
}

// partitionEnabled returns the addresses whose balance exceeds the
// floor, the set the lock layer is allowed to hand out next.
func partitionEnabled(balances map[common.Address]*big.Int, minRelayerBalance *big.Int) []common.Address {
	enabled := make([]common.Address, 0, len(balances))
	for addr, balance := range balances {
		if balance.Cmp(minRelayerBalance) > 0 {
			enabled = append(enabled, addr)
		}
	}
	return enabled
}

// fetchBalances reads every configured relayer's balance concurrently,
// bounded to maxConcurrency in flight. A relayer whose balance read
// fails is simply omitted from the result rather than failing the
// whole round.
func (s *Service) fetchBalances(ctx context.Context) map[common.Address]*big.Int {
	results := make(map[common.Address]*big.Int)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, addr := range s.cfg.Addresses {
		addr := addr
		g.Go(func() error {
			balance, err := s.chain.BalanceAt(gctx, addr)
			if err != nil {
				servicelog.Warnf(componentName, "fetch balance for %s: %v", addr.Hex(), err)
				return nil
			}
			mu.Lock()
			results[addr] = balance
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
