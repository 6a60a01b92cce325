// Package txwatcher implements the transaction-status watcher: it
// subscribes to the relayer pool's submitted-transaction bus and polls
// the chain until each hash resolves, quarantining any relayer whose
// transaction was rejected.
package txwatcher

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/metrics"
	"github.com/ChoSanghyuk/paymaster/internal/relayer"
	"github.com/ChoSanghyuk/paymaster/internal/servicelog"
)

const componentName = "TransactionStatusWatcher"

// DrainInterval is how often pending submissions are drained from the
// bus and polled for a status update.
const DrainInterval = 10 * time.Second

// RejectionQuarantine is how long a relayer is pulled out of rotation
// after one of its transactions is rejected, matching the same
// quarantine window used for a nonce-mismatch error.
const RejectionQuarantine = 20 * time.Second

// ReleaseDelayed is the narrow lock-layer seam this watcher needs: just
// enough to quarantine a relayer by address, without depending on the
// relayer pool's full Acquire/Release lifecycle.
type ReleaseDelayed interface {
	ReleaseRelayerDelayed(ctx context.Context, address common.Address, nonce uint64, delay time.Duration) error
}

// Service watches every transaction a relayer submits until it leaves
// the chain's mempool, one way or another.
type Service struct {
	chain *chain.Client
	pool  *relayer.Pool
	locks ReleaseDelayed

	// watched tracks the most recent hash submitted by each relayer;
	// a newer submission from the same relayer supersedes the old one,
	// matching the reference service's latest-hash-per-relayer map.
	watched map[common.Address]common.Hash
}

func NewService(chainClient *chain.Client, pool *relayer.Pool, locks ReleaseDelayed) *Service {
	return &Service{chain: chainClient, pool: pool, locks: locks, watched: make(map[common.Address]common.Hash)}
}

// Run subscribes to the pool's submission bus and polls every watched
// hash on DrainInterval until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	submissions := s.pool.SubmittedTransactions()
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sub := <-submissions:
			s.watched[sub.Relayer] = sub.Hash
		case <-ticker.C:
			s.drainPending(ctx, submissions)
			s.pollWatched(ctx)
		}
	}
}

// drainPending folds any submissions that arrived since the last tick
// without blocking, so a burst of sends just before the tick fires
// isn't lost to the select's single-receive-per-iteration semantics.
func (s *Service) drainPending(ctx context.Context, submissions <-chan relayer.SubmittedTransaction) {
	for {
		select {
		case sub := <-submissions:
			s.watched[sub.Relayer] = sub.Hash
		default:
			return
		}
	}
}

func (s *Service) pollWatched(ctx context.Context) {
	for addr, hash := range s.watched {
		status, err := s.chain.TransactionStatus(ctx, hash)
		if err != nil {
			servicelog.Warnf(componentName, "poll status for %s: %v", hash.Hex(), err)
			continue
		}

		switch status {
		case chain.TxStatusPending:
			metrics.TransactionStatusPolls.WithLabelValues("pending").Inc()
			continue
		case chain.TxStatusAcceptedOnChain:
			metrics.TransactionStatusPolls.WithLabelValues("accepted").Inc()
			delete(s.watched, addr)
		case chain.TxStatusRejected:
			metrics.TransactionStatusPolls.WithLabelValues("rejected").Inc()
			if err := s.locks.ReleaseRelayerDelayed(ctx, addr, 0, RejectionQuarantine); err != nil {
				servicelog.Warnf(componentName, "quarantine relayer %s after rejection: %v", addr.Hex(), err)
			} else {
				servicelog.Infof(componentName, "quarantined relayer %s after transaction %s was rejected", addr.Hex(), hash.Hex())
			}
			delete(s.watched, addr)
		}
	}
}
