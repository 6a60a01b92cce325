// Package lock defines the pluggable mutual-exclusion layer over the
// relayer account set. Two backends are provided: an in-process
// implementation for a single instance of this service, and a
// Redis-backed implementation for a fleet of instances sharing one
// relayer pool.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNoRelayerAvailable = errors.New("lock: no relayer currently available")

const (
	// LockValidity bounds how long a lock is held before it is
	// considered abandoned by a crashed holder and eligible for reuse.
	LockValidity = 60 * time.Second
	// Cooldown is the minimum time a relayer stays unavailable right
	// after being locked, even once released, to let its nonce settle
	// on chain before another caller picks it up.
	Cooldown = 5 * time.Second
)

// Relayer is a pool member as seen by the lock layer: its address and
// the last nonce this service used to send on its behalf.
type Relayer struct {
	Address common.Address
	Nonce   uint64
}

// Layer is the interface both backends satisfy. Every method is
// instrumented by the caller (relayer pool) with the same metric names
// the reference service uses, so the interface stays free of that
// concern.
type Layer interface {
	// CountEnabledRelayers reports how many relayer addresses are
	// currently eligible to be locked (enabled by the balance monitor).
	CountEnabledRelayers(ctx context.Context) (int, error)

	// SetEnabledRelayers replaces the set of addresses eligible for
	// locking, called by the balance monitor each time it re-evaluates
	// on-chain balances.
	SetEnabledRelayers(ctx context.Context, addresses []common.Address) error

	// LockRelayer acquires exclusive use of one enabled relayer and
	// returns its cached nonce. ErrNoRelayerAvailable is returned if
	// every enabled relayer is currently locked or in cooldown.
	LockRelayer(ctx context.Context) (Relayer, error)

	// ReleaseRelayer releases a relayer immediately, persisting its
	// updated nonce for the next caller.
	ReleaseRelayer(ctx context.Context, address common.Address, nonce uint64) error

	// ReleaseRelayerDelayed releases a relayer but keeps it locked for
	// an additional delay, used to quarantine a relayer whose last
	// transaction was rejected until the chain state is re-checked.
	ReleaseRelayerDelayed(ctx context.Context, address common.Address, nonce uint64, delay time.Duration) error
}
