// Package memory implements the in-process relayer lock layer: a
// mutex-guarded slice, adequate when a single instance of this service
// owns the whole relayer pool. Grounded on the reference service's
// segregated lock layer (random selection among available relayers,
// cooldown-gated availability).
package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChoSanghyuk/paymaster/internal/lock"
)

type slot struct {
	address       common.Address
	enabled       bool
	nonce         uint64
	lockedUntil   time.Time
	cooldownUntil time.Time
}

func (s *slot) available(now time.Time) bool {
	return s.enabled && now.After(s.lockedUntil) && now.After(s.cooldownUntil)
}

// Layer is the in-process lock.Layer implementation.
type Layer struct {
	mu    sync.Mutex
	slots []*slot
}

func New(addresses []common.Address) *Layer {
	slots := make([]*slot, len(addresses))
	for i, addr := range addresses {
		slots[i] = &slot{address: addr, enabled: true}
	}
	return &Layer{slots: slots}
}

func (l *Layer) CountEnabledRelayers(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, s := range l.slots {
		if s.enabled {
			count++
		}
	}
	return count, nil
}

func (l *Layer) SetEnabledRelayers(_ context.Context, addresses []common.Address) error {
	enabled := make(map[common.Address]bool, len(addresses))
	for _, a := range addresses {
		enabled[a] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.slots {
		s.enabled = enabled[s.address]
	}
	return nil
}

func (l *Layer) LockRelayer(context.Context) (lock.Relayer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	var candidates []*slot
	for _, s := range l.slots {
		if s.available(now) {
			candidates = append(candidates, s)
		}
	}

	if len(candidates) == 0 {
		return lock.Relayer{}, lock.ErrNoRelayerAvailable
	}

	chosen := candidates[rand.Intn(len(candidates))]
	chosen.lockedUntil = now.Add(lock.LockValidity)

	return lock.Relayer{Address: chosen.address, Nonce: chosen.nonce}, nil
}

func (l *Layer) ReleaseRelayer(_ context.Context, address common.Address, nonce uint64) error {
	return l.release(address, nonce, 0)
}

func (l *Layer) ReleaseRelayerDelayed(_ context.Context, address common.Address, nonce uint64, delay time.Duration) error {
	return l.release(address, nonce, delay)
}

func (l *Layer) release(address common.Address, nonce uint64, delay time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.slots {
		if s.address != address {
			continue
		}
		s.nonce = nonce
		s.lockedUntil = time.Time{}
		s.cooldownUntil = time.Now().Add(lock.Cooldown + delay)
		return nil
	}
	return nil
}
