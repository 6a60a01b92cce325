// Package shared implements the Redis-backed relayer lock layer used
// when multiple instances of this service share one relayer pool.
// Key scheme, grounded on the reference service's shared lock layer:
//
//	relayer-lock:<hex-address>   SET NX EX <ttl>   holds the lock itself
//	relayer-cache:<hex-address>  holds the last known nonce, TTL'd
//
// Acquisition shuffles the enabled address set and races through it,
// taking the first address whose lock key can be set.
package shared

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/ChoSanghyuk/paymaster/internal/lock"
)

const (
	lockKeyPrefix  = "relayer-lock:"
	cacheKeyPrefix = "relayer-cache:"
	enabledSetKey  = "relayer-enabled"
	nonceCacheTTL  = 60 * time.Second
)

// Layer is the Redis-backed lock.Layer implementation.
type Layer struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Layer {
	return &Layer{rdb: rdb}
}

func lockKey(addr common.Address) string  { return lockKeyPrefix + addr.Hex() }
func cacheKey(addr common.Address) string { return cacheKeyPrefix + addr.Hex() }

func (l *Layer) CountEnabledRelayers(ctx context.Context) (int, error) {
	n, err := l.rdb.SCard(ctx, enabledSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("lock: count enabled relayers: %w", err)
	}
	return int(n), nil
}

func (l *Layer) SetEnabledRelayers(ctx context.Context, addresses []common.Address) error {
	members := make([]any, len(addresses))
	for i, a := range addresses {
		members[i] = a.Hex()
	}

	pipe := l.rdb.TxPipeline()
	pipe.Del(ctx, enabledSetKey)
	if len(members) > 0 {
		pipe.SAdd(ctx, enabledSetKey, members...)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("lock: set enabled relayers: %w", err)
	}
	return nil
}

// LockRelayer shuffles the enabled set and races through it, returning
// the first address whose lock key could be claimed via SET NX EX.
func (l *Layer) LockRelayer(ctx context.Context) (lock.Relayer, error) {
	members, err := l.rdb.SMembers(ctx, enabledSetKey).Result()
	if err != nil {
		return lock.Relayer{}, fmt.Errorf("lock: list enabled relayers: %w", err)
	}
	if len(members) == 0 {
		return lock.Relayer{}, lock.ErrNoRelayerAvailable
	}

	rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })

	for _, hexAddr := range members {
		addr := common.HexToAddress(hexAddr)

		ok, err := l.rdb.SetNX(ctx, lockKey(addr), "1", lock.LockValidity).Result()
		if err != nil || !ok {
			continue
		}

		nonce, _ := l.readCachedNonce(ctx, addr)
		return lock.Relayer{Address: addr, Nonce: nonce}, nil
	}

	return lock.Relayer{}, lock.ErrNoRelayerAvailable
}

func (l *Layer) readCachedNonce(ctx context.Context, addr common.Address) (uint64, error) {
	val, err := l.rdb.Get(ctx, cacheKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReleaseRelayer writes the updated nonce to the cache key with a 60s
// TTL, then deletes the lock key - the order matters: the nonce must be
// visible to the next caller before the lock disappears.
func (l *Layer) ReleaseRelayer(ctx context.Context, address common.Address, nonce uint64) error {
	if err := l.rdb.Set(ctx, cacheKey(address), strconv.FormatUint(nonce, 10), nonceCacheTTL).Err(); err != nil {
		return fmt.Errorf("lock: cache nonce on release: %w", err)
	}
	if err := l.rdb.Del(ctx, lockKey(address)).Err(); err != nil {
		return fmt.Errorf("lock: delete lock key on release: %w", err)
	}
	return nil
}

// ReleaseRelayerDelayed keeps the relayer locked instead of unlocking
// it: the lock key itself is re-SET with the requested delay as its
// TTL, so it expires (and the relayer becomes available again) only
// after the delay has passed.
func (l *Layer) ReleaseRelayerDelayed(ctx context.Context, address common.Address, nonce uint64, delay time.Duration) error {
	if err := l.rdb.Set(ctx, cacheKey(address), strconv.FormatUint(nonce, 10), nonceCacheTTL).Err(); err != nil {
		return fmt.Errorf("lock: cache nonce on delayed release: %w", err)
	}
	if err := l.rdb.Set(ctx, lockKey(address), "1", delay).Err(); err != nil {
		return fmt.Errorf("lock: extend lock key on delayed release: %w", err)
	}
	return nil
}

// ListLocked returns every currently-locked relayer address, used by
// diagnostics/operational tooling. Grounded on the reference service's
// SCAN relayer-lock:* helper.
func (l *Layer) ListLocked(ctx context.Context) ([]common.Address, error) {
	var locked []common.Address
	iter := l.rdb.Scan(ctx, 0, lockKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		locked = append(locked, common.HexToAddress(key[len(lockKeyPrefix):]))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("lock: scan locked relayers: %w", err)
	}
	return locked, nil
}
