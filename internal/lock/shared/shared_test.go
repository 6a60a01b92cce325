package shared

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// These tests exercise the real Redis protocol and are skipped unless
// REDIS_TEST_URL is set.
func requireRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set, skipping Redis-backed lock layer test")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	return redis.NewClient(opts)
}

func TestLayer_LockRelayerAcquiresAndReleases(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	l := New(rdb)

	addr := common.HexToAddress("0x000000000000000000000000000000000000aa")
	require.NoError(t, l.SetEnabledRelayers(ctx, []common.Address{addr}))

	r, err := l.LockRelayer(ctx)
	require.NoError(t, err)
	require.Equal(t, addr, r.Address)

	_, err = l.LockRelayer(ctx)
	require.Error(t, err, "relayer is already locked")

	require.NoError(t, l.ReleaseRelayer(ctx, addr, 7))

	r, err = l.LockRelayer(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7, r.Nonce, "released nonce should be cached for the next lock")
}

func TestLayer_ReleaseRelayerDelayedKeepsLockKeyAlive(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	l := New(rdb)

	addr := common.HexToAddress("0x000000000000000000000000000000000000bb")
	require.NoError(t, l.SetEnabledRelayers(ctx, []common.Address{addr}))

	_, err := l.LockRelayer(ctx)
	require.NoError(t, err)

	require.NoError(t, l.ReleaseRelayerDelayed(ctx, addr, 3, 50*time.Millisecond))

	_, err = l.LockRelayer(ctx)
	require.Error(t, err, "lock key should still exist immediately after a delayed release")

	time.Sleep(100 * time.Millisecond)

	r, err := l.LockRelayer(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, r.Nonce)
}
