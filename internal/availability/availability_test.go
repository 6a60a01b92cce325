package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ChoSanghyuk/paymaster/internal/lock"
	"github.com/ChoSanghyuk/paymaster/internal/metrics"
)

type fakeLockLayer struct {
	count    int
	countErr error
}

func (f *fakeLockLayer) CountEnabledRelayers(ctx context.Context) (int, error) {
	return f.count, f.countErr
}
func (f *fakeLockLayer) SetEnabledRelayers(ctx context.Context, addresses []common.Address) error {
	return nil
}
func (f *fakeLockLayer) LockRelayer(ctx context.Context) (lock.Relayer, error) {
	return lock.Relayer{}, nil
}
func (f *fakeLockLayer) ReleaseRelayer(ctx context.Context, address common.Address, nonce uint64) error {
	return nil
}
func (f *fakeLockLayer) ReleaseRelayerDelayed(ctx context.Context, address common.Address, nonce uint64, delay time.Duration) error {
	return nil
}

var _ lock.Layer = (*fakeLockLayer)(nil)

func TestService_Tick_SetsGaugeToEnabledCount(t *testing.T) {
	svc := NewService(&fakeLockLayer{count: 3})
	svc.tick(context.Background())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.AvailableRelayers))
}

func TestService_Tick_LeavesGaugeUnchangedOnError(t *testing.T) {
	NewService(&fakeLockLayer{count: 7}).tick(context.Background())

	NewService(&fakeLockLayer{countErr: errors.New("boom")}).tick(context.Background())

	assert.Equal(t, float64(7), testutil.ToFloat64(metrics.AvailableRelayers))
}
