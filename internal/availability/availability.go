// Package availability implements the availability gauge: a background
// loop that periodically reports how many relayers are currently
// eligible to be locked, the headline signal paymaster_isAvailable and
// external dashboards both read from.
package availability

import (
	"context"
	"time"

	"github.com/ChoSanghyuk/paymaster/internal/lock"
	"github.com/ChoSanghyuk/paymaster/internal/metrics"
	"github.com/ChoSanghyuk/paymaster/internal/servicelog"
)

const componentName = "AvailabilityGauge"

// Interval matches the balance monitor's cadence since the enabled set
// only changes as a result of that loop's decisions.
const Interval = 60 * time.Second

type Service struct {
	locks lock.Layer
}

func NewService(locks lock.Layer) *Service {
	return &Service{locks: locks}
}

func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	s.tick(ctx)
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
	count, err := s.locks.CountEnabledRelayers(ctx)
	if err != nil {
		servicelog.Warnf(componentName, "count enabled relayers: %v", err)
		return
	}
	metrics.AvailableRelayers.Set(float64(count))
}
