package availability

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/provider"
)

// Poller refreshes one provider's availability entries on an independent,
// jittered cadence so co-located pollers never hit shared infrastructure in
// lockstep.
type Poller struct {
	adapter  provider.Adapter
	cache    *Cache
	health   *provider.Health
	interval time.Duration
	center   models.LatLng
	radiusM  int
	logger   *zap.Logger
}

// NewPoller builds a background refresh loop for one provider covering the
// configured service area.
func NewPoller(adapter provider.Adapter, cache *Cache, health *provider.Health, interval time.Duration, center models.LatLng, radiusM int, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultStalenessWindow
	}
	return &Poller{
		adapter:  adapter,
		cache:    cache,
		health:   health,
		interval: interval,
		center:   center,
		radiusM:  radiusM,
		logger:   logger,
	}
}

// Run polls until ctx is canceled. Each cycle waits interval ± 10% jitter.
func (p *Poller) Run(ctx context.Context) {
	// Spread initial polls so a fleet restart does not thundering-herd providers.
	timer := time.NewTimer(time.Duration(rand.Int63n(int64(p.interval))))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.refresh(ctx)
		p.cache.Sweep()
		timer.Reset(jittered(p.interval))
	}
}

func (p *Poller) refresh(ctx context.Context) {
	stations, err := p.adapter.ListNearby(ctx, p.center, p.radiusM)
	if err != nil {
		p.health.RecordFailure()
		p.logger.Warn("availability poll failed",
			zap.String("provider", p.adapter.Name()),
			zap.Error(err),
		)
		return
	}
	p.health.RecordSuccess()
	p.cache.StoreDiscovery(p.adapter.Name(), stations)
	p.logger.Debug("availability poll refreshed",
		zap.String("provider", p.adapter.Name()),
		zap.Int("stations", len(stations)),
	)
}

func jittered(base time.Duration) time.Duration {
	delta := int64(base) / 5
	return base - time.Duration(delta/2) + time.Duration(rand.Int63n(delta))
}
