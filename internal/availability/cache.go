// Package availability keeps the near-real-time station/charger state between
// the aggregator and the providers, shielding providers from read bursts.
// Entries are rebuildable from discovery and deliberately not persisted.
package availability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/normalize"
	"chargehub/internal/provider"
)

const (
	defaultStalenessWindow = 60 * time.Second
	defaultRefreshTimeout  = 400 * time.Millisecond
	defaultLongStale       = time.Hour
)

type entryKey struct {
	provider string
	station  string
}

type entry struct {
	station   provider.Station
	fetchedAt time.Time
}

// RefreshFunc fetches a provider's current station list, typically bound to an
// adapter's ListNearby.
type RefreshFunc func(ctx context.Context) ([]provider.Station, error)

// ReadResult carries cached stations plus soft-failure tags.
type ReadResult struct {
	Stations    []provider.Station
	StaleServed bool // a stale entry was returned because refresh timed out
	Refreshed   bool // a synchronous refresh ran for this read
}

// Cache is a read-mostly in-process store of per-(provider, station) entries.
// Reads never block on a live provider call while a not-yet-stale entry exists;
// refreshes are applied atomically under the write lock.
type Cache struct {
	mu          sync.RWMutex
	entries     map[entryKey]*entry
	lastRefresh map[string]time.Time

	windows        map[string]time.Duration
	refreshTimeout time.Duration
	longStale      time.Duration
	logger         *zap.Logger
}

// Options tune staleness behavior. Zero values fall back to defaults
// (60s window, 400ms sync refresh bound, 1h long-stale eviction).
type Options struct {
	Windows        map[string]time.Duration // per-provider staleness windows
	RefreshTimeout time.Duration
	LongStale      time.Duration
}

// NewCache builds an empty cache.
func NewCache(opts Options, logger *zap.Logger) *Cache {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.LongStale <= 0 {
		opts.LongStale = defaultLongStale
	}
	if opts.Windows == nil {
		opts.Windows = map[string]time.Duration{}
	}
	return &Cache{
		entries:        make(map[entryKey]*entry),
		lastRefresh:    make(map[string]time.Time),
		windows:        opts.Windows,
		refreshTimeout: opts.RefreshTimeout,
		longStale:      opts.LongStale,
		logger:         logger,
	}
}

func (c *Cache) window(providerName string) time.Duration {
	if w, ok := c.windows[providerName]; ok && w > 0 {
		return w
	}
	return defaultStalenessWindow
}

// Nearby serves a provider's stations around center. Fresh entries are served
// without touching the provider. A stale provider, or a queried circle with no
// cached entries at all, triggers one best-effort synchronous refresh bounded
// by the refresh timeout; if that fails and usable stale entries remain, they
// are served tagged StaleServed instead of failing the read. The provider-level
// clock only says how recently the provider answered, not where; an empty
// circle must reach the provider rather than hide stations it never covered.
func (c *Cache) Nearby(ctx context.Context, providerName string, center models.LatLng, radiusM int, refresh RefreshFunc) (ReadResult, error) {
	now := time.Now()

	c.mu.RLock()
	fresh := now.Sub(c.lastRefresh[providerName]) <= c.window(providerName)
	cached := c.collectLocked(providerName, center, radiusM, now)
	c.mu.RUnlock()

	if fresh && len(cached) > 0 {
		return ReadResult{Stations: cached}, nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	stations, err := refresh(rctx)
	if err == nil {
		c.StoreDiscovery(providerName, stations)
		c.mu.RLock()
		result := c.collectLocked(providerName, center, radiusM, time.Now())
		c.mu.RUnlock()
		return ReadResult{Stations: result, Refreshed: true}, nil
	}

	if len(cached) > 0 {
		if c.logger != nil {
			c.logger.Warn("serving stale availability entries",
				zap.String("provider", providerName),
				zap.Error(err),
			)
		}
		return ReadResult{Stations: cached, StaleServed: true}, nil
	}
	return ReadResult{}, err
}

func (c *Cache) collectLocked(providerName string, center models.LatLng, radiusM int, now time.Time) []provider.Station {
	var out []provider.Station
	for k, e := range c.entries {
		if k.provider != providerName {
			continue
		}
		if now.Sub(e.fetchedAt) > c.longStale {
			continue
		}
		loc := models.LatLng{Lat: e.station.Latitude, Lng: e.station.Longitude}
		if normalize.HaversineM(center, loc) <= float64(radiusM) {
			out = append(out, e.station)
		}
	}
	return out
}

// StoreDiscovery upserts a provider's discovery results and resets its
// staleness clock.
func (c *Cache) StoreDiscovery(providerName string, stations []provider.Station) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range stations {
		if st.NativeID == "" {
			continue
		}
		c.entries[entryKey{providerName, st.NativeID}] = &entry{station: st, fetchedAt: now}
	}
	c.lastRefresh[providerName] = now
}

// StoreStation upserts a single station without resetting the provider's
// staleness clock; a one-off detail fetch says nothing about area coverage.
func (c *Cache) StoreStation(providerName string, st provider.Station) {
	if st.NativeID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey{providerName, st.NativeID}] = &entry{station: st, fetchedAt: time.Now()}
}

// Station returns one cached provider station, if present and not long-stale.
func (c *Cache) Station(providerName, nativeID string) (provider.Station, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entryKey{providerName, nativeID}]
	if !ok || time.Since(e.fetchedAt) > c.longStale {
		return provider.Station{}, false
	}
	return e.station, true
}

// FindCharger locates a charger by provider and native charger id across
// cached stations.
func (c *Cache) FindCharger(providerName, chargerNativeID string) (provider.Charger, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, e := range c.entries {
		if k.provider != providerName {
			continue
		}
		for _, ch := range e.station.Chargers {
			if ch.NativeID == chargerNativeID {
				return ch, true
			}
		}
	}
	return provider.Charger{}, false
}

// ApplyUpdate applies a pushed charger-availability change, resetting the
// entry's staleness. Updates for unknown stations are ignored; a future
// discovery pass will pick the station up.
func (c *Cache) ApplyUpdate(u StationUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[entryKey{u.Provider, u.StationID}]
	if !ok {
		return
	}
	for i := range e.station.Chargers {
		if e.station.Chargers[i].NativeID == u.ChargerID {
			e.station.Chargers[i].Available = u.Available
			if u.PricePerKWh > 0 {
				e.station.Chargers[i].PricePerKWh = u.PricePerKWh
			}
			break
		}
	}
	e.fetchedAt = time.Now()
}

// Sweep evicts entries untouched for the long-stale window, forcing future
// reads through full discovery.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, e := range c.entries {
		if now.Sub(e.fetchedAt) > c.longStale {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}
