// Package aggregator fans discovery requests out to all configured providers
// and merges their answers into the canonical model. Partial results are
// always preferred over no results.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/availability"
	"chargehub/internal/metrics"
	"chargehub/internal/models"
	"chargehub/internal/normalize"
	"chargehub/internal/provider"
)

const defaultProviderTimeout = 500 * time.Millisecond

// Filters narrow discovery results.
type Filters struct {
	Connector     models.ConnectorType
	AvailableOnly bool
}

// ProviderError records one provider's failure for the observability
// side-channel; it never fails the overall call.
type ProviderError struct {
	Provider string             `json:"provider"`
	Kind     provider.ErrorKind `json:"kind"`
	Message  string             `json:"message,omitempty"`
}

// Result is a merged discovery answer plus per-provider failure notes.
type Result struct {
	Stations       []models.Station       `json:"stations"`
	ProviderErrors []ProviderError        `json:"provider_errors,omitempty"`
	Annotations    []normalize.Annotation `json:"annotations,omitempty"`
}

// Source pairs one adapter with its health tracker.
type Source struct {
	Adapter provider.Adapter
	Health  *provider.Health
}

// Aggregator owns the fan-out/merge pipeline and the availability cache.
type Aggregator struct {
	sources         []Source
	cache           *availability.Cache
	normalizer      *normalize.Normalizer
	providerTimeout time.Duration
	metrics         *metrics.Metrics
	logger          *zap.Logger
}

// New builds an Aggregator. sources must be in provider priority order.
func New(sources []Source, cache *availability.Cache, normalizer *normalize.Normalizer, providerTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}
	return &Aggregator{
		sources:         sources,
		cache:           cache,
		normalizer:      normalizer,
		providerTimeout: providerTimeout,
		metrics:         m,
		logger:          logger,
	}
}

type fanoutSlot struct {
	stations    []provider.Station
	staleServed bool
	err         error
	skipped     bool
}

// Nearby fans the request out to every provider concurrently with a
// per-provider timeout, merges the well-formed answers and applies filters.
// The caller's ctx deadline propagates to all in-flight calls; providers that
// error or time out contribute nothing but are reported in ProviderErrors.
func (a *Aggregator) Nearby(ctx context.Context, center models.LatLng, radiusM int, filters Filters) Result {
	slots := make([]fanoutSlot, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		if src.Health.ShouldSkip() {
			slots[i].skipped = true
			continue
		}

		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
			defer cancel()

			name := src.Adapter.Name()
			read, err := a.cache.Nearby(cctx, name, center, radiusM, func(rctx context.Context) ([]provider.Station, error) {
				return src.Adapter.ListNearby(rctx, center, radiusM)
			})

			switch {
			case err != nil:
				src.Health.RecordFailure()
				a.metrics.RecordProviderCall(name, "list_nearby", string(provider.KindOf(err)))
				slots[i].err = err
			case read.Refreshed:
				src.Health.RecordSuccess()
				a.metrics.RecordProviderCall(name, "list_nearby", "ok")
				slots[i].stations = read.Stations
			case read.StaleServed:
				// The read succeeded from cache but the refresh underneath failed.
				src.Health.RecordFailure()
				a.metrics.RecordCacheServe(name, "stale")
				slots[i].stations = read.Stations
				slots[i].staleServed = true
			default:
				a.metrics.RecordCacheServe(name, "fresh")
				slots[i].stations = read.Stations
			}
			a.metrics.SetProviderHealth(name, src.Health.Status())
		}(i, src)
	}
	wg.Wait()

	var result Result
	batches := make([]normalize.Batch, 0, len(a.sources))
	for i, src := range a.sources {
		name := src.Adapter.Name()
		slot := slots[i]
		switch {
		case slot.skipped:
			result.ProviderErrors = append(result.ProviderErrors, ProviderError{
				Provider: name,
				Kind:     provider.KindUnavailable,
				Message:  "provider marked down, skipped",
			})
		case slot.err != nil:
			result.ProviderErrors = append(result.ProviderErrors, ProviderError{
				Provider: name,
				Kind:     provider.KindOf(slot.err),
				Message:  slot.err.Error(),
			})
		default:
			if slot.staleServed {
				result.ProviderErrors = append(result.ProviderErrors, ProviderError{
					Provider: name,
					Kind:     provider.KindUnavailable,
					Message:  "stale cache served",
				})
			}
			batches = append(batches, normalize.Batch{Provider: name, Stations: slot.stations})
		}
	}

	stations, annotations := a.normalizer.CanonicalStations(batches, time.Now())
	result.Annotations = annotations
	result.Stations = a.filterAndSort(stations, center, radiusM, filters)

	a.logger.Debug("nearby aggregation complete",
		zap.Int("stations", len(result.Stations)),
		zap.Int("provider_errors", len(result.ProviderErrors)),
	)
	return result
}

func (a *Aggregator) filterAndSort(stations []models.Station, center models.LatLng, radiusM int, filters Filters) []models.Station {
	out := make([]models.Station, 0, len(stations))
	for _, st := range stations {
		st.DistanceM = normalize.HaversineM(center, st.Location)
		if st.DistanceM > float64(radiusM) {
			continue
		}
		if !matchesFilters(st, filters) {
			continue
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceM != out[j].DistanceM {
			return out[i].DistanceM < out[j].DistanceM
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matchesFilters(st models.Station, filters Filters) bool {
	if filters.Connector == "" && !filters.AvailableOnly {
		return true
	}
	for _, ch := range st.Chargers {
		if filters.Connector != "" && ch.Connector != filters.Connector {
			continue
		}
		if filters.AvailableOnly && !ch.Available {
			continue
		}
		return true
	}
	return false
}
