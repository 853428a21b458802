package aggregator

import (
	"context"
	"fmt"
	"time"

	"chargehub/internal/models"
	"chargehub/internal/normalize"
	"chargehub/internal/provider"
)

// StationDetails returns one canonical station from a single provider,
// preferring the cache and falling back to a live lookup.
func (a *Aggregator) StationDetails(ctx context.Context, providerName, nativeID string) (*models.Station, error) {
	src, ok := a.sourceByName(providerName)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}

	st, cached := a.cache.Station(providerName, nativeID)
	if !cached {
		cctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
		defer cancel()

		fetched, err := src.Adapter.GetStation(cctx, nativeID)
		if err != nil {
			src.Health.RecordFailure()
			a.metrics.RecordProviderCall(providerName, "get_station", string(provider.KindOf(err)))
			return nil, err
		}
		src.Health.RecordSuccess()
		a.metrics.RecordProviderCall(providerName, "get_station", "ok")
		a.cache.StoreStation(providerName, *fetched)
		st = *fetched
	}

	stations, _ := a.normalizer.CanonicalStations([]normalize.Batch{
		{Provider: providerName, Stations: []provider.Station{st}},
	}, time.Now())
	if len(stations) == 0 {
		return nil, fmt.Errorf("station %s/%s failed normalization", providerName, nativeID)
	}
	return &stations[0], nil
}

func (a *Aggregator) sourceByName(name string) (Source, bool) {
	for _, src := range a.sources {
		if src.Adapter.Name() == name {
			return src, true
		}
	}
	return Source{}, false
}
