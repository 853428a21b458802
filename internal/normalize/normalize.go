// Package normalize converts provider-native station payloads into canonical
// entities and merges records that describe the same physical location.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/provider"
)

// Merge policy constants. Two provider records are the same physical station
// when they sit within MergeDistanceM of each other and their names score at
// least NameSimilarityThreshold, or when an explicit cross-provider mapping
// links them.
const (
	MergeDistanceM          = 50.0
	NameSimilarityThreshold = 0.55
)

// Annotation marks a provider record dropped during normalization. Malformed
// payloads are reported this way, never as a hard failure.
type Annotation struct {
	Provider string `json:"provider"`
	NativeID string `json:"native_id"`
	Reason   string `json:"reason"`
}

// Batch is one provider's discovery response.
type Batch struct {
	Provider string
	Stations []provider.Station
}

// Normalizer holds the merge policy: provider priority (configuration order,
// first wins ties) and explicit cross-provider station id mappings keyed
// "provider:nativeID" → shared group key.
type Normalizer struct {
	priority   map[string]int
	idMappings map[string]string
	logger     *zap.Logger
}

// New builds a Normalizer. providerOrder is the configured priority order.
func New(providerOrder []string, idMappings map[string]string, logger *zap.Logger) *Normalizer {
	priority := make(map[string]int, len(providerOrder))
	for i, name := range providerOrder {
		priority[name] = i
	}
	if idMappings == nil {
		idMappings = map[string]string{}
	}
	return &Normalizer{priority: priority, idMappings: idMappings, logger: logger}
}

// candidate is a validated provider record awaiting merge.
type candidate struct {
	providerName string
	station      provider.Station
	completeness int
}

// CanonicalStations validates, converts and merges provider batches into
// canonical stations. Batches are processed in provider priority order so the
// outcome is deterministic regardless of response arrival order.
func (n *Normalizer) CanonicalStations(batches []Batch, now time.Time) ([]models.Station, []Annotation) {
	sort.SliceStable(batches, func(i, j int) bool {
		return n.priorityOf(batches[i].Provider) < n.priorityOf(batches[j].Provider)
	})

	var annotations []Annotation
	var merged []*mergedStation

	for _, batch := range batches {
		for _, st := range batch.Stations {
			if reason := validate(st); reason != "" {
				annotations = append(annotations, Annotation{
					Provider: batch.Provider,
					NativeID: st.NativeID,
					Reason:   reason,
				})
				if n.logger != nil {
					n.logger.Debug("dropped malformed provider station",
						zap.String("provider", batch.Provider),
						zap.String("native_id", st.NativeID),
						zap.String("reason", reason),
					)
				}
				continue
			}

			cand := candidate{
				providerName: batch.Provider,
				station:      st,
				completeness: completeness(st),
			}

			if existing := n.findMatch(merged, cand); existing != nil {
				existing.absorb(cand, n, now)
			} else {
				merged = append(merged, newMergedStation(cand, n, now))
			}
		}
	}

	stations := make([]models.Station, 0, len(merged))
	for _, m := range merged {
		stations = append(stations, m.canonical)
	}
	return stations, annotations
}

// NormalizeChargers converts a provider charger list for one station, dropping
// chargers with unrecognized connector types.
func NormalizeChargers(providerName string, raw []provider.Charger, now time.Time) ([]models.Charger, []Annotation) {
	var chargers []models.Charger
	var annotations []Annotation
	for _, c := range raw {
		connector, ok := models.ParseConnectorType(c.ConnectorType)
		if !ok || c.NativeID == "" {
			annotations = append(annotations, Annotation{
				Provider: providerName,
				NativeID: c.NativeID,
				Reason:   fmt.Sprintf("charger schema mismatch: connector %q", c.ConnectorType),
			})
			continue
		}
		chargers = append(chargers, models.Charger{
			ID:          models.ChargerID(providerName, c.NativeID),
			Provider:    providerName,
			NativeID:    c.NativeID,
			Connector:   connector,
			PowerKW:     c.PowerKW,
			Available:   c.Available,
			PricePerKWh: c.PricePerKWh,
			RefreshedAt: now,
		})
	}
	return chargers, annotations
}

func (n *Normalizer) priorityOf(providerName string) int {
	if p, ok := n.priority[providerName]; ok {
		return p
	}
	return len(n.priority)
}

func (n *Normalizer) groupKey(providerName, nativeID string) string {
	return n.idMappings[providerName+":"+nativeID]
}

func (n *Normalizer) findMatch(merged []*mergedStation, cand candidate) *mergedStation {
	key := n.groupKey(cand.providerName, cand.station.NativeID)
	loc := models.LatLng{Lat: cand.station.Latitude, Lng: cand.station.Longitude}

	for _, m := range merged {
		if key != "" && m.groupKey == key {
			return m
		}
		if HaversineM(m.canonical.Location, loc) <= MergeDistanceM &&
			NameSimilarity(m.canonical.Name, cand.station.Name) >= NameSimilarityThreshold {
			return m
		}
	}
	return nil
}

func validate(st provider.Station) string {
	switch {
	case st.NativeID == "":
		return "missing station id"
	case st.Name == "":
		return "missing station name"
	case !validCoordinate(st.Latitude, st.Longitude):
		return "invalid coordinates"
	}
	return ""
}

// completeness counts populated optional fields; the most complete record wins
// station-level fields on merge.
func completeness(st provider.Station) int {
	score := 0
	if st.Address != "" {
		score++
	}
	if len(st.Amenities) > 0 {
		score++
	}
	if st.OperatingHours != "" {
		score++
	}
	if st.Rating > 0 {
		score++
	}
	return score
}

type mergedStation struct {
	canonical    models.Station
	groupKey     string
	bestScore    int
	bestPriority int
}

func newMergedStation(cand candidate, n *Normalizer, now time.Time) *mergedStation {
	st := cand.station
	chargers, _ := NormalizeChargers(cand.providerName, st.Chargers, now)
	// Canonical id derives from the primary (highest-priority) source so the
	// merged station keeps the same id across requests.
	sum := sha1.Sum([]byte(cand.providerName + ":" + st.NativeID))
	return &mergedStation{
		canonical: models.Station{
			ID:             "st_" + hex.EncodeToString(sum[:6]),
			Sources:        []models.SourceRef{{Provider: cand.providerName, NativeID: st.NativeID}},
			Name:           st.Name,
			Address:        st.Address,
			Location:       models.LatLng{Lat: st.Latitude, Lng: st.Longitude},
			Chargers:       chargers,
			Amenities:      st.Amenities,
			OperatingHours: st.OperatingHours,
			Rating:         st.Rating,
		},
		groupKey:     n.groupKey(cand.providerName, st.NativeID),
		bestScore:    cand.completeness,
		bestPriority: n.priorityOf(cand.providerName),
	}
}

// absorb unions the charger list and upgrades station-level fields when the
// incoming record is more complete (priority order breaks ties, and earlier
// processing order means the incumbent already has the better priority).
func (m *mergedStation) absorb(cand candidate, n *Normalizer, now time.Time) {
	st := cand.station
	m.canonical.Sources = append(m.canonical.Sources, models.SourceRef{
		Provider: cand.providerName,
		NativeID: st.NativeID,
	})

	chargers, _ := NormalizeChargers(cand.providerName, st.Chargers, now)
	m.canonical.Chargers = append(m.canonical.Chargers, chargers...)

	if key := n.groupKey(cand.providerName, st.NativeID); key != "" && m.groupKey == "" {
		m.groupKey = key
	}

	if cand.completeness > m.bestScore {
		m.canonical.Name = st.Name
		m.canonical.Address = st.Address
		m.canonical.Amenities = st.Amenities
		m.canonical.OperatingHours = st.OperatingHours
		if st.Rating > 0 {
			m.canonical.Rating = st.Rating
		}
		m.bestScore = cand.completeness
		m.bestPriority = n.priorityOf(cand.providerName)
	}
}
