package models

import (
	"fmt"
	"strings"
	"time"
)

// ConnectorType enumerates supported charger plug standards.
type ConnectorType string

const (
	ConnectorCCS     ConnectorType = "CCS"
	ConnectorCHAdeMO ConnectorType = "CHAdeMO"
	ConnectorType2   ConnectorType = "Type2"
	ConnectorTesla   ConnectorType = "Tesla"
)

// ParseConnectorType maps a provider-reported connector string to the enum.
func ParseConnectorType(raw string) (ConnectorType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ccs", "ccs1", "ccs2", "combo":
		return ConnectorCCS, true
	case "chademo":
		return ConnectorCHAdeMO, true
	case "type2", "type 2", "mennekes":
		return ConnectorType2, true
	case "tesla", "nacs":
		return ConnectorTesla, true
	}
	return "", false
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SourceRef points at the provider-native record a canonical entity was built from.
type SourceRef struct {
	Provider string `json:"provider"`
	NativeID string `json:"native_id"`
}

// Charger is one bookable plug. It belongs to exactly one Station and always keeps
// its provider identity: chargers are never deduped across providers.
type Charger struct {
	ID          string        `json:"id"` // "<provider>:<native id>"
	Provider    string        `json:"provider"`
	NativeID    string        `json:"native_id"`
	Connector   ConnectorType `json:"connector_type"`
	PowerKW     float64       `json:"power_kw"`
	Available   bool          `json:"available"`
	PricePerKWh float64       `json:"price_per_kwh"`
	RefreshedAt time.Time     `json:"refreshed_at"`
}

// ChargerID builds the canonical provider-qualified charger id.
func ChargerID(provider, nativeID string) string {
	return fmt.Sprintf("%s:%s", provider, nativeID)
}

// SplitChargerID reverses ChargerID.
func SplitChargerID(id string) (provider, nativeID string, ok bool) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Station is the canonical merged view of one physical charging location.
type Station struct {
	ID             string      `json:"id"`
	Sources        []SourceRef `json:"sources"`
	Name           string      `json:"name"`
	Address        string      `json:"address"`
	Location       LatLng      `json:"location"`
	Chargers       []Charger   `json:"chargers"`
	Amenities      []string    `json:"amenities"`
	OperatingHours string      `json:"operating_hours"`
	Rating         float64     `json:"rating"`
	DistanceM      float64     `json:"distance_m"` // from the query point, set during aggregation
}
