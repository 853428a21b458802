package provider

import (
	"context"
	"time"

	"chargehub/internal/models"
)

// Station is a provider-native station payload before normalization.
// These shapes never leak past the normalization layer.
type Station struct {
	NativeID       string    `json:"station_id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Chargers       []Charger `json:"chargers"`
	Amenities      []string  `json:"amenities"`
	OperatingHours string    `json:"operating_hours"`
	Rating         float64   `json:"rating"`
}

// Charger is a provider-native charger payload.
type Charger struct {
	NativeID      string  `json:"charger_id"`
	ConnectorType string  `json:"connector_type"`
	PowerKW       float64 `json:"power_kw"`
	Available     bool    `json:"available"`
	PricePerKWh   float64 `json:"price_per_kwh"`
}

// SessionRef acknowledges a started session on the provider side.
type SessionRef struct {
	NativeSessionID string    `json:"session_id"`
	StartedAt       time.Time `json:"started_at"`
}

// SessionStatus is the provider-asserted state of a remote session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusUnknown   SessionStatus = "unknown"
)

// SessionSummary reports remote session progress or the final tally.
// A busy charger or an already-completed session is a value here, never an error.
type SessionSummary struct {
	NativeSessionID string        `json:"session_id"`
	Status          SessionStatus `json:"status"`
	EnergyKWh       float64       `json:"energy_delivered_kwh"`
	CurrentPowerKW  float64       `json:"current_power_kw"`
	DurationMin     int           `json:"duration_minutes"`
	EndedAt         time.Time     `json:"ended_at"`
}

// Adapter is the capability every charging network integration must implement.
// Implementations translate provider-native calls and error codes into the
// canonical operations and the Error kinds of this package. Each call carries
// an adapter-defined timeout via ctx.
type Adapter interface {
	Name() string
	ListNearby(ctx context.Context, center models.LatLng, radiusM int) ([]Station, error)
	GetStation(ctx context.Context, nativeID string) (*Station, error)
	StartSession(ctx context.Context, nativeChargerID string) (*SessionRef, error)
	StopSession(ctx context.Context, nativeSessionID string) (*SessionSummary, error)
	GetSessionStatus(ctx context.Context, nativeSessionID string) (*SessionSummary, error)
}
