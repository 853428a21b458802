package availability

import "time"

// StationUpdate is one pushed charger-availability change from a provider
// stream. Applying an update resets the owning entry's staleness clock.
type StationUpdate struct {
	Provider    string    `json:"provider"`
	StationID   string    `json:"station_id"`
	ChargerID   string    `json:"charger_id"`
	Available   bool      `json:"available"`
	PricePerKWh float64   `json:"price_per_kwh,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
