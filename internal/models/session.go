package models

import "time"

// SessionState is the per-session state machine position.
type SessionState string

const (
	SessionRequested SessionState = "requested"
	SessionStarting  SessionState = "starting"
	SessionActive    SessionState = "active"
	SessionStopping  SessionState = "stopping"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransition enforces the session state graph:
// Requested → Starting → Active → Stopping → Completed, Failed from any non-terminal.
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	if next == SessionFailed {
		return true
	}
	switch s {
	case SessionRequested:
		return next == SessionStarting
	case SessionStarting:
		return next == SessionActive
	case SessionActive:
		return next == SessionStopping
	case SessionStopping:
		return next == SessionCompleted
	}
	return false
}

// Session is the locally-owned record of one charging session. The provider-native
// session id is set once the provider acknowledges start.
type Session struct {
	ID                string       `db:"id" json:"id"`
	ProviderSessionID string       `db:"provider_session_id" json:"provider_session_id,omitempty"`
	UserID            string       `db:"user_id" json:"user_id"`
	StationID         string       `db:"station_id" json:"station_id"`
	ChargerID         string       `db:"charger_id" json:"charger_id"`
	Provider          string       `db:"provider" json:"provider"`
	State             SessionState `db:"state" json:"state"`
	FailureKind       string       `db:"failure_kind" json:"failure_kind,omitempty"`
	PricePerKWh       float64      `db:"price_per_kwh" json:"price_per_kwh"`
	StartedAt         time.Time    `db:"started_at" json:"started_at"`
	EndedAt           time.Time    `db:"ended_at" json:"ended_at,omitempty"`
	EnergyKWh         float64      `db:"energy_kwh" json:"energy_delivered_kwh"`
	CurrentPowerKW    float64      `db:"current_power_kw" json:"current_power_kw"`
	DurationMin       int          `db:"duration_min" json:"duration_minutes"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}
