package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chargehub/internal/models"
)

// ErrSessionNotFound indicates an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists charging sessions so in-flight sessions survive
// process restarts and can be reconciled afterwards.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, provider_session_id, user_id, station_id, charger_id, provider,
	state, failure_kind, price_per_kwh, started_at, ended_at,
	energy_kwh, current_power_kw, duration_min, created_at, updated_at
`

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	const query = `
		INSERT INTO charging_sessions (
			id, provider_session_id, user_id, station_id, charger_id, provider,
			state, failure_kind, price_per_kwh, started_at, ended_at,
			energy_kwh, current_power_kw, duration_min, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		session.ID,
		nullString(session.ProviderSessionID),
		session.UserID,
		session.StationID,
		session.ChargerID,
		session.Provider,
		string(session.State),
		nullString(session.FailureKind),
		session.PricePerKWh,
		session.StartedAt,
		nullTime(session.EndedAt),
		session.EnergyKWh,
		session.CurrentPowerKW,
		session.DurationMin,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
}

// Update rewrites the mutable session fields.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	const query = `
		UPDATE charging_sessions
		SET provider_session_id = $2,
		    state = $3,
		    failure_kind = $4,
		    ended_at = $5,
		    energy_kwh = $6,
		    current_power_kw = $7,
		    duration_min = $8,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		session.ID,
		nullString(session.ProviderSessionID),
		string(session.State),
		nullString(session.FailureKind),
		nullTime(session.EndedAt),
		session.EnergyKWh,
		session.CurrentPowerKW,
		session.DurationMin,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Get loads one session by local id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM charging_sessions WHERE id = $1`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// ListByUser returns the last N sessions for a user, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// ListInState returns sessions currently in the given state; used by the
// reconciliation poller and by startup recovery.
func (r *SessionRepository) ListInState(ctx context.Context, state models.SessionState, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE state = $1
		ORDER BY started_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, string(state), limit)
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var providerSessionID, failureKind sql.NullString
	var endedAt sql.NullTime
	var state string

	if err := row.Scan(
		&s.ID,
		&providerSessionID,
		&s.UserID,
		&s.StationID,
		&s.ChargerID,
		&s.Provider,
		&state,
		&failureKind,
		&s.PricePerKWh,
		&s.StartedAt,
		&endedAt,
		&s.EnergyKWh,
		&s.CurrentPowerKW,
		&s.DurationMin,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.State = models.SessionState(state)
	s.ProviderSessionID = providerSessionID.String
	s.FailureKind = failureKind.String
	if endedAt.Valid {
		s.EndedAt = endedAt.Time
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
