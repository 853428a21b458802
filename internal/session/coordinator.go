// Package session owns the per-session state machine and reconciles local
// intent with each provider's authoritative remote session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/provider"
	"chargehub/internal/redisstore"
)

var (
	// ErrSessionConflict signals a concurrent start on the same (user, charger)
	// pair or a charger already occupied on the provider side.
	ErrSessionConflict = errors.New("session conflict")
	// ErrInvalidState signals an operation the current state does not admit.
	ErrInvalidState = errors.New("invalid session state for operation")
	// ErrUnknownProvider signals a charger id referencing an unconfigured provider.
	ErrUnknownProvider = errors.New("unknown provider")
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
)

// Store is the durable session persistence the coordinator requires.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error)
	ListInState(ctx context.Context, state models.SessionState, limit int) ([]models.Session, error)
}

// ActiveIndex enforces the exactly-one-active invariant per (user, charger)
// across instances.
type ActiveIndex interface {
	Acquire(ctx context.Context, session redisstore.ActiveSession) (bool, error)
	Release(ctx context.Context, userID, chargerID string) error
}

// PaymentHandoff is invoked once when a session reaches Completed.
type PaymentHandoff interface {
	OnSessionCompleted(ctx context.Context, session *models.Session) error
}

// ChargerLookup resolves a charger's current record, used to pin the price at
// start time.
type ChargerLookup interface {
	FindCharger(providerName, chargerNativeID string) (provider.Charger, bool)
}

// Coordinator drives session lifecycles. All transitions for one session are
// serialized behind a per-session lock; starts additionally hold a
// (user, charger) lock. No lock is held across a provider call except those.
type Coordinator struct {
	adapters    map[string]provider.Adapter
	store       Store
	active      ActiveIndex
	payments    PaymentHandoff
	chargers    ChargerLookup
	sessionLock *keyedLocks
	startLock   *keyedLocks
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger

	now func() time.Time
}

// Config tunes retry behavior.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewCoordinator builds the coordinator.
func NewCoordinator(adapters map[string]provider.Adapter, store Store, active ActiveIndex, payments PaymentHandoff, chargers ChargerLookup, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Coordinator{
		adapters:    adapters,
		store:       store,
		active:      active,
		payments:    payments,
		chargers:    chargers,
		sessionLock: newKeyedLocks(),
		startLock:   newKeyedLocks(),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		logger:      logger,
		now:         time.Now,
	}
}

// Start creates a session and asks the provider to energize the charger.
// The returned session is terminal Failed (with the causing kind attached)
// rather than an error when the provider cannot start it.
func (c *Coordinator) Start(ctx context.Context, userID, stationID, chargerID string) (*models.Session, error) {
	providerName, nativeChargerID, ok := models.SplitChargerID(chargerID)
	if !ok {
		return nil, fmt.Errorf("malformed charger id %q", chargerID)
	}
	adapter, ok := c.adapters[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	unlock := c.startLock.lock(userID + "|" + chargerID)
	defer unlock()

	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StationID: stationID,
		ChargerID: chargerID,
		Provider:  providerName,
		State:     models.SessionRequested,
		StartedAt: c.now().UTC(),
	}
	if charger, ok := c.chargers.FindCharger(providerName, nativeChargerID); ok {
		session.PricePerKWh = charger.PricePerKWh
	}

	acquired, err := c.active.Acquire(ctx, redisstore.ActiveSession{
		SessionID: session.ID,
		UserID:    userID,
		ChargerID: chargerID,
		Provider:  providerName,
		StartedAt: session.StartedAt,
	})
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("%w: active session exists for user %s on charger %s", ErrSessionConflict, userID, chargerID)
	}

	if err := c.store.Create(ctx, session); err != nil {
		c.releaseActive(ctx, session)
		return nil, err
	}
	if err := c.transition(ctx, session, models.SessionStarting); err != nil {
		c.releaseActive(ctx, session)
		return nil, err
	}

	ref, err := c.callStart(ctx, adapter, nativeChargerID)
	if err != nil {
		c.failSession(ctx, session, err)
		c.releaseActive(ctx, session)
		return session, nil
	}

	session.ProviderSessionID = ref.NativeSessionID
	if !ref.StartedAt.IsZero() {
		session.StartedAt = ref.StartedAt.UTC()
	}
	if err := c.transition(ctx, session, models.SessionActive); err != nil {
		return nil, err
	}

	c.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("provider", providerName),
		zap.String("provider_session_id", ref.NativeSessionID),
	)
	return session, nil
}

// Stop ends an active session and hands the final tally to payments.
// Stopping an already-Completed session is idempotent: the stored summary is
// returned without another provider call.
func (c *Coordinator) Stop(ctx context.Context, sessionID string) (*models.Session, error) {
	unlock := c.sessionLock.lock(sessionID)
	defer unlock()

	session, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case models.SessionCompleted, models.SessionFailed:
		return session, nil
	case models.SessionActive:
	default:
		return nil, fmt.Errorf("%w: cannot stop session in state %s", ErrInvalidState, session.State)
	}

	return c.stopLocked(ctx, session)
}

// stopLocked drives Active → Stopping → Completed/Failed. A session already in
// Stopping (an interrupted earlier stop) is picked up where it left off.
// Callers must hold the session lock.
func (c *Coordinator) stopLocked(ctx context.Context, session *models.Session) (*models.Session, error) {
	adapter, ok := c.adapters[session.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, session.Provider)
	}

	if session.State != models.SessionStopping {
		if err := c.transition(ctx, session, models.SessionStopping); err != nil {
			return nil, err
		}
	}

	summary, err := c.callStop(ctx, adapter, session.ProviderSessionID)
	if err != nil {
		// Energy already delivered stays on the record for billing reconciliation.
		c.failSession(ctx, session, err)
		c.releaseActive(ctx, session)
		return session, nil
	}

	c.applySummary(session, summary)
	if err := c.transition(ctx, session, models.SessionCompleted); err != nil {
		return nil, err
	}
	c.releaseActive(ctx, session)

	c.logger.Info("session completed",
		zap.String("session_id", session.ID),
		zap.Float64("energy_kwh", session.EnergyKWh),
		zap.Int("duration_min", session.DurationMin),
	)

	if err := c.payments.OnSessionCompleted(ctx, session); err != nil {
		// Capture failures are durable reconciliation records, never session failures.
		c.logger.Error("payment handoff failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	return session, nil
}

// Status returns the session, refreshing live progress from the provider when
// the session is Active.
func (c *Coordinator) Status(ctx context.Context, sessionID string) (*models.Session, error) {
	unlock := c.sessionLock.lock(sessionID)
	defer unlock()

	session, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionActive {
		return session, nil
	}

	adapter, ok := c.adapters[session.Provider]
	if !ok {
		return session, nil
	}
	summary, err := adapter.GetSessionStatus(ctx, session.ProviderSessionID)
	if err != nil {
		// Status reads are best-effort; the last known state is still rendered.
		c.logger.Warn("live status refresh failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return session, nil
	}

	if summary.Status == provider.SessionStatusCompleted {
		return c.completeFromRemote(ctx, session, summary)
	}

	session.EnergyKWh = summary.EnergyKWh
	session.CurrentPowerKW = summary.CurrentPowerKW
	if summary.DurationMin > 0 {
		session.DurationMin = summary.DurationMin
	}
	if err := c.store.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// History returns a user's recent sessions.
func (c *Coordinator) History(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	return c.store.ListByUser(ctx, userID, limit)
}

// completeFromRemote drives completion when the provider already ended the
// session. Callers must hold the session lock.
func (c *Coordinator) completeFromRemote(ctx context.Context, session *models.Session, summary *provider.SessionSummary) (*models.Session, error) {
	if session.State != models.SessionStopping {
		if err := c.transition(ctx, session, models.SessionStopping); err != nil {
			return nil, err
		}
	}
	c.applySummary(session, summary)
	if err := c.transition(ctx, session, models.SessionCompleted); err != nil {
		return nil, err
	}
	c.releaseActive(ctx, session)

	c.logger.Info("session completed by provider",
		zap.String("session_id", session.ID),
		zap.Float64("energy_kwh", session.EnergyKWh),
	)

	if err := c.payments.OnSessionCompleted(ctx, session); err != nil {
		c.logger.Error("payment handoff failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	return session, nil
}

func (c *Coordinator) applySummary(session *models.Session, summary *provider.SessionSummary) {
	if summary.EnergyKWh > 0 {
		session.EnergyKWh = summary.EnergyKWh
	}
	session.CurrentPowerKW = 0
	if summary.DurationMin > 0 {
		session.DurationMin = summary.DurationMin
	}
	if !summary.EndedAt.IsZero() {
		session.EndedAt = summary.EndedAt.UTC()
	} else {
		session.EndedAt = c.now().UTC()
	}
	if session.DurationMin == 0 && !session.StartedAt.IsZero() {
		session.DurationMin = int(session.EndedAt.Sub(session.StartedAt) / time.Minute)
	}
}

// transition enforces the state graph and persists the move.
func (c *Coordinator) transition(ctx context.Context, session *models.Session, next models.SessionState) error {
	if !session.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, session.State, next)
	}
	session.State = next
	return c.store.Update(ctx, session)
}

func (c *Coordinator) failSession(ctx context.Context, session *models.Session, cause error) {
	session.FailureKind = string(provider.KindOf(cause))
	if err := c.transition(ctx, session, models.SessionFailed); err != nil {
		c.logger.Error("failed to persist session failure",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return
	}
	c.logger.Warn("session failed",
		zap.String("session_id", session.ID),
		zap.String("kind", session.FailureKind),
		zap.Error(cause),
	)
}

func (c *Coordinator) releaseActive(ctx context.Context, session *models.Session) {
	if err := c.active.Release(ctx, session.UserID, session.ChargerID); err != nil {
		c.logger.Warn("failed to release active session marker",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
}

// callStart retries transient start failures a bounded number of times.
// Conflict is terminal immediately: the charger is occupied.
func (c *Coordinator) callStart(ctx context.Context, adapter provider.Adapter, nativeChargerID string) (*provider.SessionRef, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		ref, err := adapter.StartSession(ctx, nativeChargerID)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if !provider.KindOf(err).Retryable() {
			return nil, err
		}
		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(c.retryDelay):
			}
		}
	}
	return nil, lastErr
}

func (c *Coordinator) callStop(ctx context.Context, adapter provider.Adapter, nativeSessionID string) (*provider.SessionSummary, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		summary, err := adapter.StopSession(ctx, nativeSessionID)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		if !provider.KindOf(err).Retryable() {
			return nil, err
		}
		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(c.retryDelay):
			}
		}
	}
	return nil, lastErr
}
