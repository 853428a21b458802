package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/provider"
)

const defaultReconcileInterval = 30 * time.Second

// errNoSessionRef marks a session whose process died before the provider ever
// acknowledged it; there is no remote handle left to query.
var errNoSessionRef = errors.New("no provider session reference")

// inFlightStates are the states a crash can strand a session in. Every sweep
// visits all three; anything terminal is left alone.
var inFlightStates = []models.SessionState{
	models.SessionStarting,
	models.SessionActive,
	models.SessionStopping,
}

// Reconciler detects silent remote termination (hardware fault, provider-side
// timeout) of in-flight sessions and drives them to a terminal state without
// waiting for a user action. It runs independently of the request path and
// also picks up sessions stranded mid-transition by a previous process, so a
// crash never leaves a charger energized with no local owner or a (user,
// charger) slot blocked until its TTL.
type Reconciler struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *zap.Logger
}

// NewReconciler builds the background reconciliation loop.
func NewReconciler(coordinator *Coordinator, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &Reconciler{coordinator: coordinator, interval: interval, logger: logger}
}

// Run polls until ctx is canceled. The first sweep runs immediately so
// sessions left in flight by a previous process are picked up on restart.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	for _, state := range inFlightStates {
		sessions, err := r.coordinator.store.ListInState(ctx, state, 0)
		if err != nil {
			r.logger.Error("reconciliation sweep failed to list sessions",
				zap.String("state", string(state)),
				zap.Error(err),
			)
			continue
		}

		for i := range sessions {
			if ctx.Err() != nil {
				return
			}
			r.reconcileOne(ctx, sessions[i].ID)
		}
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, sessionID string) {
	c := r.coordinator

	unlock := c.sessionLock.lock(sessionID)
	defer unlock()

	// Re-read under the lock: a user stop may have completed meanwhile.
	session, err := c.store.Get(ctx, sessionID)
	if err != nil {
		r.logger.Warn("reconciliation read failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	switch session.State {
	case models.SessionStarting, models.SessionActive, models.SessionStopping:
	default:
		return
	}

	adapter, ok := c.adapters[session.Provider]
	if !ok {
		return
	}

	if session.ProviderSessionID == "" {
		// Crashed before the provider acknowledged the start. Nothing remote
		// to query; fail the session so the (user, charger) slot frees now
		// instead of waiting out the redis TTL.
		c.failSession(ctx, session, errNoSessionRef)
		c.releaseActive(ctx, session)
		return
	}

	summary, err := adapter.GetSessionStatus(ctx, session.ProviderSessionID)
	if err != nil {
		if provider.IsKind(err, provider.KindNotFound) {
			// The provider lost the session entirely; whatever energy we saw
			// last is preserved for billing reconciliation.
			c.failSession(ctx, session, err)
			c.releaseActive(ctx, session)
		}
		return
	}

	switch summary.Status {
	case provider.SessionStatusCompleted:
		if session.State == models.SessionStarting {
			if err := c.transition(ctx, session, models.SessionActive); err != nil {
				r.logger.Error("reconciliation adoption failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				return
			}
		}
		if _, err := c.completeFromRemote(ctx, session, summary); err != nil {
			r.logger.Error("reconciliation completion failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	case provider.SessionStatusActive:
		switch session.State {
		case models.SessionStarting:
			// The provider acknowledged the start but the Active move never
			// persisted; adopt the running session.
			if err := c.transition(ctx, session, models.SessionActive); err != nil {
				r.logger.Error("reconciliation adoption failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				return
			}
		case models.SessionStopping:
			// A stop was requested but never confirmed; re-issue it.
			if _, err := c.stopLocked(ctx, session); err != nil {
				r.logger.Error("reconciliation stop retry failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
			return
		}
		session.EnergyKWh = summary.EnergyKWh
		session.CurrentPowerKW = summary.CurrentPowerKW
		if summary.DurationMin > 0 {
			session.DurationMin = summary.DurationMin
		}
		if err := c.store.Update(ctx, session); err != nil {
			r.logger.Warn("reconciliation progress update failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
}
