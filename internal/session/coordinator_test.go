package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/provider"
	"chargehub/internal/redisstore"
	"chargehub/internal/repository"
)

// memStore is an in-memory Store that records every state the session passes
// through.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	states   map[string][]models.SessionState
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]models.Session),
		states:   make(map[string][]models.SessionState),
	}
}

func (s *memStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	s.states[session.ID] = append(s.states[session.ID], session.State)
	return nil
}

func (s *memStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return repository.ErrSessionNotFound
	}
	s.sessions[session.ID] = *session
	s.states[session.ID] = append(s.states[session.ID], session.State)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &session, nil
}

func (s *memStore) ListByUser(_ context.Context, userID string, _ int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *memStore) ListInState(_ context.Context, state models.SessionState, _ int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, session := range s.sessions {
		if session.State == state {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *memStore) stateTrail(id string) []models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SessionState(nil), s.states[id]...)
}

// memIndex mimics the redis SetNX active-session index.
type memIndex struct {
	mu   sync.Mutex
	held map[string]string // user|charger -> session id
}

func newMemIndex() *memIndex {
	return &memIndex{held: make(map[string]string)}
}

func (m *memIndex) Acquire(_ context.Context, session redisstore.ActiveSession) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := session.UserID + "|" + session.ChargerID
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = session.SessionID
	return true, nil
}

func (m *memIndex) Release(_ context.Context, userID, chargerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, userID+"|"+chargerID)
	return nil
}

func (m *memIndex) holds(userID, chargerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[userID+"|"+chargerID]
	return ok
}

// capturePayments records completed-session handoffs.
type capturePayments struct {
	mu       sync.Mutex
	sessions []models.Session
}

func (p *capturePayments) OnSessionCompleted(_ context.Context, session *models.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, *session)
	return nil
}

func (p *capturePayments) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// priceLookup pins a fixed price for every charger.
type priceLookup struct{ price float64 }

func (l priceLookup) FindCharger(string, string) (provider.Charger, bool) {
	return provider.Charger{PricePerKWh: l.price}, l.price > 0
}

// scriptedAdapter answers session calls from a script.
type scriptedAdapter struct {
	mu          sync.Mutex
	name        string
	startErrs   []error // consumed one per StartSession call before success
	stopErr     error
	summary     *provider.SessionSummary
	stopSummary *provider.SessionSummary // StopSession answer when it differs from summary
	statusErr   error
	startCalls  int
	stopCalls   int
	statusCalls int
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) ListNearby(context.Context, models.LatLng, int) ([]provider.Station, error) {
	return nil, nil
}

func (a *scriptedAdapter) GetStation(context.Context, string) (*provider.Station, error) {
	return nil, provider.NewError(a.name, provider.KindNotFound, "not implemented", nil)
}

func (a *scriptedAdapter) StartSession(context.Context, string) (*provider.SessionRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startCalls++
	if len(a.startErrs) > 0 {
		err := a.startErrs[0]
		a.startErrs = a.startErrs[1:]
		return nil, err
	}
	return &provider.SessionRef{NativeSessionID: "remote-1", StartedAt: time.Now()}, nil
}

func (a *scriptedAdapter) StopSession(context.Context, string) (*provider.SessionSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCalls++
	if a.stopErr != nil {
		return nil, a.stopErr
	}
	if a.stopSummary != nil {
		return a.stopSummary, nil
	}
	if a.summary != nil {
		return a.summary, nil
	}
	return &provider.SessionSummary{Status: provider.SessionStatusCompleted}, nil
}

func (a *scriptedAdapter) GetSessionStatus(context.Context, string) (*provider.SessionSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusCalls++
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	if a.summary != nil {
		return a.summary, nil
	}
	return &provider.SessionSummary{Status: provider.SessionStatusActive}, nil
}

func newTestCoordinator(adapter *scriptedAdapter) (*Coordinator, *memStore, *memIndex, *capturePayments) {
	store := newMemStore()
	index := newMemIndex()
	payments := &capturePayments{}
	c := NewCoordinator(
		map[string]provider.Adapter{adapter.name: adapter},
		store, index, payments, priceLookup{price: 0.40},
		Config{MaxAttempts: 3, RetryDelay: time.Millisecond},
		zap.NewNop(),
	)
	return c, store, index, payments
}

func TestStartWalksStateGraph(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, store, index, _ := newTestCoordinator(adapter)

	session, err := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.State != models.SessionActive {
		t.Fatalf("expected active, got %s", session.State)
	}
	if session.ProviderSessionID != "remote-1" {
		t.Fatalf("provider session id not recorded: %q", session.ProviderSessionID)
	}
	if session.PricePerKWh != 0.40 {
		t.Fatalf("price not pinned at start: %f", session.PricePerKWh)
	}

	trail := store.stateTrail(session.ID)
	want := []models.SessionState{models.SessionRequested, models.SessionStarting, models.SessionActive}
	if len(trail) != len(want) {
		t.Fatalf("state trail %v, want %v", trail, want)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Fatalf("state trail %v, want %v", trail, want)
		}
	}
	if !index.holds("user-1", "volta:chg-1") {
		t.Fatal("active index must hold the slot while the session runs")
	}
}

func TestStartRejectsSecondConcurrentSession(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, _, _, _ := newTestCoordinator(adapter)

	if _, err := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1"); err != nil {
		t.Fatalf("first start: %v", err)
	}

	_, err := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")
	if !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if adapter.startCalls != 1 {
		t.Fatalf("conflicting start must not reach the provider, got %d calls", adapter.startCalls)
	}
}

func TestStartUnknownProvider(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, _, _, _ := newTestCoordinator(adapter)

	if _, err := c.Start(context.Background(), "user-1", "st_abc", "ghost:chg-1"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
	if _, err := c.Start(context.Background(), "user-1", "st_abc", "no-separator"); err == nil {
		t.Fatal("malformed charger id must error")
	}
}

func TestStartConflictNotRetried(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "volta",
		startErrs: []error{
			provider.NewError("volta", provider.KindConflict, "charger occupied", nil),
		},
	}
	c, _, index, _ := newTestCoordinator(adapter)

	session, err := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")
	if err != nil {
		t.Fatalf("start returns the failed session, not an error: %v", err)
	}
	if session.State != models.SessionFailed {
		t.Fatalf("expected failed, got %s", session.State)
	}
	if session.FailureKind != string(provider.KindConflict) {
		t.Fatalf("failure kind not recorded: %q", session.FailureKind)
	}
	if adapter.startCalls != 1 {
		t.Fatalf("conflict is terminal, expected 1 attempt, got %d", adapter.startCalls)
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("failed start must release the active slot")
	}
}

func TestStartRetriesTimeoutsBounded(t *testing.T) {
	timeout := provider.NewError("volta", provider.KindTimeout, "deadline", nil)
	adapter := &scriptedAdapter{
		name:      "volta",
		startErrs: []error{timeout, timeout, timeout, timeout},
	}
	c, _, _, _ := newTestCoordinator(adapter)

	session, err := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.State != models.SessionFailed {
		t.Fatalf("expected failed after exhausted retries, got %s", session.State)
	}
	if adapter.startCalls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", adapter.startCalls)
	}
}

func TestStartTransientFailureThenSuccess(t *testing.T) {
	adapter := &scriptedAdapter{
		name:      "volta",
		startErrs: []error{provider.NewError("volta", provider.KindUnavailable, "hiccup", nil)},
	}
	c, _, _, _ := newTestCoordinator(adapter)

	session, err := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.State != models.SessionActive {
		t.Fatalf("expected active after retry, got %s", session.State)
	}
	if adapter.startCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", adapter.startCalls)
	}
}

func TestStopCompletesAndHandsOffPayment(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "volta",
		summary: &provider.SessionSummary{
			Status:      provider.SessionStatusCompleted,
			EnergyKWh:   12.3,
			DurationMin: 41,
		},
	}
	c, store, index, payments := newTestCoordinator(adapter)

	session, err := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stopped, err := c.Stop(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.State != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", stopped.State)
	}
	if stopped.EnergyKWh != 12.3 || stopped.DurationMin != 41 {
		t.Fatalf("final tally not applied: %+v", stopped)
	}
	if payments.count() != 1 {
		t.Fatalf("expected one payment handoff, got %d", payments.count())
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("completed session must release the active slot")
	}

	trail := store.stateTrail(session.ID)
	if trail[len(trail)-2] != models.SessionStopping {
		t.Fatalf("stop must pass through stopping: %v", trail)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "volta",
		summary: &provider.SessionSummary{Status: provider.SessionStatusCompleted, EnergyKWh: 5},
	}
	c, _, _, payments := newTestCoordinator(adapter)

	session, _ := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")
	if _, err := c.Stop(context.Background(), session.ID); err != nil {
		t.Fatalf("first stop: %v", err)
	}

	again, err := c.Stop(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if again.State != models.SessionCompleted || again.EnergyKWh != 5 {
		t.Fatalf("second stop must return the stored summary: %+v", again)
	}
	if adapter.stopCalls != 1 {
		t.Fatalf("second stop must not call the provider, got %d calls", adapter.stopCalls)
	}
	if payments.count() != 1 {
		t.Fatalf("payment handoff must fire once, got %d", payments.count())
	}
}

func TestStopFailurePreservesDeliveredEnergy(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "volta",
		stopErr: provider.NewError("volta", provider.KindUnavailable, "provider down", nil),
	}
	c, _, index, payments := newTestCoordinator(adapter)

	session, _ := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")

	stopped, err := c.Stop(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("stop surfaces the failed session, not an error: %v", err)
	}
	if stopped.State != models.SessionFailed {
		t.Fatalf("expected failed, got %s", stopped.State)
	}
	if payments.count() != 0 {
		t.Fatal("failed stop must not trigger payment")
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("failed session must release the active slot")
	}
}

func TestStopUnknownSession(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, _, _, _ := newTestCoordinator(adapter)

	if _, err := c.Stop(context.Background(), "ghost"); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusRefreshesLiveProgress(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "volta",
		summary: &provider.SessionSummary{
			Status:         provider.SessionStatusActive,
			EnergyKWh:      3.4,
			CurrentPowerKW: 48,
			DurationMin:    7,
		},
	}
	c, _, _, _ := newTestCoordinator(adapter)

	session, _ := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")

	got, err := c.Status(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.EnergyKWh != 3.4 || got.CurrentPowerKW != 48 || got.DurationMin != 7 {
		t.Fatalf("live progress not applied: %+v", got)
	}
	if got.State != models.SessionActive {
		t.Fatalf("expected still active, got %s", got.State)
	}
}

func TestStatusCompletesWhenProviderEndedSession(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, _, index, payments := newTestCoordinator(adapter)

	session, _ := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")

	adapter.mu.Lock()
	adapter.summary = &provider.SessionSummary{
		Status:    provider.SessionStatusCompleted,
		EnergyKWh: 9.9,
		EndedAt:   time.Now(),
	}
	adapter.mu.Unlock()

	got, err := c.Status(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.State != models.SessionCompleted {
		t.Fatalf("expected completed from remote, got %s", got.State)
	}
	if got.EnergyKWh != 9.9 {
		t.Fatalf("final tally not applied: %+v", got)
	}
	if payments.count() != 1 {
		t.Fatalf("remote completion must hand off payment once, got %d", payments.count())
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("remote completion must release the active slot")
	}
}

func TestStatusToleratesProviderErrors(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, _, _, _ := newTestCoordinator(adapter)

	session, _ := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")

	adapter.mu.Lock()
	adapter.statusErr = provider.NewError("volta", provider.KindUnavailable, "blip", nil)
	adapter.mu.Unlock()

	got, err := c.Status(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("status reads are best-effort: %v", err)
	}
	if got.State != models.SessionActive {
		t.Fatalf("last known state must survive a status blip, got %s", got.State)
	}
}

func TestReconcilerCompletesSilentlyEndedSessions(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, _, index, payments := newTestCoordinator(adapter)
	r := NewReconciler(c, time.Hour, zap.NewNop())

	session, _ := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")

	adapter.mu.Lock()
	adapter.summary = &provider.SessionSummary{
		Status:    provider.SessionStatusCompleted,
		EnergyKWh: 12.3,
		EndedAt:   time.Now(),
	}
	adapter.mu.Unlock()

	r.sweep(context.Background())

	got, err := c.store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.SessionCompleted {
		t.Fatalf("expected reconciled completion, got %s", got.State)
	}
	if got.EnergyKWh != 12.3 {
		t.Fatalf("expected 12.3 kWh recorded, got %f", got.EnergyKWh)
	}
	if payments.count() != 1 {
		t.Fatalf("reconciliation must capture exactly once, got %d", payments.count())
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("reconciled session must release the active slot")
	}

	// A second sweep sees a terminal session and does nothing.
	r.sweep(context.Background())
	if payments.count() != 1 {
		t.Fatalf("second sweep must not re-capture, got %d", payments.count())
	}
}

func TestReconcilerFailsLostSessions(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, _, index, payments := newTestCoordinator(adapter)
	r := NewReconciler(c, time.Hour, zap.NewNop())

	session, _ := c.Start(context.Background(), "user-1", "st_abc", "volta:chg-1")

	adapter.mu.Lock()
	adapter.statusErr = provider.NewError("volta", provider.KindNotFound, "session vanished", nil)
	adapter.mu.Unlock()

	r.sweep(context.Background())

	got, _ := c.store.Get(context.Background(), session.ID)
	if got.State != models.SessionFailed {
		t.Fatalf("expected failed for a lost session, got %s", got.State)
	}
	if payments.count() != 0 {
		t.Fatal("lost sessions must not be captured")
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("lost session must release the active slot")
	}
}

// seedStranded plants a session mid-transition with its slot held, the shape a
// crashed process leaves behind.
func seedStranded(t *testing.T, store *memStore, index *memIndex, state models.SessionState, providerSessionID string) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:                "s-stranded",
		UserID:            "user-1",
		StationID:         "st_abc",
		ChargerID:         "volta:chg-1",
		Provider:          "volta",
		State:             state,
		ProviderSessionID: providerSessionID,
		PricePerKWh:       0.40,
		StartedAt:         time.Now().Add(-time.Minute),
	}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	acquired, err := index.Acquire(context.Background(), redisstore.ActiveSession{
		SessionID: session.ID,
		UserID:    session.UserID,
		ChargerID: session.ChargerID,
		Provider:  session.Provider,
		StartedAt: session.StartedAt,
	})
	if err != nil || !acquired {
		t.Fatalf("seed active slot: acquired=%v err=%v", acquired, err)
	}
	return session
}

func TestReconcilerFailsSessionsStrandedBeforeProviderAck(t *testing.T) {
	adapter := &scriptedAdapter{name: "volta"}
	c, store, index, payments := newTestCoordinator(adapter)
	r := NewReconciler(c, time.Hour, zap.NewNop())

	session := seedStranded(t, store, index, models.SessionStarting, "")

	r.sweep(context.Background())

	got, _ := store.Get(context.Background(), session.ID)
	if got.State != models.SessionFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
	if adapter.statusCalls != 0 {
		t.Fatalf("no remote handle exists to query, got %d status calls", adapter.statusCalls)
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("stranded start must release the active slot")
	}
	if payments.count() != 0 {
		t.Fatal("stranded start must not be captured")
	}
}

func TestReconcilerAdoptsAcknowledgedStartingSessions(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "volta",
		summary: &provider.SessionSummary{Status: provider.SessionStatusActive, EnergyKWh: 1.2, CurrentPowerKW: 50},
	}
	c, store, index, _ := newTestCoordinator(adapter)
	r := NewReconciler(c, time.Hour, zap.NewNop())

	session := seedStranded(t, store, index, models.SessionStarting, "remote-1")

	r.sweep(context.Background())

	got, _ := store.Get(context.Background(), session.ID)
	if got.State != models.SessionActive {
		t.Fatalf("expected adopted active session, got %s", got.State)
	}
	if got.EnergyKWh != 1.2 {
		t.Fatalf("progress not applied: %+v", got)
	}
	if !index.holds("user-1", "volta:chg-1") {
		t.Fatal("adopted session must keep the active slot")
	}
}

func TestReconcilerFinishesInterruptedStops(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "volta",
		summary: &provider.SessionSummary{
			Status:    provider.SessionStatusCompleted,
			EnergyKWh: 7.7,
			EndedAt:   time.Now(),
		},
	}
	c, store, index, payments := newTestCoordinator(adapter)
	r := NewReconciler(c, time.Hour, zap.NewNop())

	session := seedStranded(t, store, index, models.SessionStopping, "remote-1")

	r.sweep(context.Background())

	got, _ := store.Get(context.Background(), session.ID)
	if got.State != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", got.State)
	}
	if got.EnergyKWh != 7.7 {
		t.Fatalf("final tally not applied: %+v", got)
	}
	if adapter.stopCalls != 0 {
		t.Fatalf("already-ended session needs no stop call, got %d", adapter.stopCalls)
	}
	if payments.count() != 1 {
		t.Fatalf("expected one payment handoff, got %d", payments.count())
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("finished session must release the active slot")
	}
}

func TestReconcilerReissuesUnconfirmedStops(t *testing.T) {
	adapter := &scriptedAdapter{
		name:        "volta",
		summary:     &provider.SessionSummary{Status: provider.SessionStatusActive, EnergyKWh: 4},
		stopSummary: &provider.SessionSummary{Status: provider.SessionStatusCompleted, EnergyKWh: 4.2},
	}
	c, store, index, payments := newTestCoordinator(adapter)
	r := NewReconciler(c, time.Hour, zap.NewNop())

	session := seedStranded(t, store, index, models.SessionStopping, "remote-1")

	r.sweep(context.Background())

	got, _ := store.Get(context.Background(), session.ID)
	if got.State != models.SessionCompleted {
		t.Fatalf("expected completed after re-issued stop, got %s", got.State)
	}
	if got.EnergyKWh != 4.2 {
		t.Fatalf("stop summary not applied: %+v", got)
	}
	if adapter.stopCalls != 1 {
		t.Fatalf("expected one stop call, got %d", adapter.stopCalls)
	}
	if payments.count() != 1 {
		t.Fatalf("expected one payment handoff, got %d", payments.count())
	}
	if index.holds("user-1", "volta:chg-1") {
		t.Fatal("finished session must release the active slot")
	}
}

func TestKeyedLocksMutualExclusion(t *testing.T) {
	locks := newKeyedLocks()

	unlock := locks.lock("k")
	acquired := make(chan struct{})
	go func() {
		u := locks.lock("k")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock must block while the first is held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}

	// Distinct keys never contend.
	u1 := locks.lock("a")
	u2 := locks.lock("b")
	u1()
	u2()
}
