package provider

import (
	"sync/atomic"
	"time"
)

// Status is a rolling per-provider health verdict.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const (
	degradedThreshold = 2
	downThreshold     = 5
	defaultProbeEvery = 30 * time.Second
)

// Health tracks one provider's rolling call outcomes with plain atomics;
// no cross-provider coordination is needed.
type Health struct {
	provider    string
	consecFails atomic.Int64
	lastSuccess atomic.Int64 // unix nanos
	lastFailure atomic.Int64
	lastProbe   atomic.Int64
	probeEvery  time.Duration
}

// NewHealth builds a tracker for one provider. probeEvery bounds how often a
// down provider is given a recovery attempt; zero uses the default.
func NewHealth(providerName string, probeEvery time.Duration) *Health {
	if probeEvery <= 0 {
		probeEvery = defaultProbeEvery
	}
	return &Health{provider: providerName, probeEvery: probeEvery}
}

// Provider returns the tracked provider name.
func (h *Health) Provider() string { return h.provider }

// RecordSuccess resets the failure streak.
func (h *Health) RecordSuccess() {
	h.consecFails.Store(0)
	h.lastSuccess.Store(time.Now().UnixNano())
}

// RecordFailure extends the failure streak.
func (h *Health) RecordFailure() {
	h.consecFails.Add(1)
	h.lastFailure.Store(time.Now().UnixNano())
}

// Status derives the rolling verdict from the failure streak.
func (h *Health) Status() Status {
	fails := h.consecFails.Load()
	switch {
	case fails >= downThreshold:
		return StatusDown
	case fails >= degradedThreshold:
		return StatusDegraded
	}
	return StatusOK
}

// ShouldSkip reports whether callers should short-circuit this provider.
// A down provider is still probed once per probe interval so it can recover.
func (h *Health) ShouldSkip() bool {
	if h.Status() != StatusDown {
		return false
	}
	now := time.Now().UnixNano()
	last := h.lastProbe.Load()
	if now-last < int64(h.probeEvery) {
		return true
	}
	// One caller wins the probe slot; the rest keep skipping.
	return !h.lastProbe.CompareAndSwap(last, now)
}

// LastSuccess returns the time of the most recent successful call.
func (h *Health) LastSuccess() time.Time {
	return time.Unix(0, h.lastSuccess.Load())
}

// LastFailure returns the time of the most recent failed call.
func (h *Health) LastFailure() time.Time {
	return time.Unix(0, h.lastFailure.Load())
}
