// Package payment ties session completion to the payment-processor capability,
// enforcing at-most-once capture per session.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/internal/metrics"
	"chargehub/internal/models"
)

// ErrCaptureFailed signals a capture that exhausted its retries; the durable
// reconciliation record has already been written when this is returned.
var ErrCaptureFailed = errors.New("payment capture failed")

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 300 * time.Millisecond
)

// IntentStore is the durable payment-intent persistence the coordinator needs.
type IntentStore interface {
	InsertPending(ctx context.Context, intent *models.PaymentIntent) (bool, error)
	FindByKey(ctx context.Context, idempotencyKey string) (*models.PaymentIntent, error)
	Get(ctx context.Context, id string) (*models.PaymentIntent, error)
	UpdateState(ctx context.Context, id string, state models.PaymentIntentState, processorRef, failureReason string) error
	EnqueueReconciliation(ctx context.Context, rec *models.ReconciliationRecord) error
}

// Coordinator drives captures and refunds against the processor capability.
type Coordinator struct {
	processor   Processor
	intents     IntentStore
	currency    string
	maxAttempts int
	retryDelay  time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// Config tunes capture behavior.
type Config struct {
	Currency    string
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewCoordinator builds the coordinator.
func NewCoordinator(processor Processor, intents IntentStore, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Coordinator{
		processor:   processor,
		intents:     intents,
		currency:    cfg.Currency,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		metrics:     m,
		logger:      logger,
	}
}

// IdempotencyKey derives the deterministic capture key for a session.
func IdempotencyKey(sessionID string) string {
	return "capture-" + sessionID
}

// AmountCents prices a session: delivered energy times the per-kWh price
// pinned at start, in integer cents.
func AmountCents(session *models.Session) int64 {
	return int64(math.Round(session.EnergyKWh * session.PricePerKWh * 100))
}

// OnSessionCompleted implements the session coordinator's payment handoff.
func (c *Coordinator) OnSessionCompleted(ctx context.Context, session *models.Session) error {
	amount := AmountCents(session)
	if amount <= 0 {
		c.logger.Info("skipping capture for zero-amount session",
			zap.String("session_id", session.ID),
		)
		return nil
	}
	_, err := c.Capture(ctx, session, amount)
	return err
}

// Capture requests payment for a completed session at most once. Concurrent
// and repeated calls for the same session converge on a single intent: an
// existing pending or captured intent short-circuits without touching the
// processor again.
func (c *Coordinator) Capture(ctx context.Context, session *models.Session, amountCents int64) (*models.PaymentIntent, error) {
	key := IdempotencyKey(session.ID)

	existing, err := c.intents.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil && (existing.State == models.PaymentCaptured || existing.State == models.PaymentPending) {
		return existing, nil
	}
	if existing != nil {
		// A failed intent stays the owner of the key; further attempts go
		// through the reconciliation path, not through double-insertion.
		return existing, ErrCaptureFailed
	}

	intent := &models.PaymentIntent{
		ID:             uuid.NewString(),
		SessionID:      session.ID,
		AmountCents:    amountCents,
		Currency:       c.currency,
		IdempotencyKey: key,
		State:          models.PaymentPending,
	}

	created, err := c.intents.InsertPending(ctx, intent)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent caller won the key; return its intent.
		winner, err := c.intents.FindByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("payment intent for key %s vanished", key)
		}
		if winner.State == models.PaymentFailed {
			return winner, ErrCaptureFailed
		}
		return winner, nil
	}

	result, err := c.callCapture(ctx, CaptureRequest{
		AmountCents:    amountCents,
		Currency:       c.currency,
		IdempotencyKey: key,
		Description:    fmt.Sprintf("charging session %s", session.ID),
	})
	if err != nil {
		return c.markFailed(ctx, session, intent, err)
	}

	if err := c.intents.UpdateState(ctx, intent.ID, models.PaymentCaptured, result.ProcessorRef, ""); err != nil {
		return nil, err
	}
	intent.State = models.PaymentCaptured
	intent.ProcessorRef = result.ProcessorRef
	c.metrics.RecordCapture("captured")

	c.logger.Info("payment captured",
		zap.String("session_id", session.ID),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_cents", amountCents),
	)
	return intent, nil
}

// Refund reverses a captured intent, optionally partially.
func (c *Coordinator) Refund(ctx context.Context, intentID string, amountCents int64, reason string) (*models.PaymentIntent, error) {
	intent, err := c.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.State == models.PaymentRefunded {
		return intent, nil
	}
	if intent.State != models.PaymentCaptured {
		return nil, fmt.Errorf("cannot refund intent in state %s", intent.State)
	}

	if _, err := c.processor.Refund(ctx, RefundRequest{
		ProcessorRef: intent.ProcessorRef,
		AmountCents:  amountCents,
		Reason:       reason,
	}); err != nil {
		return nil, err
	}

	if err := c.intents.UpdateState(ctx, intent.ID, models.PaymentRefunded, "", reason); err != nil {
		return nil, err
	}
	intent.State = models.PaymentRefunded

	c.logger.Info("payment refunded",
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_cents", amountCents),
	)
	return intent, nil
}

// markFailed persists the failure and enqueues a durable reconciliation record:
// the session delivered energy, so the miss is never silently dropped.
func (c *Coordinator) markFailed(ctx context.Context, session *models.Session, intent *models.PaymentIntent, cause error) (*models.PaymentIntent, error) {
	if err := c.intents.UpdateState(ctx, intent.ID, models.PaymentFailed, "", cause.Error()); err != nil {
		return nil, err
	}
	intent.State = models.PaymentFailed
	intent.FailureReason = cause.Error()
	c.metrics.RecordCapture("failed")

	rec := &models.ReconciliationRecord{
		SessionID:   session.ID,
		IntentID:    intent.ID,
		AmountCents: intent.AmountCents,
		Reason:      cause.Error(),
	}
	if err := c.intents.EnqueueReconciliation(ctx, rec); err != nil {
		c.logger.Error("failed to enqueue payment reconciliation",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return intent, err
	}

	c.logger.Warn("payment capture failed, queued for reconciliation",
		zap.String("session_id", session.ID),
		zap.String("intent_id", intent.ID),
		zap.Error(cause),
	)
	return intent, ErrCaptureFailed
}

func (c *Coordinator) callCapture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.processor.Capture(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
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
