package repository

import (
	"context"
	"database/sql"
	"errors"

	"chargehub/internal/models"
)

// ErrIntentNotFound indicates an unknown payment intent.
var ErrIntentNotFound = errors.New("payment intent not found")

// PaymentRepository persists payment intents and the reconciliation queue.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository returns repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const intentColumns = `
	id, session_id, amount_cents, currency, idempotency_key,
	state, processor_ref, failure_reason, created_at, updated_at
`

// InsertPending inserts a pending intent unless one already exists for the
// idempotency key. Returns false when another intent won the key; callers
// then re-read the winner. This is the at-most-once anchor for captures.
func (r *PaymentRepository) InsertPending(ctx context.Context, intent *models.PaymentIntent) (bool, error) {
	const query = `
		INSERT INTO payment_intents (
			id, session_id, amount_cents, currency, idempotency_key,
			state, processor_ref, failure_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		intent.ID,
		intent.SessionID,
		intent.AmountCents,
		intent.Currency,
		intent.IdempotencyKey,
		string(intent.State),
		nullString(intent.ProcessorRef),
		nullString(intent.FailureReason),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// FindByKey loads the intent owning an idempotency key, or nil when absent.
func (r *PaymentRepository) FindByKey(ctx context.Context, idempotencyKey string) (*models.PaymentIntent, error) {
	const query = `SELECT ` + intentColumns + ` FROM payment_intents WHERE idempotency_key = $1`
	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, idempotencyKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return intent, nil
}

// Get loads one intent by id.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	const query = `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return intent, nil
}

// UpdateState moves an intent to a new state, recording the processor ref and
// failure reason when present.
func (r *PaymentRepository) UpdateState(ctx context.Context, id string, state models.PaymentIntentState, processorRef, failureReason string) error {
	const query = `
		UPDATE payment_intents
		SET state = $2,
		    processor_ref = COALESCE(NULLIF($3, ''), processor_ref),
		    failure_reason = $4,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, string(state), processorRef, nullString(failureReason))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// EnqueueReconciliation records a capture failure for manual or scheduled
// follow-up. Energy was already delivered, so this row must never be lost.
func (r *PaymentRepository) EnqueueReconciliation(ctx context.Context, rec *models.ReconciliationRecord) error {
	const query = `
		INSERT INTO payment_reconciliation (session_id, intent_id, amount_cents, reason, resolved, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		rec.SessionID,
		rec.IntentID,
		rec.AmountCents,
		rec.Reason,
	).Scan(&rec.ID, &rec.CreatedAt)
}

// ListUnresolvedReconciliations returns open reconciliation rows, oldest first.
func (r *PaymentRepository) ListUnresolvedReconciliations(ctx context.Context, limit int) ([]models.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, session_id, intent_id, amount_cents, reason, resolved, created_at
		FROM payment_reconciliation
		WHERE resolved = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ReconciliationRecord
	for rows.Next() {
		var rec models.ReconciliationRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.IntentID, &rec.AmountCents, &rec.Reason, &rec.Resolved, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanIntent(row rowScanner) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	var state string
	var processorRef, failureReason sql.NullString

	if err := row.Scan(
		&intent.ID,
		&intent.SessionID,
		&intent.AmountCents,
		&intent.Currency,
		&intent.IdempotencyKey,
		&state,
		&processorRef,
		&failureReason,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	); err != nil {
		return nil, err
	}

	intent.State = models.PaymentIntentState(state)
	intent.ProcessorRef = processorRef.String
	intent.FailureReason = failureReason.String
	return &intent, nil
}
