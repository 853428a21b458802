package models

import "time"

// PaymentIntentState tracks a capture through its lifecycle.
type PaymentIntentState string

const (
	PaymentPending  PaymentIntentState = "pending"
	PaymentCaptured PaymentIntentState = "captured"
	PaymentFailed   PaymentIntentState = "failed"
	PaymentRefunded PaymentIntentState = "refunded"
)

// PaymentIntent records one attempted capture for a completed session.
// The idempotency key is a deterministic function of the session id, so retries
// and concurrent callers converge on a single row. Amounts are integer cents.
type PaymentIntent struct {
	ID             string             `db:"id" json:"id"`
	SessionID      string             `db:"session_id" json:"session_id"`
	AmountCents    int64              `db:"amount_cents" json:"amount_cents"`
	Currency       string             `db:"currency" json:"currency"`
	IdempotencyKey string             `db:"idempotency_key" json:"idempotency_key"`
	State          PaymentIntentState `db:"state" json:"state"`
	ProcessorRef   string             `db:"processor_ref" json:"processor_ref,omitempty"`
	FailureReason  string             `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}

// ReconciliationRecord is a durable marker for a session whose energy was delivered
// but whose capture could not be completed. Never dropped silently.
type ReconciliationRecord struct {
	ID          int64     `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	IntentID    string    `db:"intent_id" json:"intent_id"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Reason      string    `db:"reason" json:"reason"`
	Resolved    bool      `db:"resolved" json:"resolved"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
