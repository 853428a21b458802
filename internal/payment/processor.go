package payment

import (
	"context"
	"errors"
	"fmt"
)

// CaptureRequest asks the processor to take the money for a completed session.
// The idempotency key is forwarded so the processor also deduplicates on its side.
type CaptureRequest struct {
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Description    string
}

// CaptureResult reports the processor's reference for a successful capture.
type CaptureResult struct {
	ProcessorRef string
}

// RefundRequest reverses a captured payment, optionally partially.
type RefundRequest struct {
	ProcessorRef string
	AmountCents  int64 // 0 means full refund
	Reason       string
}

// RefundResult reports the processor's refund reference.
type RefundResult struct {
	RefundRef string
}

// Processor is the payment-processor capability this core consumes. Concrete
// wire formats live in their own client packages.
type Processor interface {
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ProcessorError classifies processor failures for retry decisions.
type ProcessorError struct {
	Transient bool
	Message   string
	Err       error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("payment processor: %s", e.Message)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// IsTransient reports whether the failure is worth a bounded retry.
func IsTransient(err error) bool {
	var pe *ProcessorError
	return errors.As(err, &pe) && pe.Transient
}
