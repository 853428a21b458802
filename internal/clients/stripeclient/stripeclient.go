// Package stripeclient implements the payment-processor capability against Stripe.
package stripeclient

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"go.uber.org/zap"

	"chargehub/internal/payment"
)

// Client captures and refunds through Stripe PaymentIntents.
type Client struct {
	logger *zap.Logger
}

// New configures the global stripe key and returns the client.
func New(secretKey string, logger *zap.Logger) *Client {
	stripe.Key = secretKey
	return &Client{logger: logger}
}

// Capture creates and confirms a PaymentIntent. The idempotency key is passed
// through to Stripe so a retried request cannot double-charge.
func (c *Client) Capture(ctx context.Context, req payment.CaptureRequest) (*payment.CaptureResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String(req.Description),
		Confirm:     stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, classify(err)
	}

	c.logger.Debug("stripe payment intent confirmed",
		zap.String("stripe_intent", intent.ID),
		zap.Int64("amount_cents", req.AmountCents),
	)
	return &payment.CaptureResult{ProcessorRef: intent.ID}, nil
}

// Refund reverses a captured PaymentIntent, partially when AmountCents is set.
func (c *Client) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProcessorRef),
	}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	params.Context = ctx

	ref, err := refund.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &payment.RefundResult{RefundRef: ref.ID}, nil
}

// classify maps Stripe errors onto the processor error taxonomy. Card declines
// and invalid requests are permanent; connectivity, rate limits and Stripe-side
// faults are worth a bounded retry.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		transient := stripeErr.Type == stripe.ErrorTypeAPI ||
			stripeErr.HTTPStatusCode == 429 ||
			stripeErr.HTTPStatusCode >= 500
		return &payment.ProcessorError{
			Transient: transient,
			Message:   stripeErr.Msg,
			Err:       err,
		}
	}
	return &payment.ProcessorError{Transient: true, Message: err.Error(), Err: err}
}
