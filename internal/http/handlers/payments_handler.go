package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"chargehub/internal/payment"
	"chargehub/internal/repository"
)

// RefundRequest is the POST /payments/refund payload.
type RefundRequest struct {
	IntentID    string `json:"intent_id"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// NewPaymentRefundHandler returns POST /payments/refund handler.
func NewPaymentRefundHandler(payments *payment.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.IntentID == "" {
			writeError(w, http.StatusBadRequest, "intent_id required")
			return
		}
		if req.AmountCents < 0 {
			writeError(w, http.StatusBadRequest, "amount_cents must not be negative")
			return
		}

		intent, err := payments.Refund(r.Context(), req.IntentID, req.AmountCents, req.Reason)
		if err != nil {
			if errors.Is(err, repository.ErrIntentNotFound) {
				writeError(w, http.StatusNotFound, "payment intent not found")
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, intent)
	}
}
