package handlers

import (
	"net/http"

	"chargehub/internal/provider"
)

// ProviderHealth exposes per-provider circuit status.
type ProviderHealth struct {
	Name   string
	Health *provider.Health
}

// NewHealthHandler returns GET /health handler. The service itself is healthy
// as long as it can answer; provider statuses ride along for operators.
func NewHealthHandler(providers []ProviderHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make(map[string]string, len(providers))
		for _, p := range providers {
			statuses[p.Name] = string(p.Health.Status())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"providers": statuses,
		})
	}
}
