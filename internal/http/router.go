package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Nearby         http.HandlerFunc
	StationDetails http.HandlerFunc
	SessionStart   http.HandlerFunc
	SessionStop    http.HandlerFunc
	SessionStatus  http.HandlerFunc
	SessionsMe     http.HandlerFunc
	PaymentRefund  http.HandlerFunc
	Health         http.HandlerFunc
	Metrics        http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Nearby != nil {
		mux.Handle("/stations/nearby", method(http.MethodGet, routes.Nearby))
	}
	if routes.StationDetails != nil {
		mux.Handle("/stations/details", method(http.MethodGet, routes.StationDetails))
	}
	if routes.SessionStart != nil {
		mux.Handle("/sessions/start", method(http.MethodPost, routes.SessionStart))
	}
	if routes.SessionStop != nil {
		mux.Handle("/sessions/stop", method(http.MethodPost, routes.SessionStop))
	}
	if routes.SessionStatus != nil {
		mux.Handle("/sessions/status", method(http.MethodGet, routes.SessionStatus))
	}
	if routes.SessionsMe != nil {
		mux.Handle("/sessions/me", method(http.MethodGet, routes.SessionsMe))
	}
	if routes.PaymentRefund != nil {
		mux.Handle("/payments/refund", method(http.MethodPost, routes.PaymentRefund))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
