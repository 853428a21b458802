package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/provider"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{
		Name:        "volta",
		BaseURL:     server.URL,
		CallTimeout: 2 * time.Second,
	}, provider.NewTokenSource(StaticToken("key-1")), zap.NewNop())
}

func TestListNearbyDecodesStations(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"stations": []map[string]interface{}{
				{
					"station_id": "v-1",
					"name":       "Pier 39",
					"latitude":   37.80,
					"longitude":  -122.41,
					"chargers": []map[string]interface{}{
						{"charger_id": "c1", "connector_type": "ccs", "power_kw": 150, "available": true},
					},
				},
			},
		})
	}))

	stations, err := adapter.ListNearby(context.Background(), models.LatLng{Lat: 37.8, Lng: -122.41}, 1000)
	if err != nil {
		t.Fatalf("list nearby: %v", err)
	}
	if len(stations) != 1 || stations[0].NativeID != "v-1" {
		t.Fatalf("unexpected stations: %+v", stations)
	}
	if len(stations[0].Chargers) != 1 || stations[0].Chargers[0].ConnectorType != "ccs" {
		t.Fatalf("unexpected chargers: %+v", stations[0].Chargers)
	}
}

func TestStatusCodeClassification(t *testing.T) {
	cases := map[int]provider.ErrorKind{
		http.StatusUnauthorized:       provider.KindUnauthorized,
		http.StatusForbidden:          provider.KindUnauthorized,
		http.StatusNotFound:           provider.KindNotFound,
		http.StatusConflict:           provider.KindConflict,
		http.StatusGatewayTimeout:     provider.KindTimeout,
		http.StatusInternalServerError: provider.KindUnavailable,
		http.StatusBadGateway:         provider.KindUnavailable,
	}

	for status, want := range cases {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"detail": "nope"})
		}))

		_, err := adapter.GetStation(context.Background(), "v-1")
		if err == nil {
			t.Fatalf("status %d must error", status)
		}
		if got := provider.KindOf(err); got != want {
			t.Errorf("status %d classified %s, want %s", status, got, want)
		}
	}
}

func TestStartSessionConflictSurfacesOccupiedCharger(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"detail": "charger occupied"})
	}))

	_, err := adapter.StartSession(context.Background(), "c1")
	if !provider.IsKind(err, provider.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUnauthorizedRetriedOnceWithFreshToken(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-2" {
			t.Errorf("retry must carry the fresh token, got %q", got)
		}
		json.NewEncoder(w).Encode(provider.SessionRef{NativeSessionID: "s-1"})
	}))
	defer server.Close()

	issued := 0
	tokens := provider.NewTokenSource(func(context.Context) (string, error) {
		issued++
		if issued == 1 {
			return "key-1", nil
		}
		return "key-2", nil
	})
	adapter := New(Config{Name: "volta", BaseURL: server.URL, CallTimeout: 2 * time.Second}, tokens, zap.NewNop())

	ref, err := adapter.StartSession(context.Background(), "c1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if ref.NativeSessionID != "s-1" {
		t.Fatalf("unexpected session ref %+v", ref)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 HTTP calls, got %d", calls.Load())
	}
}

func TestDeadlineClassifiedAsTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	tokens := provider.NewTokenSource(StaticToken("key-1"))
	adapter := New(Config{Name: "volta", BaseURL: server.URL, CallTimeout: 50 * time.Millisecond}, tokens, zap.NewNop())

	_, err := adapter.GetSessionStatus(context.Background(), "s-1")
	if !provider.IsKind(err, provider.KindTimeout) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}
