// Package rest implements the provider capability against networks exposing the
// neutral JSON station/session API. Provider-specific wire protocols live in
// their own adapter implementations; this one doubles as the reference shape.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/provider"
)

// Config describes one REST provider endpoint.
type Config struct {
	Name        string
	BaseURL     string
	APIKey      string
	CallTimeout time.Duration
}

// Adapter is a JSON-over-HTTP provider.Adapter with bearer auth and
// refresh-once-on-401 semantics.
type Adapter struct {
	name        string
	baseURL     string
	client      *http.Client
	tokens      *provider.TokenSource
	callTimeout time.Duration
	logger      *zap.Logger
}

// New builds the adapter. tokens may be built from a static API key via
// StaticToken when the provider has no refresh endpoint.
func New(cfg Config, tokens *provider.TokenSource, logger *zap.Logger) *Adapter {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		name:        cfg.Name,
		baseURL:     cfg.BaseURL,
		client:      &http.Client{Timeout: timeout},
		tokens:      tokens,
		callTimeout: timeout,
		logger:      logger,
	}
}

// StaticToken returns a refresh function for providers with long-lived API keys.
func StaticToken(key string) provider.RefreshFunc {
	return func(context.Context) (string, error) { return key, nil }
}

// Name returns the provider name.
func (a *Adapter) Name() string { return a.name }

// ListNearby fetches stations around center.
func (a *Adapter) ListNearby(ctx context.Context, center models.LatLng, radiusM int) ([]provider.Station, error) {
	path := fmt.Sprintf("/stations/nearby?lat=%f&lon=%f&radius=%d", center.Lat, center.Lng, radiusM)
	var out struct {
		Stations []provider.Station `json:"stations"`
	}
	if err := a.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Stations, nil
}

// GetStation fetches one station by native id.
func (a *Adapter) GetStation(ctx context.Context, nativeID string) (*provider.Station, error) {
	var out provider.Station
	if err := a.get(ctx, "/stations/"+nativeID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSession asks the provider to energize a charger.
func (a *Adapter) StartSession(ctx context.Context, nativeChargerID string) (*provider.SessionRef, error) {
	var out provider.SessionRef
	body := map[string]string{"charger_id": nativeChargerID}
	if err := a.post(ctx, "/sessions/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopSession asks the provider to end a session and return the final tally.
func (a *Adapter) StopSession(ctx context.Context, nativeSessionID string) (*provider.SessionSummary, error) {
	var out provider.SessionSummary
	body := map[string]string{"session_id": nativeSessionID}
	if err := a.post(ctx, "/sessions/stop", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSessionStatus reports remote session progress.
func (a *Adapter) GetSessionStatus(ctx context.Context, nativeSessionID string) (*provider.SessionSummary, error) {
	var out provider.SessionSummary
	if err := a.get(ctx, "/sessions/"+nativeSessionID+"/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *Adapter) get(ctx context.Context, path string, out interface{}) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

func (a *Adapter) post(ctx context.Context, path string, body, out interface{}) error {
	return a.do(ctx, http.MethodPost, path, body, out)
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	return provider.CallWithRetry(ctx, a.tokens, func(token string) error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return provider.NewError(a.name, provider.KindTimeout, "request deadline exceeded", err)
			}
			return provider.NewError(a.name, provider.KindUnavailable, "request failed", err)
		}
		defer resp.Body.Close()

		if kind, ok := classifyStatus(resp.StatusCode); ok {
			msg := readErrorMessage(resp.Body)
			return provider.NewError(a.name, kind, msg, nil)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return provider.NewError(a.name, provider.KindUnavailable, "malformed response body", err)
		}
		return nil
	})
}

func classifyStatus(status int) (provider.ErrorKind, bool) {
	switch {
	case status < 300:
		return "", false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.KindUnauthorized, true
	case status == http.StatusNotFound:
		return provider.KindNotFound, true
	case status == http.StatusConflict:
		return provider.KindConflict, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return provider.KindTimeout, true
	default:
		return provider.KindUnavailable, true
	}
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Message
}
