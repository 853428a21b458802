package provider

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew refreshes tokens slightly before their actual expiry.
const expirySkew = 30 * time.Second

// RefreshFunc obtains a fresh bearer token from the provider's auth endpoint.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenSource caches a provider bearer token and refreshes it explicitly:
// proactively when the cached token's exp claim has passed, and reactively
// exactly once when a call comes back Unauthorized. There is no implicit
// interceptor; callers invoke the refresh step themselves via CallWithRetry.
type TokenSource struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	refresh   RefreshFunc
}

// NewTokenSource wraps a refresh function. A static token can be supplied by a
// refresh function that always returns it.
func NewTokenSource(refresh RefreshFunc) *TokenSource {
	return &TokenSource{refresh: refresh}
}

// Token returns a valid bearer token, refreshing when the cached one is absent
// or expired.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && (ts.expiresAt.IsZero() || time.Now().Before(ts.expiresAt)) {
		return ts.token, nil
	}
	return ts.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next Token call refreshes.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

func (ts *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	token, err := ts.refresh(ctx)
	if err != nil {
		return "", err
	}
	ts.token = token
	ts.expiresAt = tokenExpiry(token)
	return token, nil
}

// tokenExpiry probes the JWT exp claim without verifying the signature; the
// provider verifies, we only need the deadline. Opaque tokens get no expiry
// and rely on reactive refresh.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.Add(-expirySkew)
}

// CallWithRetry runs call with a bearer token and, on Unauthorized, refreshes
// the token and retries exactly once. All other failures pass through.
func CallWithRetry(ctx context.Context, ts *TokenSource, call func(token string) error) error {
	token, err := ts.Token(ctx)
	if err != nil {
		return err
	}

	err = call(token)
	if err == nil || !IsKind(err, KindUnauthorized) {
		return err
	}

	ts.Invalidate()
	token, refreshErr := ts.Token(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	return call(token)
}
