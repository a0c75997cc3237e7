package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/flight"
)

// ErrNotLoggedIn is returned when no credentials are available at all.
var ErrNotLoggedIn = errors.New("not logged in")

// defaultExpirySkew refreshes this long before the access token actually
// expires, so a token never dies mid-request.
const defaultExpirySkew = 30 * time.Second

// RefreshFunc exchanges a refresh token for a new pair. The Client provides
// one bound to POST /auth/refresh.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// PersistFunc is called with every new pair so the caller can write it back
// to the credentials file.
type PersistFunc func(pair TokenPair) error

// TokenSource hands out a valid access token, refreshing it through a
// single-flight group: twenty goroutines asking for a token during expiry
// produce exactly one refresh request.
type TokenSource struct {
	refreshFn RefreshFunc
	persistFn PersistFunc
	skew      time.Duration
	group     flight.Group[TokenPair]
	log       zerolog.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewTokenSource builds a source from stored credentials. persist may be nil
// when the caller does not need pairs written back.
func NewTokenSource(pair TokenPair, refreshFn RefreshFunc, persist PersistFunc, logger zerolog.Logger) *TokenSource {
	ts := &TokenSource{
		refreshFn:    refreshFn,
		persistFn:    persist,
		skew:         defaultExpirySkew,
		log:          logger,
		accessToken:  pair.AccessToken,
		refreshToken: pair.RefreshToken,
	}
	ts.expiresAt = tokenExpiry(pair.AccessToken)
	return ts
}

// Token returns an access token that is valid for at least the expiry skew,
// refreshing first when needed.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.accessToken == "" && ts.refreshToken == "" {
		ts.mu.Unlock()
		return "", ErrNotLoggedIn
	}
	if ts.accessToken != "" && (ts.expiresAt.IsZero() || time.Now().Before(ts.expiresAt.Add(-ts.skew))) {
		token := ts.accessToken
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	pair, err := ts.group.Do(ctx, ts.refresh)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// Invalidate drops the current access token so the next Token call
// refreshes. Called after the server answers 401 despite a token that
// looked fresh.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.accessToken = ""
	ts.expiresAt = time.Time{}
}

// Stats exposes the refresh counters for the status surface.
func (ts *TokenSource) Stats() flight.Metrics {
	return ts.group.Stats()
}

func (ts *TokenSource) refresh(ctx context.Context) (TokenPair, error) {
	ts.mu.Lock()
	refreshToken := ts.refreshToken
	ts.mu.Unlock()
	if refreshToken == "" {
		return TokenPair{}, ErrNotLoggedIn
	}

	pair, err := ts.refreshFn(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to refresh token: %w", err)
	}

	ts.mu.Lock()
	ts.accessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		ts.refreshToken = pair.RefreshToken
	}
	ts.expiresAt = tokenExpiry(pair.AccessToken)
	if ts.expiresAt.IsZero() && pair.ExpiresIn > 0 {
		ts.expiresAt = time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second)
	}
	ts.mu.Unlock()

	ts.log.Debug().Time("expires_at", ts.expiresAt).Msg("access token refreshed")

	if ts.persistFn != nil {
		if err := ts.persistFn(pair); err != nil {
			// The new pair still works for this process; losing it only
			// costs a refresh on the next start.
			ts.log.Warn().Err(err).Msg("failed to persist refreshed credentials")
		}
	}
	return pair, nil
}

// tokenExpiry reads the exp claim without verifying the signature - the
// client only schedules refreshes, the server remains the verifier. Returns
// the zero time when the token is opaque.
func tokenExpiry(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
