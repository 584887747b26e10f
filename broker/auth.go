// Authentication sub-component for the broker client. Caches the broker
// access token for 24h with a 1h safety margin, per spec §4.8.
package broker

import (
	"fmt"
	"os"
	"sync"
	"time"

	"tradeguard/errs"
)

const (
	tokenTTL         = 24 * time.Hour
	tokenSafetyMargin = 1 * time.Hour
)

// Credentials are the broker API key/secret, read from the environment the
// same way the teacher's config package reads its exchange keys.
type Credentials struct {
	APIKey    string
	APISecret string
}

// CredentialsFromEnv reads GROWW_API_KEY / GROWW_API_SECRET.
func CredentialsFromEnv() Credentials {
	return Credentials{
		APIKey:    os.Getenv("GROWW_API_KEY"),
		APISecret: os.Getenv("GROWW_API_SECRET"),
	}
}

// tokenFetcher calls the broker's token endpoint. Extracted as a field so
// tests can substitute a fake without a network round-trip.
type tokenFetcher func(creds Credentials) (string, error)

// AuthManager holds the cached access token and refreshes it on demand.
type AuthManager struct {
	mu    sync.Mutex
	creds Credentials
	fetch tokenFetcher

	accessToken string
	createdAt   time.Time
	hasToken    bool
}

// NewAuthManager constructs an AuthManager. creds must carry a non-empty
// APIKey and APISecret; missing credentials is an AuthenticationError raised
// immediately, per spec §4.8, rather than deferred to first use.
func NewAuthManager(creds Credentials, fetch tokenFetcher) (*AuthManager, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, errs.NewAuthenticationError("missing broker credentials")
	}
	return &AuthManager{creds: creds, fetch: fetch}, nil
}

// GetAccessToken returns the cached token when its age is under ttl-margin,
// otherwise refreshes it via the token endpoint under lock.
func (a *AuthManager) GetAccessToken(force bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !force && a.hasToken && time.Since(a.createdAt) < tokenTTL-tokenSafetyMargin {
		return a.accessToken, nil
	}

	token, err := a.fetch(a.creds)
	if err != nil {
		return "", errs.NewAuthenticationError("token refresh failed: %v", err)
	}
	a.accessToken = token
	a.createdAt = time.Now()
	a.hasToken = true
	return a.accessToken, nil
}

// InvalidateToken drops the cached token, forcing the next GetAccessToken
// call to refresh regardless of age.
func (a *AuthManager) InvalidateToken() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hasToken = false
	a.accessToken = ""
}

// TokenInfo is the diagnostic view of token state. The token itself is
// never included, per spec §4.8.
type TokenInfo struct {
	Valid bool
	Age   time.Duration
}

// Info reports token validity and age without exposing its value.
func (a *AuthManager) Info() TokenInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasToken {
		return TokenInfo{}
	}
	age := time.Since(a.createdAt)
	return TokenInfo{Valid: age < tokenTTL-tokenSafetyMargin, Age: age}
}

func (i TokenInfo) String() string {
	return fmt.Sprintf("valid=%v age=%s", i.Valid, i.Age.Round(time.Second))
}
