package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthManagerRejectsMissingCredentials(t *testing.T) {
	_, err := NewAuthManager(Credentials{}, func(Credentials) (string, error) { return "tok", nil })
	assert.Error(t, err)
}

func TestGetAccessTokenFetchesAndCaches(t *testing.T) {
	calls := 0
	fetch := func(Credentials) (string, error) {
		calls++
		return "token-v1", nil
	}
	a, err := NewAuthManager(Credentials{APIKey: "k", APISecret: "s"}, fetch)
	require.NoError(t, err)

	tok, err := a.GetAccessToken(false)
	require.NoError(t, err)
	assert.Equal(t, "token-v1", tok)

	tok, err = a.GetAccessToken(false)
	require.NoError(t, err)
	assert.Equal(t, "token-v1", tok)
	assert.Equal(t, 1, calls)
}

func TestGetAccessTokenForceRefetches(t *testing.T) {
	calls := 0
	fetch := func(Credentials) (string, error) {
		calls++
		return "token", nil
	}
	a, err := NewAuthManager(Credentials{APIKey: "k", APISecret: "s"}, fetch)
	require.NoError(t, err)

	_, _ = a.GetAccessToken(false)
	_, _ = a.GetAccessToken(true)
	assert.Equal(t, 2, calls)
}

func TestGetAccessTokenPropagatesFetchError(t *testing.T) {
	fetch := func(Credentials) (string, error) { return "", errors.New("boom") }
	a, err := NewAuthManager(Credentials{APIKey: "k", APISecret: "s"}, fetch)
	require.NoError(t, err)

	_, err = a.GetAccessToken(false)
	assert.Error(t, err)
}

func TestInvalidateTokenForcesRefresh(t *testing.T) {
	calls := 0
	fetch := func(Credentials) (string, error) {
		calls++
		return "token", nil
	}
	a, err := NewAuthManager(Credentials{APIKey: "k", APISecret: "s"}, fetch)
	require.NoError(t, err)

	_, _ = a.GetAccessToken(false)
	a.InvalidateToken()
	_, _ = a.GetAccessToken(false)
	assert.Equal(t, 2, calls)
}

func TestInfoReportsValidityWithoutExposingToken(t *testing.T) {
	a, err := NewAuthManager(Credentials{APIKey: "k", APISecret: "s"}, func(Credentials) (string, error) {
		return "secret-token", nil
	})
	require.NoError(t, err)

	info := a.Info()
	assert.False(t, info.Valid)

	_, _ = a.GetAccessToken(false)
	info = a.Info()
	assert.True(t, info.Valid)
	assert.NotContains(t, info.String(), "secret-token")
}
