package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	SetJWTSecret("test-secret")
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("operator-1")
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.OperatorID)
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	_, err := ValidateJWT("not-a-jwt")
	assert.Error(t, err)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("RESUME_TRADING_2024", "RESUME_TRADING_2024"))
	assert.False(t, ConstantTimeEqual("wrong", "RESUME_TRADING_2024"))
	assert.False(t, ConstantTimeEqual("", "RESUME_TRADING_2024"))
}

func TestTokenBlacklist(t *testing.T) {
	token := "sample-token"
	assert.False(t, IsTokenBlacklisted(token))

	BlacklistToken(token, time.Now().Add(time.Minute))
	assert.True(t, IsTokenBlacklisted(token))
}

func TestBlacklistEntryExpires(t *testing.T) {
	token := "expiring-token"
	BlacklistToken(token, time.Now().Add(-time.Second))
	assert.False(t, IsTokenBlacklisted(token))
}

func TestGenerateOTPSecretAndVerify(t *testing.T) {
	secret, err := GenerateOTPSecret()
	require.NoError(t, err)
	assert.NotEmpty(t, secret)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	assert.True(t, VerifyOTP(secret, code))
}

func TestGetOTPQRCodeURL(t *testing.T) {
	url := GetOTPQRCodeURL("ABC123", "operator-1")
	assert.Contains(t, url, "otpauth://totp/")
	assert.Contains(t, url, "operator-1")
	assert.Contains(t, url, "ABC123")
}
