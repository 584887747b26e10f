package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) *CryptoService {
	t.Helper()
	key, err := GenerateDataKey()
	require.NoError(t, err)
	t.Setenv(EnvDataEncryptionKey, key)
	cs, err := NewCryptoService()
	require.NoError(t, err)
	return cs
}

func TestNewCryptoServiceRejectsMissingKey(t *testing.T) {
	t.Setenv(EnvDataEncryptionKey, "")
	_, err := NewCryptoService()
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cs := testService(t)

	enc, err := cs.EncryptForStorage("GROWW_SECRET_abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "GROWW_SECRET_abc123", enc)
	assert.True(t, cs.IsEncryptedStorageValue(enc))

	dec, err := cs.DecryptFromStorage(enc)
	require.NoError(t, err)
	assert.Equal(t, "GROWW_SECRET_abc123", dec)
}

func TestEncryptForStorageEmptyIsEmpty(t *testing.T) {
	cs := testService(t)
	enc, err := cs.EncryptForStorage("")
	require.NoError(t, err)
	assert.Empty(t, enc)
}

func TestEncryptForStorageIsIdempotentOnAlreadyEncryptedInput(t *testing.T) {
	cs := testService(t)
	enc, err := cs.EncryptForStorage("plain")
	require.NoError(t, err)

	reenc, err := cs.EncryptForStorage(enc)
	require.NoError(t, err)
	assert.Equal(t, enc, reenc)
}

func TestDecryptFromStorageRejectsPlainValue(t *testing.T) {
	cs := testService(t)
	_, err := cs.DecryptFromStorage("not-encrypted")
	assert.Error(t, err)
}

func TestDecryptFromStorageFailsWithWrongKey(t *testing.T) {
	cs := testService(t)
	enc, err := cs.EncryptForStorage("top-secret")
	require.NoError(t, err)

	otherKey, err := GenerateDataKey()
	require.NoError(t, err)
	t.Setenv(EnvDataEncryptionKey, otherKey)
	other, err := NewCryptoService()
	require.NoError(t, err)

	_, err = other.DecryptFromStorage(enc)
	assert.Error(t, err)
}

func TestEncryptedStringValueAndScanRoundTripThroughGlobalService(t *testing.T) {
	cs := testService(t)
	SetGlobalCryptoService(cs)
	t.Cleanup(func() { SetGlobalCryptoService(nil) })

	es := EncryptedString("api-secret-value")
	dv, err := es.Value()
	require.NoError(t, err)
	stored, ok := dv.(string)
	require.True(t, ok)
	assert.NotEqual(t, "api-secret-value", stored)

	var scanned EncryptedString
	require.NoError(t, scanned.Scan(stored))
	assert.Equal(t, EncryptedString("api-secret-value"), scanned)
}

func TestEncryptedStringWithoutGlobalServiceIsPassthrough(t *testing.T) {
	SetGlobalCryptoService(nil)

	es := EncryptedString("raw")
	dv, err := es.Value()
	require.NoError(t, err)
	assert.Equal(t, "raw", dv)

	var scanned EncryptedString
	require.NoError(t, scanned.Scan("raw"))
	assert.Equal(t, EncryptedString("raw"), scanned)
}

func TestHasDataKeyOnNilService(t *testing.T) {
	var cs *CryptoService
	assert.False(t, cs.HasDataKey())
}
