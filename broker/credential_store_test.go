package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/crypto"
)

// fakeCredentialStore mimics store.Store's GORM-backed broker_credentials
// table: it stores whatever crypto.EncryptedString.Value() produces (raw if
// no global crypto service is set, encrypted otherwise) and decrypts through
// crypto.EncryptedString.Scan on load, exactly as the real GORM column does.
type fakeCredentialStore struct {
	apiKey, apiSecret string
	saved             bool
}

func (f *fakeCredentialStore) SaveBrokerCredential(apiKey, apiSecret string) error {
	encKey, err := crypto.EncryptedString(apiKey).Value()
	if err != nil {
		return err
	}
	encSecret, err := crypto.EncryptedString(apiSecret).Value()
	if err != nil {
		return err
	}
	f.apiKey = encKey.(string)
	f.apiSecret = encSecret.(string)
	f.saved = true
	return nil
}

func (f *fakeCredentialStore) LoadBrokerCredential() (apiKey, apiSecret string, found bool, err error) {
	if !f.saved {
		return "", "", false, nil
	}
	var k, s crypto.EncryptedString
	if err := k.Scan(f.apiKey); err != nil {
		return "", "", false, err
	}
	if err := s.Scan(f.apiSecret); err != nil {
		return "", "", false, err
	}
	return string(k), string(s), true, nil
}

func testCryptoService(t *testing.T) *crypto.CryptoService {
	t.Helper()
	key, err := crypto.GenerateDataKey()
	require.NoError(t, err)
	t.Setenv(crypto.EnvDataEncryptionKey, key)
	cs, err := crypto.NewCryptoService()
	require.NoError(t, err)
	crypto.SetGlobalCryptoService(cs)
	t.Cleanup(func() { crypto.SetGlobalCryptoService(nil) })
	return cs
}

func TestCredentialStoreLoadWithNothingSavedReturnsNotFound(t *testing.T) {
	store := NewCredentialStore(&fakeCredentialStore{}, testCryptoService(t))
	_, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCredentialStoreSaveAndLoadRoundTrip(t *testing.T) {
	cfg := &fakeCredentialStore{}
	store := NewCredentialStore(cfg, testCryptoService(t))

	require.NoError(t, store.Save(Credentials{APIKey: "k1", APISecret: "s1"}))

	creds, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "k1", creds.APIKey)
	assert.Equal(t, "s1", creds.APISecret)
}

func TestCredentialStoreValuesAreEncryptedAtRest(t *testing.T) {
	cfg := &fakeCredentialStore{}
	store := NewCredentialStore(cfg, testCryptoService(t))

	require.NoError(t, store.Save(Credentials{APIKey: "k1", APISecret: "s1"}))
	assert.NotEqual(t, "k1", cfg.apiKey)
	assert.NotEqual(t, "s1", cfg.apiSecret)
}

func TestCredentialStoreSaveWithoutCryptoServiceFails(t *testing.T) {
	store := NewCredentialStore(&fakeCredentialStore{}, nil)
	err := store.Save(Credentials{APIKey: "k1", APISecret: "s1"})
	assert.Error(t, err)
}

func TestCredentialStoreLoadWithSavedValueButNoCryptoServiceFails(t *testing.T) {
	cfg := &fakeCredentialStore{}
	seeded := NewCredentialStore(cfg, testCryptoService(t))
	require.NoError(t, seeded.Save(Credentials{APIKey: "k1", APISecret: "s1"}))

	store := NewCredentialStore(cfg, nil)
	_, _, err := store.Load()
	assert.Error(t, err)
}
