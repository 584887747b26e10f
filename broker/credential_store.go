package broker

import (
	"fmt"

	"tradeguard/crypto"
)

// brokerCredentialStore is the subset of store.Store a CredentialStore
// needs. Declared locally so broker doesn't import the store package just
// for this. apiKey/apiSecret cross this boundary as plaintext; encryption
// happens inside the store's crypto.EncryptedString column type.
type brokerCredentialStore interface {
	SaveBrokerCredential(apiKey, apiSecret string) error
	LoadBrokerCredential() (apiKey, apiSecret string, found bool, err error)
}

// CredentialStore persists broker API credentials encrypted at rest, so an
// operator can rotate GROWW_API_KEY/GROWW_API_SECRET without a redeploy.
// When nothing has been saved yet, Load reports found=false and the caller
// uses env-sourced Credentials instead.
type CredentialStore struct {
	cfg    brokerCredentialStore
	crypto *crypto.CryptoService
}

// NewCredentialStore builds a CredentialStore. cs may be nil, in which case
// Save fails, and Load reports "not found" when nothing is saved but returns
// an error when a saved value exists — rotation requires
// DATA_ENCRYPTION_KEY to be configured and crypto.SetGlobalCryptoService to
// have been called with it, so the store's EncryptedString columns can
// encrypt/decrypt transparently.
func NewCredentialStore(cfg brokerCredentialStore, cs *crypto.CryptoService) *CredentialStore {
	return &CredentialStore{cfg: cfg, crypto: cs}
}

// Save encrypts and persists creds, overwriting any previously saved value.
func (s *CredentialStore) Save(creds Credentials) error {
	if s.crypto == nil || !s.crypto.HasDataKey() {
		return fmt.Errorf("credential rotation requires %s to be configured", crypto.EnvDataEncryptionKey)
	}
	if err := s.cfg.SaveBrokerCredential(creds.APIKey, creds.APISecret); err != nil {
		return fmt.Errorf("save broker credentials: %w", err)
	}
	return nil
}

// Load returns the previously saved credentials. found is false when
// nothing has been persisted yet, in which case callers should fall back to
// CredentialsFromEnv.
func (s *CredentialStore) Load() (creds Credentials, found bool, err error) {
	apiKey, apiSecret, found, err := s.cfg.LoadBrokerCredential()
	if err != nil {
		return Credentials{}, false, fmt.Errorf("load broker credentials: %w", err)
	}
	if !found {
		return Credentials{}, false, nil
	}

	if s.crypto == nil || !s.crypto.HasDataKey() {
		return Credentials{}, false, fmt.Errorf("credentials are persisted but %s is not configured to decrypt them", crypto.EnvDataEncryptionKey)
	}
	return Credentials{APIKey: apiKey, APISecret: apiSecret}, true, nil
}
