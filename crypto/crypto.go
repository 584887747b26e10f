// Package crypto provides at-rest encryption for operator-rotated secrets
// (broker API credentials persisted outside the env-var bootstrap path).
// Scope is deliberately narrow: one AES-256-GCM data key, symmetric
// encrypt/decrypt of short strings for storage in a key-value table or a
// GORM column. There is no inbound API accepting client-encrypted payloads
// in this control plane, so the hybrid RSA-wrap scheme the teacher used for
// browser-submitted secrets has no caller here and was dropped.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

const (
	storagePrefix    = "ENC:v1:"
	storageDelimiter = ":"
)

// EnvDataEncryptionKey names the env var holding the AES data encryption
// key, Base64 or hex encoded, or any passphrase (hashed down to 32 bytes).
const EnvDataEncryptionKey = "DATA_ENCRYPTION_KEY"

// CryptoService holds the AES-GCM data key used to encrypt/decrypt values
// at rest.
type CryptoService struct {
	dataKey []byte
}

// NewCryptoService loads the data encryption key from the environment.
func NewCryptoService() (*CryptoService, error) {
	dataKey, err := loadDataKeyFromEnv()
	if err != nil {
		return nil, err
	}
	return &CryptoService{dataKey: dataKey}, nil
}

func loadDataKeyFromEnv() ([]byte, error) {
	keyStr := strings.TrimSpace(os.Getenv(EnvDataEncryptionKey))
	if keyStr == "" {
		return nil, errors.New("environment variable " + EnvDataEncryptionKey + " not set")
	}

	if key, ok := decodePossibleKey(keyStr); ok {
		return key, nil
	}

	sum := sha256.Sum256([]byte(keyStr))
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key, nil
}

// decodePossibleKey tries Base64 and then hex, passing the decoded bytes
// through normalizeAESKey. When none decodes, loadDataKeyFromEnv hashes
// the raw passphrase down to key length instead.
func decodePossibleKey(value string) ([]byte, bool) {
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		hex.DecodeString,
	}

	for _, decoder := range decoders {
		if decoded, err := decoder(value); err == nil {
			if key, ok := normalizeAESKey(decoded); ok {
				return key, true
			}
		}
	}

	return nil, false
}

func normalizeAESKey(raw []byte) ([]byte, bool) {
	switch len(raw) {
	case 16, 24, 32:
		return raw, true
	case 0:
		return nil, false
	default:
		sum := sha256.Sum256(raw)
		key := make([]byte, len(sum))
		copy(key, sum[:])
		return key, true
	}
}

// HasDataKey reports whether a usable data key was loaded.
func (cs *CryptoService) HasDataKey() bool {
	return cs != nil && len(cs.dataKey) > 0
}

// EncryptForStorage encrypts plaintext with AES-256-GCM and returns a
// storage-safe string (ENC:v1:<nonce-b64>:<ciphertext-b64>). Empty input
// round-trips as empty; already-encrypted input passes through unchanged so
// re-saving a loaded record doesn't double-encrypt it.
func (cs *CryptoService) EncryptForStorage(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if !cs.HasDataKey() {
		return "", errors.New("data encryption key not configured")
	}
	if isEncryptedStorageValue(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(cs.dataKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return storagePrefix +
		base64.StdEncoding.EncodeToString(nonce) + storageDelimiter +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptFromStorage reverses EncryptForStorage.
func (cs *CryptoService) DecryptFromStorage(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !cs.HasDataKey() {
		return "", errors.New("data encryption key not configured")
	}
	if !isEncryptedStorageValue(value) {
		return "", errors.New("value is not encrypted")
	}

	payload := strings.TrimPrefix(value, storagePrefix)
	parts := strings.SplitN(payload, storageDelimiter, 2)
	if len(parts) != 2 {
		return "", errors.New("invalid encrypted value format")
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errors.New("invalid nonce encoding")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("invalid ciphertext encoding")
	}

	block, err := aes.NewCipher(cs.dataKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(nonce) != gcm.NonceSize() {
		return "", errors.New("invalid nonce length")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("decryption failed")
	}

	return string(plaintext), nil
}

// IsEncryptedStorageValue reports whether value already carries the
// encrypted-storage envelope.
func (cs *CryptoService) IsEncryptedStorageValue(value string) bool {
	return isEncryptedStorageValue(value)
}

func isEncryptedStorageValue(value string) bool {
	return strings.HasPrefix(value, storagePrefix)
}

// GenerateDataKey returns a fresh Base64-encoded 32-byte AES-256 key, for
// operators provisioning DATA_ENCRYPTION_KEY.
func GenerateDataKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// ============================================================================
// EncryptedString - GORM custom type for automatic encryption/decryption
// ============================================================================

var globalCryptoService *CryptoService

// SetGlobalCryptoService sets the crypto service EncryptedString columns use
// to transparently encrypt/decrypt on save/load.
func SetGlobalCryptoService(cs *CryptoService) {
	globalCryptoService = cs
}

// EncryptedString is a GORM column type that encrypts on Value() and
// decrypts on Scan(). Use it in place of string for any persisted field
// that should not be readable directly from the database.
type EncryptedString string

func (es *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		*es = ""
		return nil
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		*es = ""
		return nil
	}

	if globalCryptoService != nil && str != "" && globalCryptoService.IsEncryptedStorageValue(str) {
		decrypted, err := globalCryptoService.DecryptFromStorage(str)
		if err != nil {
			*es = EncryptedString(str)
		} else {
			*es = EncryptedString(decrypted)
		}
	} else {
		*es = EncryptedString(str)
	}
	return nil
}

func (es EncryptedString) Value() (driver.Value, error) {
	if es == "" {
		return "", nil
	}

	if globalCryptoService != nil {
		encrypted, err := globalCryptoService.EncryptForStorage(string(es))
		if err != nil {
			return string(es), nil
		}
		return encrypted, nil
	}
	return string(es), nil
}

func (es EncryptedString) String() string {
	return string(es)
}
