package store

import (
	"time"

	"gorm.io/gorm"

	"tradeguard/crypto"
)

// BrokerCredentialRecord is the single-row table holding rotated broker API
// credentials. APIKey/APISecret are encrypted on Save and decrypted on Load
// transparently through crypto.EncryptedString's GORM Value/Scan hooks.
type BrokerCredentialRecord struct {
	ID        uint                   `gorm:"primaryKey"`
	APIKey    crypto.EncryptedString `gorm:"column:api_key"`
	APISecret crypto.EncryptedString `gorm:"column:api_secret"`
	UpdatedAt time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for BrokerCredentialRecord.
func (BrokerCredentialRecord) TableName() string { return "broker_credentials" }

// brokerCredentialRowID is the fixed id of the single credential row; this
// control plane talks to exactly one broker account.
const brokerCredentialRowID = 1

// SaveBrokerCredential upserts the single rotated credential row.
func (s *Store) SaveBrokerCredential(apiKey, apiSecret string) error {
	rec := BrokerCredentialRecord{
		ID:        brokerCredentialRowID,
		APIKey:    crypto.EncryptedString(apiKey),
		APISecret: crypto.EncryptedString(apiSecret),
	}
	return s.gdb.Save(&rec).Error
}

// LoadBrokerCredential returns the previously saved, decrypted credentials.
// found is false when nothing has been persisted yet.
func (s *Store) LoadBrokerCredential() (apiKey, apiSecret string, found bool, err error) {
	var rec BrokerCredentialRecord
	result := s.gdb.First(&rec, brokerCredentialRowID)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", "", false, nil
		}
		return "", "", false, result.Error
	}
	return string(rec.APIKey), string(rec.APISecret), true, nil
}
