// Package store provides the unified database storage layer. All
// persistence goes through this package.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"tradeguard/logger"
)

// Store is the unified data storage handle, wrapping GORM plus the lazily
// constructed GTT and order sub-stores.
type Store struct {
	gdb *gorm.DB
	db  *sql.DB

	gtt   *GTTStore
	order *OrderStore

	mu sync.RWMutex
}

// New creates a Store in SQLite mode.
func New(dbPath string) (*Store, error) {
	return NewWithConfig(DBConfig{Type: DBTypeSQLite, Path: dbPath})
}

// NewWithConfig creates a Store from the given database configuration.
func NewWithConfig(cfg DBConfig) (*Store, error) {
	gdb, err := InitGormWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	s := &Store{gdb: gdb, db: sqlDB}

	if err := s.initTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	dbTypeStr := "SQLite"
	if cfg.Type == DBTypePostgres {
		dbTypeStr = "PostgreSQL"
	}
	logger.Infof("database initialized (GORM, %s)", dbTypeStr)
	return s, nil
}

// NewFromGorm creates a Store from an existing GORM connection.
func NewFromGorm(gdb *gorm.DB) (*Store, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	s := &Store{gdb: gdb, db: sqlDB}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	if err := s.gdb.Exec(`
		CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create system_config table: %w", err)
	}

	if err := s.GTT().InitTables(); err != nil {
		return fmt.Errorf("failed to initialize gtt tables: %w", err)
	}

	if err := s.gdb.AutoMigrate(&BrokerCredentialRecord{}); err != nil {
		return fmt.Errorf("failed to migrate broker_credentials table: %w", err)
	}
	return nil
}

// GTT returns GTT storage, lazily constructed.
func (s *Store) GTT() *GTTStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gtt == nil {
		s.gtt = NewGTTStore(s.gdb)
	}
	return s.gtt
}

// Order returns order-mirror storage, lazily constructed.
func (s *Store) Order() *OrderStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		s.order = NewOrderStore(s.gdb)
	}
	return s.order
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GormDB returns the underlying GORM connection.
func (s *Store) GormDB() *gorm.DB {
	return s.gdb
}

// DB returns the underlying *sql.DB, for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DBType reports whether the underlying connection is sqlite or postgres.
func (s *Store) DBType() DBType {
	if s.gdb != nil && s.gdb.Dialector.Name() == "postgres" {
		return DBTypePostgres
	}
	return DBTypeSQLite
}

// GetSystemConfig reads a system configuration value by key.
func (s *Store) GetSystemConfig(key string) (string, error) {
	var value string
	result := s.gdb.Raw("SELECT value FROM system_config WHERE key = ?", key).Scan(&value)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", nil
	}
	return value, nil
}

// SetSystemConfig upserts a system configuration value.
func (s *Store) SetSystemConfig(key, value string) error {
	return s.gdb.Exec(`
		INSERT INTO system_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value).Error
}

// Transaction runs fn inside a GORM transaction.
func (s *Store) Transaction(fn func(tx *gorm.DB) error) error {
	return s.gdb.Transaction(fn)
}
