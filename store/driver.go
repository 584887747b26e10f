// Package store provides the persistence layer backing the GTT store and
// the order/fill mirror, on top of GORM.
package store

// DBType selects which GORM dialector to use.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// DBConfig configures the database connection, SQLite or PostgreSQL.
type DBConfig struct {
	Type     DBType // sqlite or postgres
	Path     string // SQLite file path (for sqlite)
	Host     string // PostgreSQL host (for postgres)
	Port     int    // PostgreSQL port (for postgres)
	User     string // PostgreSQL user (for postgres)
	Password string // PostgreSQL password (for postgres)
	DBName   string // PostgreSQL database name (for postgres)
	SSLMode  string // PostgreSQL SSL mode (for postgres)
}
