package store

import (
	"errors"
	"fmt"
	"strings"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Static errors for configuration validation
var (
	ErrDSNRequired       = errors.New("store DSN is required")
	ErrUnsupportedDriver = errors.New("unsupported store driver")
	ErrInMemoryDSN       = errors.New("in-memory SQLite is not supported, use a file path")
)

// Config contains the store connection settings
type Config struct {
	Driver  string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	DSN     string `yaml:"dsn" default:"universe.db"`
	Migrate bool   `yaml:"migrate" default:"true"`
	// ReadOnly opens an existing database without migrating or writing
	ReadOnly bool `yaml:"-"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}

	if c.DSN == "" {
		return ErrDSNRequired
	}

	// Each connection to an in-memory database gets its own empty schema,
	// and the pool keeps no idle connection to hold one open.
	if c.Driver == DriverSQLite && (c.DSN == ":memory:" || strings.Contains(c.DSN, "mode=memory")) {
		return fmt.Errorf("%w: %q", ErrInMemoryDSN, c.DSN)
	}

	return nil
}

// sqliteDSN appends the connection parameters every SQLite connection needs.
// WAL lets read-only consumers open the file while a batch commits. A
// read-only DSN uses the file: form so SQLite honours mode=ro and never
// creates a missing file.
func sqliteDSN(dsn string, readOnly bool) string {
	params := "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on"

	if readOnly {
		params = "mode=ro&_busy_timeout=5000"

		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
	}

	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}

	return dsn + "?" + params
}
