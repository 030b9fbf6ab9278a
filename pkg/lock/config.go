package lock

import (
	"errors"
	"time"
)

var (
	// ErrKeyRequired is returned when the lock key is empty
	ErrKeyRequired = errors.New("lock key is required")
	// ErrInvalidTTL is returned when the lease TTL is too short to renew
	ErrInvalidTTL = errors.New("lock ttl must be at least 1s")
)

// Config defines the Redis run lock. An empty URL disables locking.
type Config struct {
	URL string        `yaml:"url"`
	Key string        `yaml:"key" default:"harvester:lock"`
	TTL time.Duration `yaml:"ttl" default:"30s"`
}

// Enabled reports whether a Redis URL was configured
func (c *Config) Enabled() bool {
	return c.URL != ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.Key == "" {
		return ErrKeyRequired
	}

	if c.TTL < time.Second {
		return ErrInvalidTTL
	}

	return nil
}
