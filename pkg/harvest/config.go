package harvest

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/harvester/pkg/fetcher"
)

var (
	// ErrInvalidTarget is returned when the target record count is not positive
	ErrInvalidTarget = errors.New("target records must be positive")
	// ErrInvalidMaxEmptyPages is returned when maxEmptyPages is not positive
	ErrInvalidMaxEmptyPages = errors.New("max empty pages must be positive")
	// ErrInvalidPageDelay is returned for a negative page delay
	ErrInvalidPageDelay = errors.New("page delay must not be negative")
)

// Config controls a harvest run
type Config struct {
	fetcher.Config `yaml:",inline"`

	TargetRecords int64         `yaml:"targetRecords" default:"100000"`
	PageDelay     time.Duration `yaml:"pageDelay" default:"3s"`
	MaxEmptyPages int           `yaml:"maxEmptyPages" default:"5"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}

	if c.TargetRecords <= 0 {
		return ErrInvalidTarget
	}

	if c.MaxEmptyPages <= 0 {
		return ErrInvalidMaxEmptyPages
	}

	if c.PageDelay < 0 {
		return ErrInvalidPageDelay
	}

	return nil
}
