// Package scheduler re-runs the harvest on a cron schedule
package scheduler

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule is returned when the cron expression cannot be parsed
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// Config defines the harvest schedule. An empty schedule runs once and exits.
type Config struct {
	Schedule   string `yaml:"schedule"`
	RunOnStart bool   `yaml:"runOnStart" default:"true"`
	KeyPrefix  string `yaml:"keyPrefix" default:"harvester:scheduler:"`
}

// Enabled reports whether a schedule was configured
func (c *Config) Enabled() bool {
	return c.Schedule != ""
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, c.Schedule, err)
	}

	return nil
}
