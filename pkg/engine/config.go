// Package engine wires configuration, dependencies and services together
package engine

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/harvester/pkg/api"
	"github.com/ethpandaops/harvester/pkg/catalog"
	"github.com/ethpandaops/harvester/pkg/harvest"
	"github.com/ethpandaops/harvester/pkg/lock"
	"github.com/ethpandaops/harvester/pkg/scheduler"
	"github.com/ethpandaops/harvester/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrInvalidLogLevel is returned when logging is not a logrus level
var ErrInvalidLogLevel = errors.New("invalid log level")

// Config represents the complete harvester configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Dependencies
	Store   store.Config   `yaml:"store"`
	Catalog catalog.Config `yaml:"catalog"`
	Redis   lock.Config    `yaml:"redis"`

	Harvest   harvest.Config   `yaml:"harvest"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	API       api.Config       `yaml:"api"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := c.Harvest.Validate(); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
