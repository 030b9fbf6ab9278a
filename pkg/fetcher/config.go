package fetcher

import (
	"errors"

	"github.com/ethpandaops/harvester/pkg/catalog"
)

var (
	// ErrInvalidPageSize is returned when page size is not positive
	ErrInvalidPageSize = errors.New("page size must be positive")
	// ErrInvalidConcurrency is returned when concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
	// ErrInvalidProbability is returned when the probability threshold is outside [0, 1]
	ErrInvalidProbability = errors.New("min probability must be within [0, 1]")
	// ErrClassRequired is returned when classifier or class name is empty
	ErrClassRequired = errors.New("classifier and class name are required")
)

// Config selects which candidates are harvested and how they are fetched
type Config struct {
	Classifier     string  `yaml:"classifier" default:"stamp_classifier"`
	ClassName      string  `yaml:"className" default:"SN"`
	MinProbability float64 `yaml:"minProbability" default:"0.7"`
	PageSize       int     `yaml:"pageSize" default:"50"`
	MinEpoch       float64 `yaml:"minEpoch" default:"60000"`
	Concurrency    int     `yaml:"concurrency" default:"4"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Classifier == "" || c.ClassName == "" {
		return ErrClassRequired
	}

	if c.MinProbability < 0 || c.MinProbability > 1 {
		return ErrInvalidProbability
	}

	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	return nil
}

func (c *Config) query(page int) catalog.CandidateQuery {
	return catalog.CandidateQuery{
		Classifier:     c.Classifier,
		ClassName:      c.ClassName,
		MinProbability: c.MinProbability,
		PageSize:       c.PageSize,
		Page:           page,
		MinEpoch:       c.MinEpoch,
	}
}
