package cmd

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/harvester/pkg/engine"
	"gopkg.in/yaml.v3"
)

// loadConfig reads a YAML config over the defaults. A missing file yields
// the defaults.
func loadConfig(path string) (*engine.Config, error) {
	config := &engine.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}

		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}
