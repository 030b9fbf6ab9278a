// Package catalog provides a client for the ALeRCE alert-broker REST API
package catalog

import (
	"errors"
	"net/url"
	"time"
)

// Static errors for configuration validation
var (
	ErrURLRequired = errors.New("catalog URL is required")
	ErrInvalidURL  = errors.New("catalog URL must be an absolute http(s) URL")
)

// Config contains the broker connection settings
type Config struct {
	URL       string        `yaml:"url" default:"https://api.alerce.online/ztf/v1" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" default:"30s"`
	KeepAlive time.Duration `yaml:"keepAlive" default:"30s"`
	Debug     bool          `yaml:"debug"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	return nil
}

// SetDefaults sets default values for zero durations
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}
}
