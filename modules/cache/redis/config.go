package rediscache

import (
	"errors"
	"time"
)

const (
	defaultPrefix      = "sgate:"
	defaultDialTimeout = 5 * time.Second
)

// Config holds the Redis fast cache configuration.
type Config struct {
	// Addr is host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password authenticates against Redis. Supports ${VAR} expansion.
	Password string `yaml:"password"`

	DB int `yaml:"db"`

	// Prefix namespaces every key. Defaults to "sgate:".
	Prefix string `yaml:"prefix"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("redis: addr is required"))
	}
	if c.DB < 0 {
		errs = append(errs, errors.New("redis: db must be non-negative"))
	}
	return errors.Join(errs...)
}
