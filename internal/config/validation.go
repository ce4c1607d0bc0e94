package config

import (
	"fmt"
	"net/url"
)

// Validate checks that every configuration value is usable.
// It does NOT touch the key pool: an empty pool is a legitimate state at
// startup and becomes an error only on first use (see GenerationKeys).
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}

	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("%w: %d (must be 1-10)", ErrInvalidMaxRetries, c.MaxRetries)
	}

	for name, host := range map[string]string{
		"storage_host": c.StorageHost,
		"public_host":  c.PublicHost,
		"ai_host":      c.AIHost,
	} {
		u, err := url.Parse(host)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s=%q", ErrInvalidHost, name, host)
		}
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	return nil
}
