package provider

import "time"

// BackoffConfig controls the delay between failed attempts.
type BackoffConfig struct {
	// Base is the first delay after an ordinary failure. Default: 1s.
	Base time.Duration `yaml:"base"`

	// ConnectionBase is the first delay after a connection-class failure
	// (refused, timeout, reset). Default: 3s.
	ConnectionBase time.Duration `yaml:"connection_base"`

	// Max caps the exponential backoff duration. Default: 30s.
	Max time.Duration `yaml:"max"`
}

// withDefaults fills zero-value fields with the documented defaults.
func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.ConnectionBase <= 0 {
		c.ConnectionBase = 3 * time.Second
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	return c
}

// Delay returns the wait before attempt n+1, given that attempt n
// (1-indexed) failed with class: min(base * 2^(n-1), max).
func (c BackoffConfig) Delay(class FailureClass, n int) time.Duration {
	c = c.withDefaults()
	base := c.Base
	if class.Connection() {
		base = c.ConnectionBase
	}
	if n < 1 {
		n = 1
	}

	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.Max {
			return c.Max
		}
	}
	if d > c.Max {
		d = c.Max
	}
	return d
}
