package routing

import "time"

// CooldownConfig controls how long an arm is benched after failures.
type CooldownConfig struct {
	// Initial is the cooldown after the first consecutive failure.
	// Default: 1s.
	Initial time.Duration `yaml:"initial"`

	// Max caps the exponential growth. Default: 60s.
	Max time.Duration `yaml:"max"`
}

func (c *CooldownConfig) defaults() {
	if c.Initial <= 0 {
		c.Initial = time.Second
	}
	if c.Max <= 0 {
		c.Max = 60 * time.Second
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
}

// duration returns min(Initial * 2^(failures-1), Max).
func (c CooldownConfig) duration(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := c.Initial
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= c.Max || d <= 0 {
			return c.Max
		}
	}
	return min(d, c.Max)
}
