package curtail

import (
	"fmt"
	"time"

	"github.com/kilianp07/curtaild/core/contract"
)

// Config holds the scheduling parameters. Durations are configured in
// seconds, matching the rest of the configuration surface.
type Config struct {
	// RunFrequencySeconds is the interval between scheduling cycles.
	RunFrequencySeconds int `json:"run_frequency_seconds"`
	// DAPriceFrequency is the slot length of the day-ahead market,
	// e.g. "15min" or "1h".
	DAPriceFrequency string `json:"da_price_frequency"`
	// MicrogridIDs lists the sites receiving curtailment commands.
	MicrogridIDs []int `json:"microgrid_ids"`
	// PriceLimit is the threshold above which a slot is curtailed.
	PriceLimit float64 `json:"price_limit"`
	// Retries bounds fetch attempts per cycle.
	Retries int `json:"retries"`
	// InitialBackoffSeconds is the delay before the first retry; it
	// doubles with each subsequent retry.
	InitialBackoffSeconds int `json:"initial_backoff_seconds"`
	// CountryCode selects the day-ahead market area.
	CountryCode string `json:"country_code"`
	// PowerReductionW is the curtailment amount sent in the payload.
	PowerReductionW float64 `json:"power_reduction_w"`
}

// SetDefaults applies the documented defaults.
func (c *Config) SetDefaults() {
	if c.Retries == 0 {
		c.Retries = 3
	}
	if c.InitialBackoffSeconds == 0 {
		c.InitialBackoffSeconds = 60
	}
	if c.CountryCode == "" {
		c.CountryCode = "DE_LU"
	}
}

// RunFrequency returns the cycle interval as a duration.
func (c Config) RunFrequency() time.Duration {
	return time.Duration(c.RunFrequencySeconds) * time.Second
}

// InitialBackoff returns the first retry delay as a duration.
func (c Config) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

// SlotFrequency parses the configured slot length.
func (c Config) SlotFrequency() (time.Duration, error) {
	return contract.ParseFrequency(c.DAPriceFrequency)
}

// Validate checks the configuration. The retry window check is the fatal
// startup invariant: the full backoff sequence of one cycle must finish
// before the next tick fires.
func (c Config) Validate() error {
	if c.RunFrequencySeconds <= 0 {
		return fmt.Errorf("run_frequency_seconds must be positive")
	}
	if _, err := c.SlotFrequency(); err != nil {
		return fmt.Errorf("da_price_frequency: %w", err)
	}
	if len(c.MicrogridIDs) == 0 {
		return fmt.Errorf("microgrid_ids must not be empty")
	}
	if c.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	if c.InitialBackoffSeconds <= 0 {
		return fmt.Errorf("initial_backoff_seconds must be positive")
	}
	retryWindow := c.InitialBackoff() * time.Duration((1<<uint(c.Retries))-1)
	if retryWindow >= c.RunFrequency() {
		return fmt.Errorf(
			"invalid schedule: %d retries with initial backoff %s delay up to %s, exceeding the run frequency %s",
			c.Retries, c.InitialBackoff(), retryWindow, c.RunFrequency(),
		)
	}
	return nil
}
