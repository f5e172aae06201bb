package refresh

import "time"

// Config controls the refresh loop. A zero ItemDelay disables pacing;
// a zero MaxPriceChangeRatio accepts any fetched price.
type Config struct {
	Enabled             bool
	Interval            time.Duration
	BatchSize           int
	StaleAfter          time.Duration
	ItemDelay           time.Duration
	FetchTimeout        time.Duration
	LockTTL             time.Duration
	MaxPriceChangeRatio float64
}

func DefaultConfig() Config {
	return Config{
		Interval:     2 * time.Hour,
		BatchSize:    5,
		StaleAfter:   2 * time.Hour,
		ItemDelay:    5 * time.Second,
		FetchTimeout: 30 * time.Second,
		LockTTL:      30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.ItemDelay < 0 {
		c.ItemDelay = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaults.FetchTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.MaxPriceChangeRatio < 0 {
		c.MaxPriceChangeRatio = 0
	}
	return c
}
