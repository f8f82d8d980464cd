package scheduler

import (
	"time"

	"github.com/smallbiznis/storagebill/internal/config"
)

// Config controls the batch sweep. It is rebuilt from the engine config at the
// start of each run so reloaded values apply to the next batch.
type Config struct {
	Workers         int
	BatchTimeout    time.Duration
	CustomerTimeout time.Duration
	LeaseTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		BatchTimeout:    30 * time.Minute,
		CustomerTimeout: 30 * time.Second,
		LeaseTTL:        15 * time.Minute,
	}
}

func configFrom(engine config.EngineConfig) Config {
	return Config{
		Workers:         engine.Workers,
		BatchTimeout:    engine.BatchTimeout,
		CustomerTimeout: engine.CustomerTimeout,
		LeaseTTL:        engine.LeaseTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaults.BatchTimeout
	}
	if c.CustomerTimeout <= 0 {
		c.CustomerTimeout = defaults.CustomerTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	return c
}
