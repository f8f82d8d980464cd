package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EngineConfig carries the billing engine tunables read from billing.yml.
type EngineConfig struct {
	Workers               int           `mapstructure:"workers"`
	BatchCron             string        `mapstructure:"batchCron"`
	BatchTimeout          time.Duration `mapstructure:"batchTimeout"`
	CustomerTimeout       time.Duration `mapstructure:"customerTimeout"`
	LeaseTTL              time.Duration `mapstructure:"leaseTTL"`
	DefaultRushMultiplier string        `mapstructure:"defaultRushMultiplier"`
	RoundingPlaces        int32         `mapstructure:"roundingPlaces"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:               4,
		BatchCron:             "5 0 * * *",
		BatchTimeout:          30 * time.Minute,
		CustomerTimeout:       30 * time.Second,
		LeaseTTL:              15 * time.Minute,
		DefaultRushMultiplier: "1",
		RoundingPlaces:        2,
	}
}

// RushMultiplier parses DefaultRushMultiplier, falling back to one.
func (c EngineConfig) RushMultiplier() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(c.DefaultRushMultiplier))
	if err != nil || !value.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return value
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder wraps a fixed config, mostly for tests and one-shot commands.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEngineConfigHolder() (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/storagebill/config")
	v.AddConfigPath("/etc/storagebill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STORAGEBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	v.SetDefault("billing.workers", defaults.Workers)
	v.SetDefault("billing.batchCron", defaults.BatchCron)
	v.SetDefault("billing.batchTimeout", defaults.BatchTimeout)
	v.SetDefault("billing.customerTimeout", defaults.CustomerTimeout)
	v.SetDefault("billing.leaseTTL", defaults.LeaseTTL)
	v.SetDefault("billing.defaultRushMultiplier", defaults.DefaultRushMultiplier)
	v.SetDefault("billing.roundingPlaces", defaults.RoundingPlaces)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := loadEngineConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticEngineConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := loadEngineConfig(v)
		if err != nil {
			log.Printf("[billing-config] reload ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// loadEngineConfig decodes the billing section over the defaults so keys
// missing from the file keep their default values.
func loadEngineConfig(v *viper.Viper) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("billing.workers must be positive")
	}
	if cfg.RoundingPlaces < 0 || cfg.RoundingPlaces > 8 {
		return errors.New("billing.roundingPlaces must be between 0 and 8")
	}
	if _, err := cron.ParseStandard(cfg.BatchCron); err != nil {
		return errors.New("billing.batchCron is not a valid cron spec")
	}
	if cfg.LeaseTTL <= 0 {
		return errors.New("billing.leaseTTL must be positive")
	}
	return nil
}
