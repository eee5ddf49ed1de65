package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EngineConfig tunes the admission engine: how long a hold lives and how
// often the reconciliation sweeps run.  Durations are parsed with
// time.ParseDuration ("5m", "3s").
type EngineConfig struct {
	HoldTTL             time.Duration `validate:"gte=1s"`
	SweepInterval       time.Duration `validate:"gt=0"`
	PromotionInterval   time.Duration `validate:"gt=0"`
	TicketSweepInterval time.Duration `validate:"gt=0"`
	SweepBatchSize      int           `validate:"gte=1,lte=10000"`
	PromotionBatchSize  int           `validate:"gte=1,lte=100000"`
	ShutdownTimeout     time.Duration `validate:"gt=0"`
}

// LoadEngineConfig reads the engine settings from the environment, falling
// back to production defaults, and validates the result.
func LoadEngineConfig() (EngineConfig, error) {
	cfg := EngineConfig{
		HoldTTL:             envDur("HOLD_TTL", 5*time.Minute),
		SweepInterval:       envDur("SWEEP_INTERVAL", 5*time.Second),
		PromotionInterval:   envDur("PROMOTION_INTERVAL", 3*time.Second),
		TicketSweepInterval: envDur("TICKET_SWEEP_INTERVAL", 5*time.Second),
		SweepBatchSize:      envInt("SWEEP_BATCH_SIZE", 500),
		PromotionBatchSize:  envInt("PROMOTION_BATCH_SIZE", 1000),
		ShutdownTimeout:     envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags on EngineConfig.
func (c EngineConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}
