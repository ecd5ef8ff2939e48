package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, sourced from the environment.
type Config struct {
	Addr     string `env:"ADDR" envDefault:":8080"`
	TickRate int    `env:"TICK_RATE" envDefault:"60"`
	SendRate int    `env:"SEND_RATE" envDefault:"20"`

	ScenarioDir    string `env:"SCENARIO_DIR"`
	WatchScenarios bool   `env:"WATCH_SCENARIOS" envDefault:"false"`
	StockFile      string `env:"STOCK_FILE"`
	HistoryDB      string `env:"HISTORY_DB" envDefault:"runs.db"`

	TASCHoldFinalNotch bool    `env:"TASC_HOLD_FINAL_NOTCH" envDefault:"true"`
	TASCTakeoverM      float64 `env:"TASC_TAKEOVER_M" envDefault:"250"`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.TickRate < 1 || cfg.TickRate > 1000 {
		return Config{}, fmt.Errorf("TICK_RATE out of range: %d", cfg.TickRate)
	}
	if cfg.SendRate < 1 || cfg.SendRate > cfg.TickRate {
		return Config{}, fmt.Errorf("SEND_RATE must be in [1, TICK_RATE], got %d", cfg.SendRate)
	}
	if cfg.TASCTakeoverM <= 0 {
		return Config{}, fmt.Errorf("TASC_TAKEOVER_M must be positive, got %v", cfg.TASCTakeoverM)
	}
	return cfg, nil
}
