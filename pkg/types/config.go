// Package types provides configuration types for the trading pipeline.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full system configuration, loaded once at process start.
type Config struct {
	Mode    TradingMode `mapstructure:"mode" json:"mode"`
	Symbols []string    `mapstructure:"symbols" json:"symbols"`

	InitialCapital decimal.Decimal `mapstructure:"-" json:"initialCapital"`
	// InitialCapitalFloat exists for viper decoding; InitialCapital is
	// derived from it during validation.
	InitialCapitalFloat float64 `mapstructure:"initial_capital" json:"-"`

	// Risk limits.
	MaxPortfolioRisk  float64 `mapstructure:"max_portfolio_risk" json:"maxPortfolioRisk"` // daily VaR budget
	MaxPositionSize   float64 `mapstructure:"max_position_size" json:"maxPositionSize"`   // fraction of portfolio
	MaxDailyTrades    int     `mapstructure:"max_daily_trades" json:"maxDailyTrades"`
	MaxDailyLoss      float64 `mapstructure:"max_daily_loss" json:"maxDailyLoss"`          // fraction of capital
	EmergencyStopLoss float64 `mapstructure:"emergency_stop_loss" json:"emergencyStopLoss"` // drawdown fraction
	MinConfidence     float64 `mapstructure:"min_confidence" json:"minConfidence"`
	MaxSimilarAssets  int     `mapstructure:"max_similar_assets" json:"maxSimilarAssets"`

	// Feature toggles.
	EnableCrypto       bool `mapstructure:"enable_crypto" json:"enableCrypto"`
	EnableShortSelling bool `mapstructure:"enable_short_selling" json:"enableShortSelling"`
	TradingHoursOnly   bool `mapstructure:"trading_hours_only" json:"tradingHoursOnly"`
	CloseOnStop        bool `mapstructure:"close_on_stop" json:"closeOnStop"`

	RebalanceFrequency string `mapstructure:"rebalance_frequency" json:"rebalanceFrequency"` // daily, weekly, monthly

	Server ServerConfig `mapstructure:"server" json:"server"`
	Store  StoreConfig  `mapstructure:"store" json:"store"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Host         string        `mapstructure:"host" json:"host"`
	Port         int           `mapstructure:"port" json:"port"`
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"writeTimeout"`
}

// StoreConfig configures checkpoint persistence.
type StoreConfig struct {
	Backend string `mapstructure:"backend" json:"backend"` // "file", "memory"
	DataDir string `mapstructure:"data_dir" json:"dataDir"`
}

// DefaultConfig returns the default system configuration.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeModerate,
		Symbols:             []string{"BTCUSD", "ETHUSD", "SOLUSD", "AAPL", "MSFT"},
		InitialCapitalFloat: 1_000_000,
		InitialCapital:      decimal.NewFromInt(1_000_000),
		MaxPortfolioRisk:    0.02,
		MaxPositionSize:     0.10,
		MaxDailyTrades:      100,
		MaxDailyLoss:        0.05,
		EmergencyStopLoss:   0.10,
		MinConfidence:       0.6,
		MaxSimilarAssets:    3,
		EnableCrypto:        true,
		EnableShortSelling:  true,
		TradingHoursOnly:    false,
		CloseOnStop:         false,
		RebalanceFrequency:  "daily",
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			Enabled:      true,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Backend: "file",
			DataDir: "./data",
		},
	}
}

// Validate checks the configuration and derives decimal fields.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeConservative, ModeModerate, ModeAggressive, ModeCustom:
	default:
		return fmt.Errorf("invalid trading mode: %q", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.InitialCapitalFloat <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapitalFloat)
	}
	c.InitialCapital = decimal.NewFromFloat(c.InitialCapitalFloat)
	if c.MaxPortfolioRisk <= 0 || c.MaxPortfolioRisk >= 1 {
		return fmt.Errorf("max_portfolio_risk must be in (0,1), got %v", c.MaxPortfolioRisk)
	}
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		return fmt.Errorf("max_position_size must be in (0,1], got %v", c.MaxPositionSize)
	}
	if c.MaxDailyTrades <= 0 {
		return fmt.Errorf("max_daily_trades must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", c.MinConfidence)
	}
	switch c.RebalanceFrequency {
	case "daily", "weekly", "monthly":
	default:
		return fmt.Errorf("invalid rebalance_frequency: %q", c.RebalanceFrequency)
	}
	return nil
}
