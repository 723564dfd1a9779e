// Package config loads system configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/quantrel/autotrader/pkg/types"
)

// Load reads configuration from the given file path (optional) and the
// environment, layered over the built-in defaults. Environment variables
// use the AUTOTRADER_ prefix with underscores, e.g. AUTOTRADER_MAX_DAILY_LOSS.
func Load(path string) (types.Config, error) {
	v := viper.New()

	defaults := types.DefaultConfig()
	v.SetDefault("mode", string(defaults.Mode))
	v.SetDefault("symbols", defaults.Symbols)
	v.SetDefault("initial_capital", defaults.InitialCapitalFloat)
	v.SetDefault("max_portfolio_risk", defaults.MaxPortfolioRisk)
	v.SetDefault("max_position_size", defaults.MaxPositionSize)
	v.SetDefault("max_daily_trades", defaults.MaxDailyTrades)
	v.SetDefault("max_daily_loss", defaults.MaxDailyLoss)
	v.SetDefault("emergency_stop_loss", defaults.EmergencyStopLoss)
	v.SetDefault("min_confidence", defaults.MinConfidence)
	v.SetDefault("max_similar_assets", defaults.MaxSimilarAssets)
	v.SetDefault("enable_crypto", defaults.EnableCrypto)
	v.SetDefault("enable_short_selling", defaults.EnableShortSelling)
	v.SetDefault("trading_hours_only", defaults.TradingHoursOnly)
	v.SetDefault("close_on_stop", defaults.CloseOnStop)
	v.SetDefault("rebalance_frequency", defaults.RebalanceFrequency)
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.enabled", defaults.Server.Enabled)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.data_dir", defaults.Store.DataDir)

	v.SetEnvPrefix("AUTOTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
