// Package config loads the control plane's layered configuration: a
// built-in default document, an optional operator-local document merged
// over it, and a separate hard-limits document that is never overridable
// at runtime. Soft limits are validated against hard limits at load time.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"tradeguard/errs"
)

// RiskConfig holds the operator-tunable (soft) risk bounds.
type RiskConfig struct {
	MaxPortfolioValue float64 `mapstructure:"max_portfolio_value"`
	MaxPositionSize   float64 `mapstructure:"max_position_size"`
	MaxDailyLoss      float64 `mapstructure:"max_daily_loss"`
	MaxOpenPositions  int     `mapstructure:"max_open_positions"`
}

// RateLimitConfig sizes the three broker-call token buckets.
type RateLimitConfig struct {
	OrdersPerSecond     int `mapstructure:"orders_per_second"`
	LiveDataPerSecond   int `mapstructure:"live_data_per_second"`
	NonTradingPerSecond int `mapstructure:"non_trading_per_second"`
}

// APIConfig groups broker-facing network settings.
type APIConfig struct {
	RateLimits RateLimitConfig `mapstructure:"rate_limits"`
}

// RecoveryProtocol gates kill-switch deactivation.
type RecoveryProtocol struct {
	CooldownPeriodMinutes int    `mapstructure:"cooldown_period_minutes"`
	ApprovalCode          string `mapstructure:"approval_code"`
}

// KillSwitchConfig tunes the condition monitor's thresholds.
type KillSwitchConfig struct {
	ConsecutiveLossThreshold int              `mapstructure:"consecutive_loss_threshold"`
	APIErrorRateThreshold    float64          `mapstructure:"api_error_rate_threshold"`
	NetworkTimeoutSeconds    int              `mapstructure:"network_timeout_seconds"`
	CheckIntervalSeconds     int              `mapstructure:"check_interval_seconds"`
	RecoveryProtocol         RecoveryProtocol `mapstructure:"recovery_protocol"`
}

// GTTConfig tunes the background GTT monitor.
type GTTConfig struct {
	MonitorIntervalSeconds int `mapstructure:"monitor_interval_seconds"`
}

// TradingConfig selects paper vs live execution.
type TradingConfig struct {
	Mode string `mapstructure:"mode"` // paper | live
}

// DatabaseConfig configures the GTT/order persistence layer.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite | postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Config is the soft, operator-tunable configuration tree. Maps directly
// onto the merged default+local YAML documents.
type Config struct {
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	API        APIConfig        `mapstructure:"api"`
	KillSwitch KillSwitchConfig `mapstructure:"kill_switch"`
	GTT        GTTConfig        `mapstructure:"gtt"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

// HardLimits is the privileged, immutable-at-runtime bound document. It is
// loaded into its own viper instance and never merged into Config.
type HardLimits struct {
	MaxSingleOrderValue float64  `mapstructure:"MAX_SINGLE_ORDER_VALUE"`
	MaxDailyOrders      int      `mapstructure:"MAX_DAILY_ORDERS"`
	MaxPortfolioValue   float64  `mapstructure:"MAX_PORTFOLIO_VALUE"`
	MaxDailyLossHard    float64  `mapstructure:"MAX_DAILY_LOSS_HARD"`
	ForbiddenSegments   []string `mapstructure:"FORBIDDEN_SEGMENTS"`
	ForbiddenProducts   []string `mapstructure:"FORBIDDEN_PRODUCTS"`
	AllowedExchanges    []string `mapstructure:"ALLOWED_EXCHANGES"`
}

// defaultConfigYAML is the built-in default document, merged first.
const defaultConfigYAML = `
trading:
  mode: paper
risk:
  max_portfolio_value: 50000
  max_position_size: 5000
  max_daily_loss: 2000
  max_open_positions: 3
api:
  rate_limits:
    orders_per_second: 10
    live_data_per_second: 8
    non_trading_per_second: 15
kill_switch:
  consecutive_loss_threshold: 5
  api_error_rate_threshold: 0.30
  network_timeout_seconds: 60
  check_interval_seconds: 30
  recovery_protocol:
    cooldown_period_minutes: 60
    approval_code: RESUME_TRADING_2024
gtt:
  monitor_interval_seconds: 30
database:
  type: sqlite
  path: data/gtt.db
`

// defaultHardLimitsYAML is the built-in hard-limits document.
const defaultHardLimitsYAML = `
MAX_SINGLE_ORDER_VALUE: 10000
MAX_DAILY_ORDERS: 15
MAX_PORTFOLIO_VALUE: 50000
MAX_DAILY_LOSS_HARD: 5000
FORBIDDEN_SEGMENTS: []
FORBIDDEN_PRODUCTS: []
ALLOWED_EXCHANGES: [NSE, BSE]
`

// Load merges the built-in default document with an optional operator-local
// YAML file (path may be empty), loads the hard-limits document from
// hardLimitsPath (or the built-in default if empty), validates soft ≤ hard,
// and enforces FORCE_PAPER_MODE.
func Load(localPath, hardLimitsPath string) (*Config, *HardLimits, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(defaultConfigYAML)); err != nil {
		return nil, nil, errs.NewConfigError("parse default config: %v", err)
	}

	if localPath != "" {
		if _, err := os.Stat(localPath); err == nil {
			local := viper.New()
			local.SetConfigFile(localPath)
			if err := local.ReadInConfig(); err != nil {
				return nil, nil, errs.NewConfigError("read local config %s: %v", localPath, err)
			}
			for _, key := range local.AllKeys() {
				v.Set(key, local.Get(key))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, errs.NewConfigError("unmarshal config: %v", err)
	}

	hv := viper.New()
	hv.SetConfigType("yaml")
	if hardLimitsPath != "" {
		hv.SetConfigFile(hardLimitsPath)
		if err := hv.ReadInConfig(); err != nil {
			return nil, nil, errs.NewConfigError("read hard limits %s: %v", hardLimitsPath, err)
		}
	} else {
		if err := hv.ReadConfig(strings.NewReader(defaultHardLimitsYAML)); err != nil {
			return nil, nil, errs.NewConfigError("parse default hard limits: %v", err)
		}
	}

	var hard HardLimits
	if err := hv.Unmarshal(&hard); err != nil {
		return nil, nil, errs.NewConfigError("unmarshal hard limits: %v", err)
	}

	if err := validate(&cfg, &hard); err != nil {
		return nil, nil, err
	}

	return &cfg, &hard, nil
}

// validate enforces soft ≤ hard componentwise and the FORCE_PAPER_MODE gate.
func validate(cfg *Config, hard *HardLimits) error {
	if cfg.Risk.MaxPortfolioValue > hard.MaxPortfolioValue {
		return errs.NewConfigError("risk.max_portfolio_value (%v) exceeds MAX_PORTFOLIO_VALUE (%v)",
			cfg.Risk.MaxPortfolioValue, hard.MaxPortfolioValue)
	}
	if cfg.Risk.MaxPositionSize > hard.MaxSingleOrderValue {
		return errs.NewConfigError("risk.max_position_size (%v) exceeds MAX_SINGLE_ORDER_VALUE (%v)",
			cfg.Risk.MaxPositionSize, hard.MaxSingleOrderValue)
	}
	if cfg.Risk.MaxDailyLoss > hard.MaxDailyLossHard {
		return errs.NewConfigError("risk.max_daily_loss (%v) exceeds MAX_DAILY_LOSS_HARD (%v)",
			cfg.Risk.MaxDailyLoss, hard.MaxDailyLossHard)
	}

	forcePaper := true
	if v := os.Getenv("FORCE_PAPER_MODE"); v != "" {
		forcePaper = v == "1" || strings.EqualFold(v, "true")
	}
	if forcePaper && strings.EqualFold(cfg.Trading.Mode, "live") {
		return errs.NewConfigError("trading.mode=live is forbidden while FORCE_PAPER_MODE is set")
	}

	return nil
}

// IsPaperMode reports whether the broker client must short-circuit network
// calls.
func (c *Config) IsPaperMode() bool {
	return !strings.EqualFold(c.Trading.Mode, "live")
}
